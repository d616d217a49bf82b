// Package common holds the wire contract shared by the fieldsync client and
// server: metadata keys, RPC method names and the field names of the
// google.protobuf.Struct messages they exchange.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

const (
	RecordServiceName = "fieldsync.v1.RecordService"
	AuthServiceName   = "fieldsync.v1.AuthService"
)

// Full gRPC method names.
const (
	MethodInsert = "/" + RecordServiceName + "/Insert"
	MethodUpdate = "/" + RecordServiceName + "/Update"
	MethodDelete = "/" + RecordServiceName + "/Delete"
	MethodFetch  = "/" + RecordServiceName + "/Fetch"

	MethodSignIn       = "/" + AuthServiceName + "/SignIn"
	MethodGetSession   = "/" + AuthServiceName + "/GetSession"
	MethodRefreshToken = "/" + AuthServiceName + "/RefreshToken"
	MethodSignOut      = "/" + AuthServiceName + "/SignOut"
)

// Struct field names.
const (
	FieldTarget       = "target"
	FieldID           = "id"
	FieldPayload      = "payload"
	FieldQuery        = "query"
	FieldData         = "data"
	FieldEmail        = "email"
	FieldPassword     = "password"
	FieldUserID       = "user_id"
	FieldRole         = "role"
	FieldAccessToken  = "access_token"
	FieldRefreshToken = "refresh_token"
)
