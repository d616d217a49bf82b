package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultCallTimeout  = 10 * time.Second
	defaultProbeTimeout = 3 * time.Second
)

// invoker is the part of *grpc.ClientConn the client calls through.
type invoker interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

// GRPCClient implements RemoteStore, AuthClient and netmon.Prober over one
// gRPC connection.
type GRPCClient struct {
	endpointURL  string
	conn         *grpc.ClientConn
	cc           invoker
	callTimeout  time.Duration
	probeTimeout time.Duration

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	if token != "" {
		md.Set(common.AccessTokenHeaderName, token)
	}

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) tokens() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken, s.refreshToken
}

func (s *GRPCClient) setTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = access
	s.refreshToken = refresh
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if method == common.MethodSignIn || method == common.MethodRefreshToken {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	accessToken, refreshToken := s.tokens()
	err := invoker(withAccessToken(ctx, accessToken), method, req, reply, cc, opts...)
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated || st.Message() != common.ErrTokenExpired.Error() {
		return err
	}
	if refreshToken == "" {
		return err
	}

	accessToken, err = s.refresh(ctx, refreshToken)
	if err != nil {
		return err
	}

	// tokens refreshed, retry once with the new access token
	return invoker(withAccessToken(ctx, accessToken), method, req, reply, cc, opts...)
}

func (s *GRPCClient) refresh(ctx context.Context, refreshToken string) (string, error) {
	resp := &structpb.Struct{}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		common.FieldRefreshToken: structpb.NewStringValue(refreshToken),
	}}
	if err := s.cc.Invoke(ctx, common.MethodRefreshToken, req, resp); err != nil {
		return "", err
	}

	access := stringField(resp, common.FieldAccessToken)
	refresh := stringField(resp, common.FieldRefreshToken)
	s.setTokens(access, refresh)
	return access, nil
}

// NewFieldSyncClient creates a client for the server at endpointURL. Extra
// dial options are appended to the defaults (insecure transport and the
// access token interceptor).
func NewFieldSyncClient(endpointURL string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{
		endpointURL:  endpointURL,
		callTimeout:  defaultCallTimeout,
		probeTimeout: defaultProbeTimeout,
	}
	if err := c.InitGRPCClient(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient(opts ...grpc.DialOption) error {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(s.endpointURL, dialOpts...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.cc = conn
	return nil
}

func (s *GRPCClient) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *GRPCClient) call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := s.cc.Invoke(ctx, method, req, resp); err != nil {
		return nil, s.mapError(err)
	}
	return resp, nil
}

func payloadStruct(payload json.RawMessage) (*structpb.Struct, error) {
	p := &structpb.Struct{}
	if err := protojson.Unmarshal(payload, p); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object: %v", ErrRejected, err)
	}
	return p, nil
}

func (s *GRPCClient) Insert(ctx context.Context, target string, payload json.RawMessage) error {
	p, err := payloadStruct(payload)
	if err != nil {
		return err
	}

	_, err = s.call(ctx, common.MethodInsert, &structpb.Struct{Fields: map[string]*structpb.Value{
		common.FieldTarget:  structpb.NewStringValue(target),
		common.FieldPayload: structpb.NewStructValue(p),
	}})
	return err
}

func (s *GRPCClient) Update(ctx context.Context, target, id string, payload json.RawMessage) error {
	p, err := payloadStruct(payload)
	if err != nil {
		return err
	}

	_, err = s.call(ctx, common.MethodUpdate, &structpb.Struct{Fields: map[string]*structpb.Value{
		common.FieldTarget:  structpb.NewStringValue(target),
		common.FieldID:      structpb.NewStringValue(id),
		common.FieldPayload: structpb.NewStructValue(p),
	}})
	return err
}

func (s *GRPCClient) Delete(ctx context.Context, target, id string) error {
	_, err := s.call(ctx, common.MethodDelete, &structpb.Struct{Fields: map[string]*structpb.Value{
		common.FieldTarget: structpb.NewStringValue(target),
		common.FieldID:     structpb.NewStringValue(id),
	}})
	return err
}

// Fetch runs query on the server and returns the "data" field as JSON.
func (s *GRPCClient) Fetch(ctx context.Context, query string) (json.RawMessage, error) {
	resp, err := s.call(ctx, common.MethodFetch, &structpb.Struct{Fields: map[string]*structpb.Value{
		common.FieldQuery: structpb.NewStringValue(query),
	}})
	if err != nil {
		return nil, err
	}

	data, ok := resp.GetFields()[common.FieldData]
	if !ok {
		return json.RawMessage("null"), nil
	}

	b, err := protojson.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fetch result: %w", err)
	}
	return b, nil
}

func (s *GRPCClient) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	resp, err := s.call(ctx, common.MethodSignIn, &structpb.Struct{Fields: map[string]*structpb.Value{
		common.FieldEmail:    structpb.NewStringValue(email),
		common.FieldPassword: structpb.NewStringValue(password),
	}})
	if err != nil {
		return nil, err
	}

	access := stringField(resp, common.FieldAccessToken)
	refresh := stringField(resp, common.FieldRefreshToken)
	s.setTokens(access, refresh)

	session, err := sessionFromToken(access, refresh)
	if err != nil {
		return nil, err
	}
	if session.Email == "" {
		session.Email = email
	}
	return session, nil
}

func (s *GRPCClient) CurrentSession(ctx context.Context) (*models.Session, error) {
	if access, _ := s.tokens(); access == "" {
		return nil, nil
	}

	resp, err := s.call(ctx, common.MethodGetSession, &structpb.Struct{})
	if err != nil {
		return nil, err
	}

	access, refresh := s.tokens()
	session, err := sessionFromToken(access, refresh)
	if err != nil {
		return nil, err
	}

	session.UserID = stringField(resp, common.FieldUserID)
	session.Email = stringField(resp, common.FieldEmail)
	if role := stringField(resp, common.FieldRole); role != "" {
		session.Role = role
	}
	return session, nil
}

func (s *GRPCClient) Restore(session *models.Session) {
	if session == nil {
		s.setTokens("", "")
		return
	}
	s.setTokens(session.AccessToken, session.RefreshToken)
}

// SignOut revokes the session on the server. Local tokens are dropped even
// when the call fails.
func (s *GRPCClient) SignOut(ctx context.Context) error {
	_, refresh := s.tokens()
	defer s.setTokens("", "")

	_, err := s.call(ctx, common.MethodSignOut, &structpb.Struct{Fields: map[string]*structpb.Value{
		common.FieldRefreshToken: structpb.NewStringValue(refresh),
	}})
	return err
}

// Probe checks reachability with the standard health service. A server that
// answers with any status other than Unavailable or DeadlineExceeded is
// reachable; a serving check is required for online.
func (s *GRPCClient) Probe(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	resp := &healthpb.HealthCheckResponse{}
	err := s.cc.Invoke(ctx, healthpb.Health_Check_FullMethodName, &healthpb.HealthCheckRequest{}, resp)
	if err == nil {
		return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return false, err
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return false, nil
	case codes.Canceled:
		return false, err
	default:
		return true, nil
	}
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.InvalidArgument, codes.FailedPrecondition, codes.AlreadyExists, codes.NotFound, codes.OutOfRange:
		return fmt.Errorf("%w: %s", ErrRejected, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

// sessionFromToken reads identity claims from an access token. The signature
// is not checked here; the server verifies tokens on every call.
func sessionFromToken(access, refresh string) (*models.Session, error) {
	claims := &common.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}

	session := &models.Session{
		UserID:       claims.Subject,
		Email:        claims.Email,
		Role:         claims.Role,
		SavedAt:      time.Now().UTC(),
		AccessToken:  access,
		RefreshToken: refresh,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}
