package grpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/server/records"
	"github.com/dmitrijs2005/fieldsync/internal/server/users"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

func field(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func payload(req *structpb.Struct) (json.RawMessage, error) {
	p := req.GetFields()[common.FieldPayload].GetStructValue()
	if p == nil {
		return nil, status.Error(codes.InvalidArgument, "payload must be an object")
	}
	b, err := protojson.Marshal(p)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return b, nil
}

func (s *GRPCServer) recordError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, records.ErrInvalid):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, records.ErrNotFound):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	s.logger.Error(ctx, "record operation failed", "error", err)
	return status.Error(codes.Internal, "internal error")
}

func (s *GRPCServer) Insert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := payload(req)
	if err != nil {
		return nil, err
	}
	target := field(req, common.FieldTarget)
	if err := s.records.Insert(ctx, target, p); err != nil {
		return nil, s.recordError(ctx, err)
	}
	s.logger.Debug(ctx, "record inserted", "target", target)
	return &structpb.Struct{}, nil
}

func (s *GRPCServer) Update(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := payload(req)
	if err != nil {
		return nil, err
	}
	target, id := field(req, common.FieldTarget), field(req, common.FieldID)
	if err := s.records.Update(ctx, target, id, p); err != nil {
		return nil, s.recordError(ctx, err)
	}
	s.logger.Debug(ctx, "record updated", "target", target, "id", id)
	return &structpb.Struct{}, nil
}

func (s *GRPCServer) Delete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	target, id := field(req, common.FieldTarget), field(req, common.FieldID)
	if err := s.records.Delete(ctx, target, id); err != nil {
		return nil, s.recordError(ctx, err)
	}
	s.logger.Debug(ctx, "record deleted", "target", target, "id", id)
	return &structpb.Struct{}, nil
}

func (s *GRPCServer) Fetch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	data, err := s.records.Fetch(ctx, field(req, common.FieldQuery))
	if err != nil {
		return nil, s.recordError(ctx, err)
	}

	v := &structpb.Value{}
	if err := protojson.Unmarshal(data, v); err != nil {
		return nil, s.recordError(ctx, err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{common.FieldData: v}}, nil
}

func (s *GRPCServer) authError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, users.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, common.ErrRefreshTokenExpired), errors.Is(err, common.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, users.ErrNotFound):
		return status.Error(codes.Unauthenticated, "unknown user")
	}
	s.logger.Error(ctx, "auth operation failed", "error", err)
	return status.Error(codes.Internal, "internal error")
}

func tokenPair(p *users.TokenPair) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		common.FieldAccessToken:  structpb.NewStringValue(p.AccessToken),
		common.FieldRefreshToken: structpb.NewStringValue(p.RefreshToken),
	}}
}

func (s *GRPCServer) SignIn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	email := field(req, common.FieldEmail)
	pair, err := s.users.Login(ctx, email, field(req, common.FieldPassword))
	if err != nil {
		s.logger.Info(ctx, "sign-in refused", "email", email)
		return nil, s.authError(ctx, err)
	}
	s.logger.Info(ctx, "signed in", "email", email)
	return tokenPair(pair), nil
}

func (s *GRPCServer) GetSession(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	u, err := s.users.Session(ctx, userID)
	if err != nil {
		return nil, s.authError(ctx, err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		common.FieldUserID: structpb.NewStringValue(u.ID),
		common.FieldEmail:  structpb.NewStringValue(u.Email),
		common.FieldRole:   structpb.NewStringValue(u.Role),
	}}, nil
}

func (s *GRPCServer) RefreshToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pair, err := s.users.RefreshToken(ctx, field(req, common.FieldRefreshToken))
	if err != nil {
		return nil, s.authError(ctx, err)
	}
	return tokenPair(pair), nil
}

func (s *GRPCServer) SignOut(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.users.Logout(ctx, field(req, common.FieldRefreshToken)); err != nil {
		return nil, s.authError(ctx, err)
	}
	return &structpb.Struct{}, nil
}
