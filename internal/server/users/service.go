package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
	"github.com/dmitrijs2005/fieldsync/internal/ids"
	"github.com/dmitrijs2005/fieldsync/internal/server/auth"
	"github.com/dmitrijs2005/fieldsync/internal/server/config"
	"github.com/dmitrijs2005/fieldsync/internal/server/refreshtokens"
	"github.com/golang-jwt/jwt/v5"
)

type Service struct {
	repo                         Repository
	refreshTokenRepo             refreshtokens.Repository
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	dummySalt                    []byte
	dummyVerifier                []byte
}

func NewService(repo Repository, refreshTokenRepo refreshtokens.Repository, cfg *config.Config) *Service {
	salt := cryptox.NewSalt()
	return &Service{
		repo:                         repo,
		refreshTokenRepo:             refreshTokenRepo,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		dummySalt:                    salt,
		dummyVerifier:                cryptox.HashPassword(cryptox.RandomBytes(16), salt),
	}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register stores a new user with an argon2 verifier of password.
func (s *Service) Register(ctx context.Context, email, password, role string) (*User, error) {
	salt := cryptox.NewSalt()
	user := &User{
		ID:        ids.New(),
		Email:     normalize(email),
		Role:      role,
		Salt:      salt,
		Verifier:  cryptox.HashPassword([]byte(password), salt),
		CreatedAt: time.Now().UTC(),
	}

	user, err := s.repo.Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return user, nil
}

// Login checks the password and issues a token pair. Unknown users cost the
// same hashing work as known ones.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.repo.GetUserByLogin(ctx, normalize(email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if user == nil {
		cryptox.VerifyPassword([]byte(password), s.dummySalt, s.dummyVerifier)
		return nil, ErrUnauthorized
	}
	if !cryptox.VerifyPassword([]byte(password), user.Salt, user.Verifier) {
		return nil, ErrUnauthorized
	}

	return s.issue(user)
}

func (s *Service) issue(user *User) (*TokenPair, error) {
	base := common.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID},
		Email:            user.Email,
		Role:             user.Role,
	}

	accessToken, err := auth.GenerateToken(base, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, err
	}

	refresh := base
	refresh.Refresh = true
	refreshToken, err := auth.GenerateToken(refresh, s.jwtSecret, s.refreshTokenValidityDuration)
	if err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *Service) parseRefresh(ctx context.Context, refreshToken string) (*common.Claims, error) {
	claims, err := auth.ParseToken(refreshToken, s.jwtSecret)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, common.ErrRefreshTokenExpired
		}
		return nil, err
	}
	if !claims.Refresh {
		return nil, common.ErrInvalidToken
	}

	revoked, err := s.refreshTokenRepo.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

// RefreshToken exchanges a valid refresh token for a new pair. The old
// refresh token stays valid until it expires or the user signs out, so a
// device holding an older copy can still resume.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.parseRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, err
	}
	return s.issue(user)
}

// Logout revokes refreshToken. Invalid or expired tokens are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.parseRefresh(ctx, refreshToken)
	if err != nil {
		return nil
	}
	return s.refreshTokenRepo.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

// Session returns the user an access token belongs to.
func (s *Service) Session(ctx context.Context, userID string) (*User, error) {
	return s.repo.GetByID(ctx, userID)
}
