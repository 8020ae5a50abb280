// Package auth はパスワード認証とセッショントークンの発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/solify/internal/custody"
	"github.com/hitoshi/solify/internal/model"
	"github.com/hitoshi/solify/internal/repository"
)

// SigninResult はサインイン成功時の結果。
type SigninResult struct {
	Token     string
	PublicKey string
}

// Service はサインアップ・サインインのビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	hasher   *PasswordHasher
	tokens   *TokenService
	codec    *custody.Codec
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	hasher *PasswordHasher,
	tokens *TokenService,
	codec *custody.Codec,
) *Service {
	return &Service{
		userRepo: userRepo,
		hasher:   hasher,
		tokens:   tokens,
		codec:    codec,
	}
}

// Signup はユーザーを登録し、カストディアル鍵ペアを生成して公開アドレスを返す。
// 同一ユーザー名が既に存在する場合はConflictのAPIErrorを返す。
func (s *Service) Signup(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", model.NewMissingCredentialsError()
	}
	if len(password) > MaxPasswordBytes {
		return "", model.NewPasswordTooLongError(MaxPasswordBytes)
	}

	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return "", model.NewUserExistsError()
	}

	kp, err := custody.Generate()
	if err != nil {
		return "", err
	}
	encodedKey, err := s.codec.Encode(kp)
	if err != nil {
		return "", fmt.Errorf("failed to encode custodial key: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", err
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		PublicKey:    kp.Address(),
		PrivateKey:   encodedKey,
		CreatedAt:    time.Now(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return "", model.NewUserExistsError()
		}
		return "", fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created",
		slog.String("username", username),
		slog.String("public_key", user.PublicKey),
		slog.Bool("key_sealed", s.codec.Sealed()),
	)
	return user.PublicKey, nil
}

// Signin はパスワードを照合し、セッショントークンと公開アドレスを返す。
func (s *Service) Signin(ctx context.Context, username, password string) (*SigninResult, error) {
	if username == "" || password == "" {
		return nil, model.NewMissingCredentialsError()
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewSigninUserNotFoundError()
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, model.NewIncorrectPasswordError()
	}

	token, err := s.tokens.Issue(user.Username)
	if err != nil {
		if errors.Is(err, ErrMissingSigningKey) {
			slog.Error("JWT_SECRET is not configured; signin refused")
			return nil, model.NewMissingSigningKeyError()
		}
		return nil, err
	}

	slog.Info("user signed in", slog.String("username", user.Username))
	return &SigninResult{Token: token, PublicKey: user.PublicKey}, nil
}

// Authenticate はトークンを検証してユーザー名を返す。
// 検証失敗はすべてUnauthorizedのAPIErrorとする。
func (s *Service) Authenticate(token string) (string, error) {
	username, err := s.tokens.Validate(token)
	if err != nil {
		return "", model.NewUnauthorizedError()
	}
	return username, nil
}
