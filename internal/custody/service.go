package custody

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/solify/internal/model"
)

// UserFinder はユーザー名でユーザーを取得するインターフェース。
type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
}

// Service はユーザー名からカストディアル鍵ペアを読み出す。
type Service struct {
	users UserFinder
	codec *Codec
}

// NewService はServiceを生成する。
func NewService(users UserFinder, codec *Codec) *Service {
	return &Service{users: users, codec: codec}
}

// Load は指定ユーザーの鍵ペアを読み出す。
// ユーザーが存在しない場合はNotFoundのAPIErrorを返す。
// 保存された鍵素材が壊れている場合はErrKeyDecodeをラップしたエラーを返す。
func (s *Service) Load(ctx context.Context, username string) (*Keypair, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	kp, err := s.codec.Decode(user.PrivateKey, user.PublicKey)
	if err != nil {
		slog.Error("custodial key could not be decoded",
			slog.String("username", username),
			slog.String("public_key", user.PublicKey),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return kp, nil
}
