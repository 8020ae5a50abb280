// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/solify/internal/model"
)

// ErrUserExists は同一ユーザー名のユーザーが既に存在する場合に返される。
var ErrUserExists = errors.New("user already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。
	// 同一ユーザー名が既に存在する場合はErrUserExistsを返す。
	// 存在確認と挿入は単一のステートメントで行い、同時登録の競合を起こさない。
	Create(ctx context.Context, user *model.User) error
}

// TransactionRepository はリレーしたトランザクション履歴の永続化インターフェース。
type TransactionRepository interface {
	// Create は送信済みトランザクションの履歴を作成する。
	Create(ctx context.Context, record *model.TransactionRecord) error

	// ListByUsername はユーザーの履歴をcreated_at降順で最大limit件返す。
	ListByUsername(ctx context.Context, username string, limit int) ([]*model.TransactionRecord, error)

	// ListPending は確定待ちの履歴をcreated_at昇順で最大limit件返す。
	ListPending(ctx context.Context, limit int) ([]*model.TransactionRecord, error)

	// UpdateStatus は署名で特定した履歴の状態を更新する。
	// 既に終端状態の履歴は更新しない。
	UpdateStatus(ctx context.Context, signature string, status model.TxStatus, errorMessage string) error
}
