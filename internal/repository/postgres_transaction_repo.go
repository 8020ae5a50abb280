package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/solify/internal/model"
)

// PostgresTransactionRepo はPostgreSQLを使用したトランザクション履歴リポジトリ。
type PostgresTransactionRepo struct {
	db *sql.DB
}

// NewPostgresTransactionRepo はPostgresTransactionRepoを生成する。
func NewPostgresTransactionRepo(db *sql.DB) *PostgresTransactionRepo {
	return &PostgresTransactionRepo{db: db}
}

// Create は送信済みトランザクションの履歴を作成する。
// 同一署名の履歴が既に存在する場合は何もしない。
func (r *PostgresTransactionRepo) Create(ctx context.Context, record *model.TransactionRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (id, username, signature, status, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (signature) DO NOTHING`,
		record.ID, record.Username, record.Signature, string(record.Status),
		record.ErrorMessage, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// ListByUsername はユーザーの履歴をcreated_at降順で最大limit件返す。
func (r *PostgresTransactionRepo) ListByUsername(ctx context.Context, username string, limit int) ([]*model.TransactionRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, signature, status, error_message, created_at, updated_at
		 FROM transactions
		 WHERE username = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		username, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ListPending は確定待ちの履歴をcreated_at昇順で最大limit件返す。
func (r *PostgresTransactionRepo) ListPending(ctx context.Context, limit int) ([]*model.TransactionRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, signature, status, error_message, created_at, updated_at
		 FROM transactions
		 WHERE status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// UpdateStatus は署名で特定した確定待ちの履歴の状態を更新する。
func (r *PostgresTransactionRepo) UpdateStatus(ctx context.Context, signature string, status model.TxStatus, errorMessage string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transactions
		 SET status = $1, error_message = $2, updated_at = now()
		 WHERE signature = $3 AND status = 'pending'`,
		string(status), errorMessage, signature,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return nil
}

func scanTransactions(rows *sql.Rows) ([]*model.TransactionRecord, error) {
	var records []*model.TransactionRecord
	for rows.Next() {
		rec := &model.TransactionRecord{}
		var status string
		if err := rows.Scan(&rec.ID, &rec.Username, &rec.Signature, &status,
			&rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		rec.Status = model.TxStatus(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return records, nil
}

// compile-time interface check
var _ TransactionRepository = (*PostgresTransactionRepo)(nil)
