package model

import "time"

// TxStatus はリレーしたトランザクションのネットワーク上の状態を表す。
type TxStatus string

const (
	// TxStatusPending は送信済みで確定を待っている状態。
	TxStatusPending TxStatus = "pending"
	// TxStatusConfirmed はクラスタで確定した状態。
	TxStatusConfirmed TxStatus = "confirmed"
	// TxStatusFailed はバリデータに拒否された、または実行が失敗した状態。
	TxStatusFailed TxStatus = "failed"
)

// IsTerminal は状態がこれ以上変化しない場合にtrueを返す。
func (s TxStatus) IsTerminal() bool {
	return s == TxStatusConfirmed || s == TxStatusFailed
}

// TransactionRecord はカストディアル鍵で署名・送信したトランザクションの履歴を表す。
type TransactionRecord struct {
	ID           string
	Username     string
	Signature    string // base58のトランザクション署名（ネットワーク上のID）
	Status       TxStatus
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
