// Package model はドメインモデルを定義する。
package model

import "time"

// User はカストディアル鍵を持つウォレット利用ユーザーを表す。
// PrivateKeyは保存用にエンコード済みの鍵素材であり、生成時に1回だけ設定される。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	PublicKey    string // base58アドレス
	PrivateKey   string // custody.Codecでエンコードされた秘密鍵素材
	CreatedAt    time.Time
}
