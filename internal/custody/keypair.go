// Package custody はユーザーごとのカストディアル鍵の生成・保存形式・読み出しを提供する。
package custody

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Keypair はカストディアルなed25519鍵ペアを表す。
type Keypair struct {
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey
}

// Generate は新しいランダムな鍵ペアを生成する。
func Generate() (*Keypair, error) {
	priv, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return &Keypair{PrivateKey: priv, PublicKey: priv.PublicKey()}, nil
}

// Address はbase58エンコードされた公開アドレスを返す。
func (k *Keypair) Address() string {
	return k.PublicKey.String()
}
