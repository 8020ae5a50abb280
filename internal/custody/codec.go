package custody

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ErrKeyDecode は保存された秘密鍵素材を有効な鍵ペアに復元できない場合に返される。
var ErrKeyDecode = errors.New("stored key material could not be decoded")

// sealedPrefix はAES-GCMで封緘された鍵素材を示す接頭辞。
const sealedPrefix = "v1:"

// Codec は秘密鍵素材を保存用の文字列に変換する。
// 保存形式は64バイトの秘密鍵のbase64（StdEncoding）。
// 暗号化鍵が設定されている場合は "v1:" + base64(nonce || AES-256-GCM暗号文) とする。
type Codec struct {
	aead cipher.AEAD
}

// NewCodec はCodecを生成する。
// encryptionKeyが空の場合は封緘しない。指定する場合は32バイトでなければならない。
func NewCodec(encryptionKey []byte) (*Codec, error) {
	if len(encryptionKey) == 0 {
		return &Codec{}, nil
	}
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(encryptionKey))
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Sealed は保存時に暗号化するかどうかを返す。
func (c *Codec) Sealed() bool {
	return c.aead != nil
}

// Encode は鍵ペアを保存用の文字列に変換する。
// 返却前に復元して公開鍵が一致することを確認し、一致しない場合はエラーを返す。
func (c *Codec) Encode(kp *Keypair) (string, error) {
	if kp == nil || len(kp.PrivateKey) != ed25519.PrivateKeySize {
		return "", errors.New("keypair is incomplete")
	}

	var encoded string
	if c.aead == nil {
		encoded = base64.StdEncoding.EncodeToString(kp.PrivateKey)
	} else {
		nonce := make([]byte, c.aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return "", fmt.Errorf("failed to generate nonce: %w", err)
		}
		sealed := c.aead.Seal(nonce, nonce, kp.PrivateKey, nil)
		encoded = sealedPrefix + base64.StdEncoding.EncodeToString(sealed)
	}

	if _, err := c.Decode(encoded, kp.Address()); err != nil {
		return "", fmt.Errorf("encoded key failed self-check: %w", err)
	}
	return encoded, nil
}

// Decode は保存用の文字列から鍵ペアを復元する。
// expectedAddressが空でない場合は導出した公開鍵との一致を検証する。
// 復元できない場合はErrKeyDecodeをラップしたエラーを返す。
func (c *Codec) Decode(encoded, expectedAddress string) (*Keypair, error) {
	raw, err := c.open(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: key length %d", ErrKeyDecode, len(raw))
	}

	// 秘密鍵の後半32バイトは公開鍵であり、シードから導出した鍵と一致しなければならない
	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(derived, raw) {
		return nil, fmt.Errorf("%w: key material is inconsistent", ErrKeyDecode)
	}

	priv := solana.PrivateKey(raw)
	kp := &Keypair{PrivateKey: priv, PublicKey: priv.PublicKey()}
	if expectedAddress != "" && kp.Address() != expectedAddress {
		return nil, fmt.Errorf("%w: public key does not match stored address", ErrKeyDecode)
	}
	return kp, nil
}

func (c *Codec) open(encoded string) ([]byte, error) {
	if !strings.HasPrefix(encoded, sealedPrefix) {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64", ErrKeyDecode)
		}
		return raw, nil
	}

	if c.aead == nil {
		return nil, fmt.Errorf("%w: sealed key material but no encryption key configured", ErrKeyDecode)
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, sealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", ErrKeyDecode)
	}
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("%w: sealed key material too short", ErrKeyDecode)
	}
	raw, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrKeyDecode)
	}
	return raw, nil
}
