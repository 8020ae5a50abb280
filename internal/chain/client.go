// Package chain はSolana JSON-RPCエンドポイントへのアクセスを提供する。
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/hitoshi/solify/internal/model"
)

// SignatureStatus はトランザクション署名のクラスタ上の状態。
type SignatureStatus struct {
	Found  bool
	Status model.TxStatus
	Err    string // 実行失敗時のネットワークのエラー内容
}

// Client はsolana-goのRPCクライアントをラップする。
// 1プロセスで1つ生成し、全リクエストで共有する。
type Client struct {
	rpc *rpc.Client
}

// NewClient は指定エンドポイントのClientを生成する。
func NewClient(endpoint string) *Client {
	return &Client{rpc: rpc.New(endpoint)}
}

// Close は下位のHTTP接続を解放する。
func (c *Client) Close() error {
	return c.rpc.Close()
}

// LatestBlockhash はfinalizedコミットメントの最新ブロックハッシュを返す。
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, errors.New("getLatestBlockhash: empty response")
	}
	return out.Value.Blockhash, nil
}

// SendTransaction は署名済みトランザクションを1回だけ送信する。プリフライトは有効。
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sendTransaction: %w", err)
	}
	return sig, nil
}

// SignatureStatuses は署名の状態を引数と同じ順序で返す。
func (c *Client) SignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]SignatureStatus, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sigs...)
	if err != nil {
		return nil, fmt.Errorf("getSignatureStatuses: %w", err)
	}

	statuses := make([]SignatureStatus, len(sigs))
	for i := range sigs {
		statuses[i] = SignatureStatus{Status: model.TxStatusPending}
		if out == nil || i >= len(out.Value) || out.Value[i] == nil {
			continue
		}
		v := out.Value[i]
		statuses[i].Found = true
		switch {
		case v.Err != nil:
			statuses[i].Status = model.TxStatusFailed
			statuses[i].Err = describe(v.Err)
		case v.ConfirmationStatus == rpc.ConfirmationStatusConfirmed,
			v.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
			statuses[i].Status = model.TxStatusConfirmed
		}
	}
	return statuses, nil
}

// Balance はアカウントの残高をlamportsで返す。
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getBalance: %w", err)
	}
	if out == nil {
		return 0, errors.New("getBalance: empty response")
	}
	return out.Value, nil
}

// RequestAirdrop はフォーセットにlamportsの付与を要求する。
func (c *Client) RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error) {
	sig, err := c.rpc.RequestAirdrop(ctx, account, lamports, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("requestAirdrop: %w", err)
	}
	return sig, nil
}

// Health はRPCノードの健全性を確認する。
func (c *Client) Health(ctx context.Context) error {
	status, err := c.rpc.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("getHealth: %w", err)
	}
	if status != rpc.HealthOk {
		return fmt.Errorf("getHealth: node reports %q", status)
	}
	return nil
}

// ErrorDetail はクライアントに返してよいネットワークのエラー内容を返す。
// JSON-RPCのエラー応答のみメッセージを返し、接続エラー等はエンドポイントを含み得るため伏せる。
func ErrorDetail(err error) string {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Message
	}
	return "network request failed"
}

func describe(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
