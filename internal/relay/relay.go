// Package relay はクライアントが組み立てたトランザクションにカストディアル鍵で署名し、
// ネットワークへ送信する。
package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/hitoshi/solify/internal/chain"
	"github.com/hitoshi/solify/internal/custody"
	"github.com/hitoshi/solify/internal/metrics"
	"github.com/hitoshi/solify/internal/model"
	"github.com/hitoshi/solify/internal/repository"
)

// 履歴取得件数
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Network はリレーが利用するネットワーク操作のインターフェース。
type Network interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]chain.SignatureStatus, error)
}

// KeyLoader はユーザー名からカストディアル鍵ペアを読み出すインターフェース。
type KeyLoader interface {
	Load(ctx context.Context, username string) (*custody.Keypair, error)
}

// Config はリレーの設定。
type Config struct {
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
}

// SendOptions は1回の送信に対するオプション。
type SendOptions struct {
	// AwaitConfirmation がtrueの場合、確定・失敗・タイムアウトまで署名状態をポーリングする。
	AwaitConfirmation bool
}

// Result は送信結果。
type Result struct {
	Signature string
	Status    model.TxStatus
}

// Relay はトランザクションの署名と送信を行う。
type Relay struct {
	keys    KeyLoader
	network Network
	history repository.TransactionRepository
	metrics metrics.MetricsCollector
	config  Config
	locks   *keyedMutex
}

// New はRelayを生成する。collectorがnilの場合はメトリクスを記録しない。
func New(keys KeyLoader, network Network, history repository.TransactionRepository, collector metrics.MetricsCollector, config Config) *Relay {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if config.ConfirmPollInterval <= 0 {
		config.ConfirmPollInterval = 2 * time.Second
	}
	return &Relay{
		keys:    keys,
		network: network,
		history: history,
		metrics: collector,
		config:  config,
		locks:   newKeyedMutex(),
	}
}

// SignAndSend はbase64エンコードされたトランザクションを復元し、最新のブロックハッシュを設定して
// カストディアル鍵を手数料支払者として署名し、ネットワークへ1回だけ送信する。
// 同一ユーザーの署名・送信は同時に1つまでに直列化する。
func (r *Relay) SignAndSend(ctx context.Context, username, encodedTx string, opts SendOptions) (*Result, error) {
	start := time.Now()

	kp, err := r.keys.Load(ctx, username)
	if err != nil {
		r.metrics.RecordTxFailure(metrics.StageKey)
		return nil, err
	}

	tx, err := decodeTransaction(encodedTx)
	if err != nil {
		r.metrics.RecordTxFailure(metrics.StageDecode)
		return nil, err
	}

	unlock, err := r.locks.Lock(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire signing lock: %w", err)
	}
	sig, err := r.stampSignSubmit(ctx, tx, kp)
	unlock()
	if err != nil {
		return nil, err
	}

	r.metrics.RecordTxSubmitted()
	r.metrics.RecordRelayLatency(time.Since(start))
	slog.Info("transaction submitted",
		slog.String("username", username),
		slog.String("signature", sig.String()),
	)

	result := &Result{Signature: sig.String(), Status: model.TxStatusPending}
	r.record(ctx, username, sig.String())

	if !opts.AwaitConfirmation {
		return result, nil
	}

	status, failure := r.awaitConfirmation(ctx, sig)
	result.Status = status
	if status.IsTerminal() {
		r.metrics.RecordTxConfirmation(string(status))
		if err := r.history.UpdateStatus(context.WithoutCancel(ctx), sig.String(), status, failure); err != nil {
			slog.Warn("failed to update transaction status",
				slog.String("signature", sig.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if status == model.TxStatusFailed {
		r.metrics.RecordTxFailure(metrics.StageConfirm)
		return nil, model.NewUpstreamFailureError("Transaction failed on chain", failure)
	}
	return result, nil
}

// History はユーザーの送信履歴を新しい順に返す。
func (r *Relay) History(ctx context.Context, username string, limit int) ([]*model.TransactionRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	records, err := r.history.ListByUsername(ctx, username, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction history: %w", err)
	}
	if records == nil {
		records = []*model.TransactionRecord{}
	}
	return records, nil
}

func (r *Relay) stampSignSubmit(ctx context.Context, tx *solana.Transaction, kp *custody.Keypair) (solana.Signature, error) {
	blockhash, err := r.network.LatestBlockhash(ctx)
	if err != nil {
		r.metrics.RecordTxFailure(metrics.StageNetwork)
		slog.Warn("failed to fetch latest blockhash", slog.String("error", err.Error()))
		return solana.Signature{}, model.NewUpstreamFailureError("Could not fetch a recent blockhash", chain.ErrorDetail(err))
	}

	tx, err = withFeePayer(tx, kp.PublicKey)
	if err != nil {
		r.metrics.RecordTxFailure(metrics.StageDecode)
		return solana.Signature{}, model.NewInvalidTransactionError(err.Error())
	}
	tx.Message.RecentBlockhash = blockhash

	if err := signWith(tx, kp); err != nil {
		r.metrics.RecordTxFailure(metrics.StageSign)
		return solana.Signature{}, err
	}

	sig, err := r.network.SendTransaction(ctx, tx)
	if err != nil {
		r.metrics.RecordTxFailure(metrics.StageNetwork)
		slog.Warn("transaction rejected by network", slog.String("error", err.Error()))
		return solana.Signature{}, model.NewUpstreamFailureError("Transaction could not be submitted", chain.ErrorDetail(err))
	}
	return sig, nil
}

// awaitConfirmation は署名状態が終端になるか、タイムアウトするまでポーリングする。
// タイムアウトした場合はpendingを返す。
func (r *Relay) awaitConfirmation(ctx context.Context, sig solana.Signature) (model.TxStatus, string) {
	if r.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.ConfirmTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(r.config.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		statuses, err := r.network.SignatureStatuses(ctx, sig)
		if err != nil {
			slog.Warn("failed to poll signature status",
				slog.String("signature", sig.String()),
				slog.String("error", err.Error()),
			)
		} else if len(statuses) == 1 && statuses[0].Status.IsTerminal() {
			return statuses[0].Status, statuses[0].Err
		}

		select {
		case <-ctx.Done():
			slog.Info("confirmation wait ended before finality",
				slog.String("signature", sig.String()),
			)
			return model.TxStatusPending, ""
		case <-ticker.C:
		}
	}
}

// record は送信済みトランザクションを履歴に記録する。
// 送信は既に完了しているため、記録の失敗はログのみとする。
func (r *Relay) record(ctx context.Context, username, signature string) {
	now := time.Now()
	rec := &model.TransactionRecord{
		ID:        uuid.New().String(),
		Username:  username,
		Signature: signature,
		Status:    model.TxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.history.Create(context.WithoutCancel(ctx), rec); err != nil {
		slog.Error("failed to record transaction history",
			slog.String("username", username),
			slog.String("signature", signature),
			slog.String("error", err.Error()),
		)
	}
}

// decodeTransaction はbase64のペイロードをトランザクションに復元する。
// ネットワークに問い合わせる前に構造の妥当性を検証する。
func decodeTransaction(encoded string) (*solana.Transaction, error) {
	if encoded == "" {
		return nil, model.NewInvalidTransactionError("message is required")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, model.NewInvalidTransactionError("message is not valid base64")
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, model.NewInvalidTransactionError("message could not be deserialized")
	}
	if tx.Message.IsVersioned() {
		return nil, model.NewInvalidTransactionError("versioned transactions are not supported")
	}
	if len(tx.Message.Instructions) == 0 {
		return nil, model.NewInvalidTransactionError("transaction has no instructions")
	}
	numKeys := len(tx.Message.AccountKeys)
	if numKeys == 0 || tx.Message.Header.NumRequiredSignatures == 0 {
		return nil, model.NewInvalidTransactionError("transaction has no signer")
	}
	if int(tx.Message.Header.NumRequiredSignatures) > numKeys {
		return nil, model.NewInvalidTransactionError("message header is inconsistent")
	}
	for _, ci := range tx.Message.Instructions {
		if int(ci.ProgramIDIndex) >= numKeys {
			return nil, model.NewInvalidTransactionError("instruction references unknown program")
		}
		for _, idx := range ci.Accounts {
			if int(idx) >= numKeys {
				return nil, model.NewInvalidTransactionError("instruction references unknown accounts")
			}
		}
	}
	return tx, nil
}

// withFeePayer はカストディアル鍵を手数料支払者とするトランザクションを返す。
// クライアントが別の支払者を指定していた場合は命令を解決し直してメッセージを再構築する。
func withFeePayer(tx *solana.Transaction, payer solana.PublicKey) (*solana.Transaction, error) {
	if tx.Message.AccountKeys[0].Equals(payer) {
		return tx, nil
	}

	instructions := make([]solana.Instruction, 0, len(tx.Message.Instructions))
	for _, ci := range tx.Message.Instructions {
		programID, err := tx.Message.ResolveProgramIDIndex(ci.ProgramIDIndex)
		if err != nil {
			return nil, fmt.Errorf("unknown program index %d", ci.ProgramIDIndex)
		}
		accounts, err := ci.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			return nil, errors.New("instruction references unknown accounts")
		}
		instructions = append(instructions, solana.NewInstruction(programID, accounts, ci.Data))
	}

	rebuilt, err := solana.NewTransaction(instructions, tx.Message.RecentBlockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("could not rebuild message: %v", err)
	}
	return rebuilt, nil
}

// signWith はカストディアル鍵のみで署名する。他の署名者を必要とするトランザクションは拒否する。
func signWith(tx *solana.Transaction, kp *custody.Keypair) error {
	n := int(tx.Message.Header.NumRequiredSignatures)
	for _, key := range tx.Message.AccountKeys[:n] {
		if !key.Equals(kp.PublicKey) {
			return model.NewInvalidTransactionError("transaction requires signatures from other accounts")
		}
	}

	// クライアントがシリアライズ時に埋めたプレースホルダー署名を破棄する
	tx.Signatures = nil
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(kp.PublicKey) {
			return &kp.PrivateKey
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}
