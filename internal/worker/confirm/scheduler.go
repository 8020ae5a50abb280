// Package confirm は確定待ちトランザクションのバックグラウンド確認処理を提供する。
// 履歴に残ったpendingの署名をネットワークに問い合わせ、終端状態を反映する。
package confirm

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/hitoshi/solify/internal/chain"
	"github.com/hitoshi/solify/internal/metrics"
	"github.com/hitoshi/solify/internal/model"
	"github.com/hitoshi/solify/internal/repository"
)

// maxSignaturesPerCall はgetSignatureStatuses 1回あたりの署名数の上限。
const maxSignaturesPerCall = 256

// expiredMessage はネットワークに現れないまま期限を過ぎた履歴に記録するエラー内容。
const expiredMessage = "transaction expired before confirmation"

// StatusSource は署名状態の問い合わせインターフェース。
type StatusSource interface {
	SignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]chain.SignatureStatus, error)
}

// Config はSchedulerの動作設定。
type Config struct {
	BatchSize      int           // 1サイクルで確認する履歴の最大件数（デフォルト: 100）
	MaxConcurrency int           // 同時に実行するRPC呼び出し数（デフォルト: 4）
	ExpireAfter    time.Duration // ネットワークに現れない履歴をfailedとみなすまでの時間（デフォルト: 10分）
}

// Scheduler は確定待ち履歴の確認を定期実行する。
type Scheduler struct {
	txRepo    repository.TransactionRepository
	source    StatusSource
	collector metrics.MetricsCollector
	logger    *slog.Logger
	config    Config
	now       func() time.Time
	backoff   backoffState
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// 0以下の設定値はデフォルト値で補う。
func NewScheduler(
	txRepo repository.TransactionRepository,
	source StatusSource,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Scheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.ExpireAfter <= 0 {
		config.ExpireAfter = 10 * time.Minute
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Scheduler{
		txRepo:    txRepo,
		source:    source,
		collector: collector,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("確認スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", s.config.BatchSize),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("確認サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("確認スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("確認サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は確定待ち履歴を1回取得し、署名状態を問い合わせて反映する。
// RPC呼び出しはmaxSignaturesPerCall件ずつに分割し、semaphoreパターンで並列数を制御する。
// RPCの失敗が続いている間は指数バックオフでサイクルを間引く。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	if !s.backoff.ready(s.now()) {
		s.logger.Debug("RPC障害のバックオフ中のため確認サイクルをスキップします",
			slog.Time("next_attempt_at", s.backoff.nextAttemptAt),
		)
		return nil
	}

	records, err := s.txRepo.ListPending(ctx, s.config.BatchSize)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		s.logger.Debug("確認対象のトランザクションはありません")
		return nil
	}

	sem := make(chan struct{}, s.config.MaxConcurrency)
	var wg sync.WaitGroup
	var rpcFailures atomic.Int32

	for _, chunk := range chunkRecords(records, maxSignaturesPerCall) {
		wg.Add(1)
		sem <- struct{}{}

		go func(batch []*model.TransactionRecord) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.checkBatch(ctx, batch); err != nil {
				rpcFailures.Add(1)
			}
		}(chunk)
	}

	wg.Wait()

	if rpcFailures.Load() > 0 {
		delay := s.backoff.failure(s.now())
		s.logger.Warn("署名状態の取得に失敗したため次の確認を遅らせます",
			slog.Int("consecutive_failures", s.backoff.consecutiveFailures),
			slog.Duration("backoff", delay),
		)
	} else {
		s.backoff.success()
	}

	s.logger.Info("確認サイクルが完了しました",
		slog.Int("tx_count", len(records)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// checkBatch は1回のRPC呼び出しで複数署名の状態を確認する。
// RPC呼び出し自体が失敗した場合のみエラーを返す。
func (s *Scheduler) checkBatch(ctx context.Context, batch []*model.TransactionRecord) error {
	sigs := make([]solana.Signature, 0, len(batch))
	valid := make([]*model.TransactionRecord, 0, len(batch))
	for _, rec := range batch {
		sig, err := solana.SignatureFromBase58(rec.Signature)
		if err != nil {
			s.logger.Warn("不正な署名の履歴を失敗として記録します",
				slog.String("signature", rec.Signature),
				slog.String("error", err.Error()),
			)
			s.update(ctx, rec, model.TxStatusFailed, "invalid signature")
			continue
		}
		sigs = append(sigs, sig)
		valid = append(valid, rec)
	}
	if len(sigs) == 0 {
		return nil
	}

	statuses, err := s.source.SignatureStatuses(ctx, sigs...)
	if err != nil {
		s.logger.Error("署名状態の取得に失敗しました",
			slog.Int("signature_count", len(sigs)),
			slog.String("error", err.Error()),
		)
		return err
	}

	for i, rec := range valid {
		if i >= len(statuses) {
			break
		}
		st := statuses[i]
		switch {
		case st.Status.IsTerminal():
			s.update(ctx, rec, st.Status, st.Err)
		case !st.Found && s.now().Sub(rec.CreatedAt) > s.config.ExpireAfter:
			s.update(ctx, rec, model.TxStatusFailed, expiredMessage)
		}
	}
	return nil
}

func (s *Scheduler) update(ctx context.Context, rec *model.TransactionRecord, status model.TxStatus, errMsg string) {
	if err := s.txRepo.UpdateStatus(ctx, rec.Signature, status, errMsg); err != nil {
		s.logger.Error("履歴の状態更新に失敗しました",
			slog.String("signature", rec.Signature),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.collector.RecordTxConfirmation(string(status))
}

func chunkRecords(records []*model.TransactionRecord, size int) [][]*model.TransactionRecord {
	var chunks [][]*model.TransactionRecord
	for len(records) > size {
		chunks = append(chunks, records[:size])
		records = records[size:]
	}
	if len(records) > 0 {
		chunks = append(chunks, records)
	}
	return chunks
}
