package confirm

import "time"

const (
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 30 * time.Second
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 10 * time.Minute
)

// CalculateBackoff は連続失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回30秒、2倍ずつ増加、最大10分。
func CalculateBackoff(consecutiveFailures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveFailures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// backoffState はRPC障害が続いた場合に確認サイクルを間引くための状態。
// RunOnceからのみ参照され、Startのgoroutine内で逐次実行される。
type backoffState struct {
	consecutiveFailures int
	nextAttemptAt       time.Time
}

// ready は次の確認サイクルを実行してよいかを返す。
func (b *backoffState) ready(now time.Time) bool {
	return !now.Before(b.nextAttemptAt)
}

// failure は連続失敗回数をインクリメントし、次の実行時刻を遅らせる。
func (b *backoffState) failure(now time.Time) time.Duration {
	delay := CalculateBackoff(b.consecutiveFailures)
	b.consecutiveFailures++
	b.nextAttemptAt = now.Add(delay)
	return delay
}

// success は連続失敗回数をリセットする。
func (b *backoffState) success() {
	b.consecutiveFailures = 0
	b.nextAttemptAt = time.Time{}
}
