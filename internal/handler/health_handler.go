package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// Pinger はデータベース接続の疎通確認に必要なインターフェース。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RPCHealthChecker はRPCノードの状態確認に必要なインターフェース。
type RPCHealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
// データベースに到達できない場合のみ503を返す。RPCノードの状態は参考情報として返す。
type HealthHandler struct {
	db  Pinger
	rpc RPCHealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。rpcはnilでもよい。
func NewHealthHandler(db Pinger, rpc RPCHealthChecker) *HealthHandler {
	return &HealthHandler{db: db, rpc: rpc}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	RPC      string `json:"rpc,omitempty"`
}

// ServeHTTP はヘルスチェックを処理する。
// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok"}
	statusCode := http.StatusOK

	if err := h.db.PingContext(ctx); err != nil {
		slog.Error("health check: database unreachable", slog.String("error", err.Error()))
		resp.Status = "unavailable"
		resp.Database = "unreachable"
		statusCode = http.StatusServiceUnavailable
	}

	if h.rpc != nil {
		resp.RPC = "ok"
		if err := h.rpc.Health(ctx); err != nil {
			slog.Warn("health check: rpc node unhealthy", slog.String("error", err.Error()))
			resp.RPC = "degraded"
		}
	}

	writeJSON(w, statusCode, resp)
}
