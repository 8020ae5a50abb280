package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/solify/internal/model"
	"github.com/hitoshi/solify/internal/relay"
)

// RelayServiceInterface はトランザクションハンドラーが必要とするサービスインターフェース。
type RelayServiceInterface interface {
	// SignAndSend はトランザクションにカストディアル鍵で署名して送信する。
	SignAndSend(ctx context.Context, username, encodedTx string, opts relay.SendOptions) (*relay.Result, error)
	// History はユーザーのトランザクション履歴を新しい順に返す。
	History(ctx context.Context, username string, limit int) ([]*model.TransactionRecord, error)
}

// TxnHandler はトランザクション署名・履歴のHTTPハンドラー。
type TxnHandler struct {
	service RelayServiceInterface
}

// NewTxnHandler はTxnHandlerを生成する。
func NewTxnHandler(service RelayServiceInterface) *TxnHandler {
	return &TxnHandler{service: service}
}

// signRequest はトランザクション署名リクエストのボディ。
// Messageはbase64エンコードされたシリアライズ済みトランザクション。
type signRequest struct {
	Message           string `json:"message"`
	AwaitConfirmation bool   `json:"awaitConfirmation"`
}

type signResponse struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Status    string `json:"status"`
}

type transactionResponse struct {
	Signature string    `json:"signature"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type historyResponse struct {
	Message      string                `json:"message"`
	Transactions []transactionResponse `json:"transactions"`
}

// Sign はトランザクションの署名と送信を処理する。
// POST /api/v1/txn/sign
func (h *TxnHandler) Sign(w http.ResponseWriter, r *http.Request) {
	username, ok := requireUsername(w, r)
	if !ok {
		return
	}

	var req signRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if req.Message == "" {
		handleServiceError(w, r, model.NewInvalidTransactionError("message is required"))
		return
	}

	result, err := h.service.SignAndSend(r.Context(), username, req.Message, relay.SendOptions{
		AwaitConfirmation: req.AwaitConfirmation,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, signResponse{
		Message:   "Transaction Signed & Sent!",
		Signature: result.Signature,
		Status:    string(result.Status),
	})
}

// List はトランザクション履歴を返す。
// GET /api/v1/txn?limit=
func (h *TxnHandler) List(w http.ResponseWriter, r *http.Request) {
	username, ok := requireUsername(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			handleServiceError(w, r, &model.APIError{
				Kind:     model.KindBadRequest,
				Code:     model.ErrCodeInvalidRequest,
				Message:  "limit must be a non-negative integer",
				Category: "validation",
				Action:   "Fix the limit query parameter.",
			})
			return
		}
		limit = n
	}

	records, err := h.service.History(r.Context(), username, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := historyResponse{
		Message:      "Transactions fetched successfully!",
		Transactions: make([]transactionResponse, len(records)),
	}
	for i, rec := range records {
		resp.Transactions[i] = transactionResponse{
			Signature: rec.Signature,
			Status:    string(rec.Status),
			Error:     rec.ErrorMessage,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
