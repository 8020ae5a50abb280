package handler

import (
	"context"
	"net/http"
)

// BalanceServiceInterface は残高・エアドロップハンドラーが必要とするサービスインターフェース。
type BalanceServiceInterface interface {
	// Balance はアドレスの残高をSOL単位で返す。
	Balance(ctx context.Context, address string) (float64, error)
	// BalanceOf はユーザーのカストディアルアドレスの残高をSOL単位で返す。
	BalanceOf(ctx context.Context, username string) (float64, error)
	// RequestAirdrop はテストネットワークのフォーセットに資金を要求し、署名を返す。
	RequestAirdrop(ctx context.Context, address string) (string, error)
}

// BalanceHandler は残高照会・エアドロップのHTTPハンドラー。
type BalanceHandler struct {
	service BalanceServiceInterface
}

// NewBalanceHandler はBalanceHandlerを生成する。
func NewBalanceHandler(service BalanceServiceInterface) *BalanceHandler {
	return &BalanceHandler{service: service}
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
}

type airdropRequest struct {
	WalletAddress string `json:"walletAddress"`
}

type airdropResponse struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// MyBalance は認証済みユーザーのカストディアルアドレスの残高を返す。
// GET /api/v1/balance
func (h *BalanceHandler) MyBalance(w http.ResponseWriter, r *http.Request) {
	username, ok := requireUsername(w, r)
	if !ok {
		return
	}

	balance, err := h.service.BalanceOf(r.Context(), username)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

// AddressBalance は任意のアドレスの残高を返す。
// GET /api/v1/balance2?walletAddress=
func (h *BalanceHandler) AddressBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.Balance(r.Context(), r.URL.Query().Get("walletAddress"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

// Airdrop はテストネットワークのフォーセットに資金を要求する。
// POST /api/v1/airdrop
func (h *BalanceHandler) Airdrop(w http.ResponseWriter, r *http.Request) {
	var req airdropRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	signature, err := h.service.RequestAirdrop(r.Context(), req.WalletAddress)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, airdropResponse{
		Message:   "Airdrop requested successfully!",
		Signature: signature,
	})
}
