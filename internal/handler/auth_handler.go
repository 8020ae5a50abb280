package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/solify/internal/auth"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// Signup はユーザーを登録し、カストディアル鍵の公開アドレスを返す。
	Signup(ctx context.Context, username, password string) (string, error)
	// Signin は認証情報を検証し、トークンと公開アドレスを返す。
	Signin(ctx context.Context, username, password string) (*auth.SigninResult, error)
}

// AuthHandler はサインアップ・サインインのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// credentialsRequest はサインアップ・サインインのリクエストボディ。
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type signupResponse struct {
	PublicKey string `json:"publicKey"`
}

type signinResponse struct {
	Token     string `json:"token"`
	PublicKey string `json:"publicKey"`
	Message   string `json:"message"`
}

// Signup はユーザー登録を処理する。
// POST /api/v1/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	publicKey, err := h.service.Signup(r.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, signupResponse{PublicKey: publicKey})
}

// Signin はサインインを処理する。
// POST /api/v1/signin
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.Signin(r.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, signinResponse{
		Token:     result.Token,
		PublicKey: result.PublicKey,
		Message:   "Signed in successfully",
	})
}
