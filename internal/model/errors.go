// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。HTTPステータスへの対応はhandler層が行う。
type ErrorKind int

const (
	// KindUpstreamFailure はネットワーク・データベース等の外部要因による失敗。
	KindUpstreamFailure ErrorKind = iota
	// KindBadRequest は入力の欠落・不正。
	KindBadRequest
	// KindUnauthorized はトークンの欠落・不正・期限切れ。
	KindUnauthorized
	// KindForbidden はサインイン時の認証情報の不一致。
	KindForbidden
	// KindNotFound はユーザーやウォレットが存在しない。
	KindNotFound
	// KindConflict はユーザー名の重複登録。
	KindConflict
	// KindTooManyRequests はレート制限超過。
	KindTooManyRequests
)

// String はログ出力用の名前を返す。
func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "upstream_failure"
	}
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// Detailsには秘密情報（秘密鍵、パスワードハッシュ）を含めてはならない。
type APIError struct {
	Kind     ErrorKind
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, wallet, network, system
	Action   string // ユーザー向け対処方法
	Details  string // 上流から返された非機密の詳細
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// KindOf はerrのエラー分類を返す。APIErrorでない場合はKindUpstreamFailure。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUpstreamFailure
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeMissingCredentials = "MISSING_CREDENTIALS"
	ErrCodePasswordTooLong    = "PASSWORD_TOO_LONG"
	ErrCodeUserExists         = "USER_EXISTS"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeIncorrectPassword  = "INCORRECT_PASSWORD"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeMissingSigningKey  = "MISSING_SIGNING_KEY"
	ErrCodeInvalidTransaction = "INVALID_TRANSACTION"
	ErrCodeInvalidAddress     = "INVALID_ADDRESS"
	ErrCodeMissingAddress     = "MISSING_ADDRESS"
	ErrCodeAirdropUnavailable = "AIRDROP_UNAVAILABLE"
	ErrCodeUpstreamFailure    = "UPSTREAM_FAILURE"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeInvalidRequest,
		Message:  "Request body could not be parsed.",
		Category: "validation",
		Action:   "Send a valid JSON request body.",
	}
}

// NewMissingCredentialsError はユーザー名・パスワードの欠落エラーを生成する。
func NewMissingCredentialsError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeMissingCredentials,
		Message:  "You need to provide both username and password",
		Category: "validation",
		Action:   "Fill in both username and password.",
	}
}

// NewPasswordTooLongError はbcryptの上限を超えるパスワードのエラーを生成する。
func NewPasswordTooLongError(max int) *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodePasswordTooLong,
		Message:  fmt.Sprintf("Password must be at most %d bytes", max),
		Category: "validation",
		Action:   "Choose a shorter password.",
	}
}

// NewUserExistsError はユーザー名重複エラーを生成する。
func NewUserExistsError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeUserExists,
		Message:  "User with this username already exists, please sign in!",
		Category: "auth",
		Action:   "Sign in or choose another username.",
	}
}

// NewSigninUserNotFoundError はサインイン時にユーザーが存在しない場合のエラーを生成する。
func NewSigninUserNotFoundError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeUserNotFound,
		Message:  "User with this username not found, please sign up!",
		Category: "auth",
		Action:   "Sign up first.",
	}
}

// NewIncorrectPasswordError はパスワード不一致エラーを生成する。
func NewIncorrectPasswordError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeIncorrectPassword,
		Message:  "Incorrect password!",
		Category: "auth",
		Action:   "Check your password and try again.",
	}
}

// NewUnauthorizedError はトークン検証失敗エラーを生成する。
// 失敗の種類（欠落・期限切れ・署名不正）は区別しない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized",
		Category: "auth",
		Action:   "Sign in and try again.",
	}
}

// NewMissingSigningKeyError はトークン署名鍵が未設定の場合のエラーを生成する。
func NewMissingSigningKeyError() *APIError {
	return &APIError{
		Kind:     KindUpstreamFailure,
		Code:     ErrCodeMissingSigningKey,
		Message:  "Server error: missing JWT_SECRET",
		Category: "system",
		Action:   "Contact the operator.",
	}
}

// NewUserNotFoundError は認証済みユーザーのレコードが存在しない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "wallet",
		Action:   "Sign in again.",
	}
}

// NewInvalidTransactionError は不正なトランザクションペイロードのエラーを生成する。
func NewInvalidTransactionError(reason string) *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeInvalidTransaction,
		Message:  fmt.Sprintf("Invalid transaction: %s", reason),
		Category: "validation",
		Action:   "Send a base64 encoded, serialized transaction.",
	}
}

// NewMissingAddressError はウォレットアドレスの欠落エラーを生成する。
func NewMissingAddressError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeMissingAddress,
		Message:  "Wallet address is required",
		Category: "validation",
		Action:   "Provide walletAddress.",
	}
}

// NewInvalidAddressError は不正なウォレットアドレスのエラーを生成する。
func NewInvalidAddressError(address string) *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeInvalidAddress,
		Message:  fmt.Sprintf("Invalid wallet address: %s", address),
		Category: "validation",
		Action:   "Provide a base58 encoded Solana address.",
	}
}

// NewAirdropUnavailableError は本番ネットワークでのエアドロップ要求エラーを生成する。
func NewAirdropUnavailableError(network string) *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeAirdropUnavailable,
		Message:  fmt.Sprintf("Airdrop is not available on %s", network),
		Category: "network",
		Action:   "Use devnet or testnet.",
	}
}

// NewUpstreamFailureError はネットワークがリクエストを拒否した場合のエラーを生成する。
// detailには上流の非機密メッセージのみを渡すこと。
func NewUpstreamFailureError(message, detail string) *APIError {
	return &APIError{
		Kind:     KindUpstreamFailure,
		Code:     ErrCodeUpstreamFailure,
		Message:  message,
		Category: "network",
		Action:   "Wait a moment and try again.",
		Details:  detail,
	}
}

// NewRateLimitError はレート制限超過エラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Kind:     KindTooManyRequests,
		Code:     ErrCodeRateLimitExceeded,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}
