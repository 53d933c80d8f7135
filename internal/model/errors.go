package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, auth, catalog, dispatch, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidLocation   = "INVALID_LOCATION"
	ErrCodeInvalidRecipient  = "INVALID_RECIPIENT"
	ErrCodeInvalidToken      = "INVALID_TOKEN"
	ErrCodeRecipientNotFound = "RECIPIENT_NOT_FOUND"
	ErrCodeCycleInProgress   = "CYCLE_IN_PROGRESS"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeRateLimited       = "RATE_LIMIT_EXCEEDED"
)

// NewInvalidLocationError は不正なロケーション指定のエラーを生成する。
func NewInvalidLocationError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLocation,
		Message:  fmt.Sprintf("無効なロケーションIDです: %s", raw),
		Category: "validation",
		Action:   "ロケーションIDには正の整数を指定してください。",
	}
}

// NewInvalidRecipientError は不正な受信者ID指定のエラーを生成する。
func NewInvalidRecipientError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRecipient,
		Message:  fmt.Sprintf("無効な受信者IDです: %s", raw),
		Category: "validation",
		Action:   "受信者IDには整数を指定してください。",
	}
}

// NewInvalidTokenError は継続トークンが不正な場合のエラーを生成する。
func NewInvalidTokenError(token string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  fmt.Sprintf("無効な継続トークンです: %s", token),
		Category: "validation",
		Action:   "ダイジェストの「Show More」ボタンから取得したトークンを指定してください。",
	}
}

// NewRecipientNotFoundError は受信者が見つからない場合のエラーを生成する。
func NewRecipientNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeRecipientNotFound,
		Message:  fmt.Sprintf("指定された受信者が見つかりません: %d", id),
		Category: "dispatch",
		Action:   "受信者IDを確認してください。",
	}
}

// NewCycleInProgressError は同期サイクル実行中のエラーを生成する。
func NewCycleInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeCycleInProgress,
		Message:  "同期サイクルを実行中です。",
		Category: "system",
		Action:   "実行中のサイクルが完了してから再度お試しください。",
	}
}

// NewUnauthorizedError はAPIトークンが不正な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "AuthorizationヘッダーにBearerトークンを指定してください。",
	}
}

// NewRateLimitedError はリクエスト数が上限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエスト数が上限を超えました。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}
