// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// AuthReason は認証エラーの原因分類。
type AuthReason string

const (
	// AuthReasonBadCredentials は認証情報が無効。
	AuthReasonBadCredentials AuthReason = "bad_credentials"
	// AuthReasonLoginFormNotFound はログインフォームの候補ロケータを全て使い果たした。
	AuthReasonLoginFormNotFound AuthReason = "login_form_not_found"
	// AuthReasonVerifyFailed はログイン送信後の認証済み確認に失敗した。
	AuthReasonVerifyFailed AuthReason = "verify_failed"
	// AuthReasonCredentialsMissing は認証情報が保存されていない。
	AuthReasonCredentialsMissing AuthReason = "credentials_missing"
	// AuthReasonBrowser はブラウザ資源の取得・操作に失敗した。
	AuthReasonBrowser AuthReason = "browser"
)

// AuthError は認証の失敗を表す。現在のサイクルには致命的であり、
// 次サイクルで再認証が試行される。
type AuthError struct {
	Reason AuthReason
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("認証エラー (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("認証エラー (%s)", e.Reason)
}

// Unwrap はラップされたエラーを返す。
func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError はAuthErrorを生成する。
func NewAuthError(reason AuthReason, err error) *AuthError {
	return &AuthError{Reason: reason, Err: err}
}

// ScanError はコンテンツ一覧の取得失敗を表す。
// サイクルはスキップされ、ループは継続する。
type ScanError struct {
	URL string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *ScanError) Error() string {
	return fmt.Sprintf("スキャンエラー (url=%s): %v", e.URL, e.Err)
}

// Unwrap はラップされたエラーを返す。
func (e *ScanError) Unwrap() error { return e.Err }

// NewScanError はScanErrorを生成する。
func NewScanError(url string, err error) *ScanError {
	return &ScanError{URL: url, Err: err}
}

// SendStage はDM送信フロー内のステージ名。
// どの段階で失敗したかを運用者が区別できるようにする。
type SendStage string

const (
	// SendStageCompose は新規メッセージ画面の表示。
	SendStageCompose SendStage = "compose"
	// SendStageRecipientSearch は受信者の検索・解決。
	SendStageRecipientSearch SendStage = "recipient_search"
	// SendStageMessageInput は本文の入力。
	SendStageMessageInput SendStage = "message_input"
	// SendStageSend は送信操作。
	SendStageSend SendStage = "send"
	// SendStageConfirmation は送信完了シグナルの確認。
	SendStageConfirmation SendStage = "confirmation"
)

// SendError はDM送信の失敗をステージ付きで表す。
// 該当レコードはFailedで確定され、ループは継続する。
type SendError struct {
	Stage SendStage
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *SendError) Error() string {
	return fmt.Sprintf("送信エラー (stage=%s): %v", e.Stage, e.Err)
}

// Unwrap はラップされたエラーを返す。
func (e *SendError) Unwrap() error { return e.Err }

// NewSendError はSendErrorを生成する。
func NewSendError(stage SendStage, err error) *SendError {
	return &SendError{Stage: stage, Err: err}
}

// ErrLedgerConflict は同一キーへの予約が並行して競合したことを表す。
// 敗者はalreadyHandledとして扱われる。
var ErrLedgerConflict = errors.New("台帳の予約が競合しました")

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, engine, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeSSRFBlocked        = "SSRF_BLOCKED"
	ErrCodeCredentialsMissing = "CREDENTIALS_MISSING"
	ErrCodeLoginFailed        = "LOGIN_FAILED"
	ErrCodeTargetNotFound     = "TARGET_NOT_FOUND"
	ErrCodeMonitorNotRunning  = "MONITOR_NOT_RUNNING"
	ErrCodeMonitorRunning     = "MONITOR_ALREADY_RUNNING"
	ErrCodeEmptyKeywords      = "EMPTY_KEYWORDS"
)

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているコミュニティのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewCredentialsMissingError は認証情報未登録エラーを生成する。
func NewCredentialsMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeCredentialsMissing,
		Message:  "Skoolの認証情報が登録されていません。",
		Category: "auth",
		Action:   "先に接続（connect）を実行して認証情報を登録してください。",
	}
}

// NewLoginFailedError はログイン失敗エラーを生成する。
func NewLoginFailedError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeLoginFailed,
		Message:  fmt.Sprintf("Skoolへのログインに失敗しました: %s", detail),
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してから再度お試しください。",
	}
}

// NewTargetNotFoundError は監視対象未登録エラーを生成する。
func NewTargetNotFoundError(ownerID string) *APIError {
	return &APIError{
		Code:     ErrCodeTargetNotFound,
		Message:  fmt.Sprintf("監視対象が登録されていません: %s", ownerID),
		Category: "engine",
		Action:   "先に監視開始（startMonitoring）で対象を登録してください。",
	}
}

// NewMonitorNotRunningError は監視未実行エラーを生成する。
func NewMonitorNotRunningError(ownerID string) *APIError {
	return &APIError{
		Code:     ErrCodeMonitorNotRunning,
		Message:  fmt.Sprintf("指定オーナーの監視は実行されていません: %s", ownerID),
		Category: "engine",
		Action:   "監視の実行状態を確認してください。",
	}
}

// NewEmptyKeywordsError はキーワード未指定エラーを生成する。
func NewEmptyKeywordsError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyKeywords,
		Message:  "有効なキーワードが1件もありません。",
		Category: "validation",
		Action:   "カンマ区切りで1件以上のキーワードを指定してください。",
	}
}
