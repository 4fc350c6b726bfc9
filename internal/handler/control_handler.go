// Package handler はHTTP APIのハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/engine"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/middleware"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
)

// ControlServiceInterface は制御ハンドラーが必要とするサービスインターフェース。
type ControlServiceInterface interface {
	// Connect は認証情報を受け付けて新規ログインを実行する。
	Connect(ctx context.Context, ownerID, email, secret string) error
	// StartMonitoring は監視対象を保存して監視ループを開始する。
	StartMonitoring(ctx context.Context, ownerID string, in engine.StartInput) error
	// StopMonitoring は監視ループを停止する。
	StopMonitoring(ctx context.Context, ownerID string) error
	// SendTestMessage は単一の合成マッチで送信パイプラインを駆動する。
	SendTestMessage(ctx context.Context, ownerID, recipientName, keyword string) error
	// IsRunning は監視の実行状態を返す。
	IsRunning(ownerID string) bool
}

// OutreachHistoryInterface はアウトリーチ履歴の読み取りインターフェース。
type OutreachHistoryInterface interface {
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.OutreachRecord, error)
}

// ActivityHistoryInterface はアクティビティ履歴の読み取りインターフェース。
type ActivityHistoryInterface interface {
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.ActivityEvent, error)
}

// ControlHandler は監視制御と履歴参照のHTTPハンドラー。
type ControlHandler struct {
	service  ControlServiceInterface
	outreach OutreachHistoryInterface
	activity ActivityHistoryInterface
}

// NewControlHandler はControlHandlerを生成する。
func NewControlHandler(service ControlServiceInterface, outreach OutreachHistoryInterface, activity ActivityHistoryInterface) *ControlHandler {
	return &ControlHandler{
		service:  service,
		outreach: outreach,
		activity: activity,
	}
}

// connectRequest は接続リクエストのボディ。
type connectRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// startMonitorRequest は監視開始リクエストのボディ。
type startMonitorRequest struct {
	CommunityURL    string `json:"community_url"`
	Keywords        string `json:"keywords"`
	MessageTemplate string `json:"message_template"`
	TestMode        bool   `json:"test_mode"`
}

// testDMRequest はテストDM送信リクエストのボディ。
type testDMRequest struct {
	RecipientName string `json:"recipient_name"`
	Keyword       string `json:"keyword"`
}

// statusResponse は操作成功のレスポンス。
type statusResponse struct {
	Status string `json:"status"`
}

// monitorStatusResponse は監視状態のレスポンス。
type monitorStatusResponse struct {
	Running bool `json:"running"`
}

// outreachResponse はアウトリーチレコードのAPIレスポンス。
type outreachResponse struct {
	ID            string `json:"id"`
	RecipientName string `json:"recipient_name"`
	Keyword       string `json:"keyword"`
	Message       string `json:"message"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// activityResponse はアクティビティイベントのAPIレスポンス。
type activityResponse struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	Status    string `json:"status"`
	Details   string `json:"details"`
	CreatedAt string `json:"created_at"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// Connect はSkool認証情報の登録とログインを処理する。
// POST /api/connect
func (h *ControlHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	if req.Email == "" || req.Password == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "メールアドレスとパスワードは必須です。",
			Category: "validation",
			Action:   "両方のフィールドを入力してください。",
		})
		return
	}

	if err := h.service.Connect(r.Context(), ownerID, req.Email, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, statusResponse{Status: "connected"})
}

// StartMonitoring は監視開始を処理する。
// POST /api/monitor/start
func (h *ControlHandler) StartMonitoring(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	var req startMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	err := h.service.StartMonitoring(r.Context(), ownerID, engine.StartInput{
		CommunityURL:    req.CommunityURL,
		Keywords:        req.Keywords,
		MessageTemplate: req.MessageTemplate,
		TestMode:        req.TestMode,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, statusResponse{Status: "monitoring"})
}

// StopMonitoring は監視停止を処理する。
// POST /api/monitor/stop
func (h *ControlHandler) StopMonitoring(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.StopMonitoring(r.Context(), ownerID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, statusResponse{Status: "stopped"})
}

// MonitorStatus は監視の実行状態を返す。
// GET /api/monitor/status
func (h *ControlHandler) MonitorStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	writeJSONResponse(w, http.StatusOK, monitorStatusResponse{
		Running: h.service.IsRunning(ownerID),
	})
}

// SendTestDM はテストDM送信を処理する。
// POST /api/test-dm
func (h *ControlHandler) SendTestDM(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	var req testDMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	if req.RecipientName == "" || req.Keyword == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "受信者名とキーワードは必須です。",
			Category: "validation",
			Action:   "両方のフィールドを入力してください。",
		})
		return
	}

	if err := h.service.SendTestMessage(r.Context(), ownerID, req.RecipientName, req.Keyword); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, statusResponse{Status: "ok"})
}

// ListOutreach はアウトリーチ履歴を返す。
// GET /api/outreach
func (h *ControlHandler) ListOutreach(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	records, err := h.outreach.ListByOwner(r.Context(), ownerID, limitFromQuery(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]outreachResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, outreachResponse{
			ID:            rec.ID,
			RecipientName: rec.RecipientName,
			Keyword:       rec.Keyword,
			Message:       rec.Message,
			Status:        string(rec.Status),
			CreatedAt:     rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			UpdatedAt:     rec.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

// ListActivity はアクティビティ履歴を返す。
// GET /api/activity
func (h *ControlHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	events, err := h.activity.ListByOwner(r.Context(), ownerID, limitFromQuery(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]activityResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, activityResponse{
			ID:        ev.ID,
			Action:    ev.Action,
			Status:    string(ev.Status),
			Details:   ev.Details,
			CreatedAt: ev.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

// defaultHistoryLimit は履歴取得のデフォルト件数。
const defaultHistoryLimit = 100

// limitFromQuery はクエリパラメータから取得件数を読む。
func limitFromQuery(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return defaultHistoryLimit
	}
	return limit
}

// ownerFromRequest はコンテキストからオーナーIDを取得する。
// 取得できない場合は401を書き込んでfalseを返す。
func ownerFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID, err := middleware.OwnerIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeUnauthorized,
			Message:  "認証が必要です。",
			Category: "auth",
			Action:   "APIトークンを指定してください。",
		})
		return "", false
	}
	return ownerID, true
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeInvalidBodyResponse はボディ解析失敗の統一レスポンスを書き込む。
func writeInvalidBodyResponse(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     model.ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewLoginFailedError(string(authErr.Reason)))
		return
	}

	var sendErr *model.SendError
	if errors.As(err, &sendErr) {
		writeAPIErrorResponse(w, http.StatusBadGateway, &model.APIError{
			Code:     "SEND_FAILED",
			Message:  sendErr.Error(),
			Category: "engine",
			Action:   "受信者名を確認してから再度お試しください。",
		})
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidURL, model.ErrCodeInvalidRequest, model.ErrCodeEmptyKeywords:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeCredentialsMissing:
		return http.StatusPreconditionFailed
	case model.ErrCodeLoginFailed:
		return http.StatusUnauthorized
	case model.ErrCodeTargetNotFound:
		return http.StatusNotFound
	case model.ErrCodeMonitorNotRunning, model.ErrCodeMonitorRunning:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
