// Package activity はアクティビティイベントの記録と配信を提供する。
//
// 監視ループで起きたすべての出来事（チェック、送信、スキップ、エラー）は
// 発生順に追記され、運用者が後から追跡できる。握りつぶされるエラーはなく、
// 永続化に失敗した場合も必ず構造化ログへ残る。
package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/repository"
)

// maxDetailsLength は記録する詳細文字列の上限。長い本文は切り詰める。
const maxDetailsLength = 200

// Recorder はアクティビティイベントを永続化し、購読者へ配信する。
type Recorder struct {
	repo   repository.ActivityRepository
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string][]chan *model.ActivityEvent
}

// NewRecorder はRecorderの新しいインスタンスを生成する。
func NewRecorder(repo repository.ActivityRepository, logger *slog.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger,
		subs:   make(map[string][]chan *model.ActivityEvent),
	}
}

// Record はイベントを1件記録する。永続化・ログ・購読者配信を行う。
// 永続化に失敗してもパイプラインは止めず、ログにのみ残す。
func (r *Recorder) Record(ctx context.Context, ownerID, action string, status model.ActivityStatus, details string) {
	event := &model.ActivityEvent{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Action:    action,
		Status:    status,
		Details:   truncateDetails(details),
		CreatedAt: time.Now(),
	}

	if err := r.repo.Insert(ctx, event); err != nil {
		r.logger.Error("アクティビティイベントの保存に失敗しました",
			"owner_id", ownerID, "action", action, "error", err)
	}

	r.log(event)
	r.publish(event)
}

// log はイベントを重要度に応じたレベルで構造化ログへ出力する。
func (r *Recorder) log(event *model.ActivityEvent) {
	attrs := []any{
		"owner_id", event.OwnerID,
		"action", event.Action,
		"details", event.Details,
	}
	switch event.Status {
	case model.ActivityStatusError:
		r.logger.Error("アクティビティ", attrs...)
	default:
		r.logger.Info("アクティビティ", attrs...)
	}
}

// publish はイベントを購読者へ発生順に配信する。
// 受信が追いつかない購読者へのイベントは破棄する（記録自体は永続層に残る）。
func (r *Recorder) publish(event *model.ActivityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.subs[event.OwnerID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe はオーナーのイベントストリームを購読する。
// 返されたキャンセル関数の呼び出しで購読が解除され、チャネルが閉じられる。
func (r *Recorder) Subscribe(ownerID string) (<-chan *model.ActivityEvent, func()) {
	ch := make(chan *model.ActivityEvent, 64)

	r.mu.Lock()
	r.subs[ownerID] = append(r.subs[ownerID], ch)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.subs[ownerID]
		for i, c := range subs {
			if c == ch {
				r.subs[ownerID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// List はオーナーのイベント履歴を新しい順に返す。
func (r *Recorder) List(ctx context.Context, ownerID string, limit int) ([]*model.ActivityEvent, error) {
	return r.repo.ListByOwner(ctx, ownerID, limit)
}

// truncateDetails は詳細文字列を上限に収める。
func truncateDetails(details string) string {
	runes := []rune(details)
	if len(runes) <= maxDetailsLength {
		return details
	}
	return string(runes[:maxDetailsLength]) + "..."
}
