package activity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
)

type mockActivityRepo struct {
	mu        sync.Mutex
	events    []*model.ActivityEvent
	insertErr error
}

func (m *mockActivityRepo) Insert(ctx context.Context, event *model.ActivityEvent) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockActivityRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.ActivityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecord_PersistsEvent(t *testing.T) {
	repo := &mockActivityRepo{}
	r := NewRecorder(repo, testLogger())

	r.Record(context.Background(), "owner-1", model.ActionDMSent, model.ActivityStatusSuccess, "alice / goggles")

	if len(repo.events) != 1 {
		t.Fatalf("イベント数 = %d, want 1", len(repo.events))
	}
	ev := repo.events[0]
	if ev.ID == "" {
		t.Error("ID が採番されていません")
	}
	if ev.Action != model.ActionDMSent {
		t.Errorf("Action = %q, want %q", ev.Action, model.ActionDMSent)
	}
	if ev.Status != model.ActivityStatusSuccess {
		t.Errorf("Status = %v, want %v", ev.Status, model.ActivityStatusSuccess)
	}
	if ev.CreatedAt.IsZero() {
		t.Error("CreatedAt が設定されていません")
	}
}

func TestRecord_InsertFailureDoesNotPanic(t *testing.T) {
	repo := &mockActivityRepo{insertErr: errors.New("db down")}
	r := NewRecorder(repo, testLogger())

	// 永続化失敗でもパイプラインは止まらない
	r.Record(context.Background(), "owner-1", model.ActionPostCheck, model.ActivityStatusInfo, "x")
}

func TestRecord_TruncatesLongDetails(t *testing.T) {
	repo := &mockActivityRepo{}
	r := NewRecorder(repo, testLogger())

	long := strings.Repeat("あ", 500)
	r.Record(context.Background(), "owner-1", model.ActionPostCheck, model.ActivityStatusInfo, long)

	got := repo.events[0].Details
	if len([]rune(got)) > maxDetailsLength+3 {
		t.Errorf("Details が切り詰められていません: len=%d", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("切り詰めの目印がありません")
	}
}

func TestSubscribe_ReceivesEventsInOrder(t *testing.T) {
	repo := &mockActivityRepo{}
	r := NewRecorder(repo, testLogger())

	ch, cancel := r.Subscribe("owner-1")
	defer cancel()

	ctx := context.Background()
	r.Record(ctx, "owner-1", model.ActionPostCheck, model.ActivityStatusInfo, "first")
	r.Record(ctx, "owner-1", model.ActionDMSent, model.ActivityStatusSuccess, "second")
	// 別オーナーのイベントは配信されない
	r.Record(ctx, "owner-2", model.ActionDMSent, model.ActivityStatusSuccess, "other")

	first := <-ch
	second := <-ch
	if first.Details != "first" || second.Details != "second" {
		t.Errorf("配信順が不正です: %q, %q", first.Details, second.Details)
	}

	select {
	case ev := <-ch:
		t.Errorf("他オーナーのイベントが配信されました: %+v", ev)
	default:
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	repo := &mockActivityRepo{}
	r := NewRecorder(repo, testLogger())

	ch, cancel := r.Subscribe("owner-1")
	cancel()

	if _, ok := <-ch; ok {
		t.Error("キャンセル後はチャネルが閉じられていなければならない")
	}

	// 解除後のRecordはパニックしない
	r.Record(context.Background(), "owner-1", model.ActionPostCheck, model.ActivityStatusInfo, "x")
}
