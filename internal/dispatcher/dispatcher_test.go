package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
)

type stubContentSource struct {
	sendFunc func(ctx context.Context, cookies []model.CookieRecord, recipientName, message string) error
	sends    int
}

func (s *stubContentSource) Login(ctx context.Context, email, secret string) ([]model.CookieRecord, error) {
	return nil, nil
}

func (s *stubContentSource) ProbeSession(ctx context.Context, cookies []model.CookieRecord) error {
	return nil
}

func (s *stubContentSource) ListPosts(ctx context.Context, cookies []model.CookieRecord, communityURL string) ([]model.ContentItem, error) {
	return nil, nil
}

func (s *stubContentSource) ListComments(ctx context.Context, cookies []model.CookieRecord, post model.ContentItem) ([]model.ContentItem, error) {
	return nil, nil
}

func (s *stubContentSource) SendDirectMessage(ctx context.Context, cookies []model.CookieRecord, recipientName, message string) error {
	s.sends++
	if s.sendFunc != nil {
		return s.sendFunc(ctx, cookies, recipientName, message)
	}
	return nil
}

func (s *stubContentSource) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatch_TestModeSkipsNetwork(t *testing.T) {
	src := &stubContentSource{}
	d := New(time.Millisecond, testLogger())

	status, err := d.Dispatch(context.Background(), src, nil, "alice", "hello", true)
	if err != nil {
		t.Fatalf("Dispatch がエラーを返しました: %v", err)
	}
	if status != model.OutreachStatusTested {
		t.Errorf("status = %v, want %v", status, model.OutreachStatusTested)
	}
	if src.sends != 0 {
		t.Error("テストモードで送信が実行されてはならない")
	}
}

func TestDispatch_RealSendSucceeds(t *testing.T) {
	src := &stubContentSource{}
	d := New(time.Millisecond, testLogger())

	status, err := d.Dispatch(context.Background(), src, nil, "alice", "hello", false)
	if err != nil {
		t.Fatalf("Dispatch がエラーを返しました: %v", err)
	}
	if status != model.OutreachStatusSent {
		t.Errorf("status = %v, want %v", status, model.OutreachStatusSent)
	}
	if src.sends != 1 {
		t.Errorf("送信回数 = %d, want 1", src.sends)
	}
}

func TestDispatch_SendFailurePreservesStage(t *testing.T) {
	src := &stubContentSource{
		sendFunc: func(ctx context.Context, cookies []model.CookieRecord, recipientName, message string) error {
			return model.NewSendError(model.SendStageRecipientSearch, errors.New("受信者が見つかりません"))
		},
	}
	d := New(time.Millisecond, testLogger())

	status, err := d.Dispatch(context.Background(), src, nil, "bob", "hello", false)
	if err == nil {
		t.Fatal("送信失敗時はエラーを返さなければならない")
	}
	if status != model.OutreachStatusFailed {
		t.Errorf("status = %v, want %v", status, model.OutreachStatusFailed)
	}

	var sendErr *model.SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("SendError ではありません: %T", err)
	}
	if sendErr.Stage != model.SendStageRecipientSearch {
		t.Errorf("Stage = %v, want %v", sendErr.Stage, model.SendStageRecipientSearch)
	}
	// 内部での再試行は行わない
	if src.sends != 1 {
		t.Errorf("送信回数 = %d, want 1", src.sends)
	}
}

func TestDispatch_RateLimitEnforcesInterval(t *testing.T) {
	src := &stubContentSource{}
	interval := 50 * time.Millisecond
	d := New(interval, testLogger())
	ctx := context.Background()

	start := time.Now()
	if _, err := d.Dispatch(ctx, src, nil, "alice", "m1", false); err != nil {
		t.Fatalf("1回目の Dispatch がエラーを返しました: %v", err)
	}
	if _, err := d.Dispatch(ctx, src, nil, "bob", "m2", false); err != nil {
		t.Fatalf("2回目の Dispatch がエラーを返しました: %v", err)
	}

	if elapsed := time.Since(start); elapsed < interval {
		t.Errorf("2連続送信の所要時間 = %v, want >= %v", elapsed, interval)
	}
}

func TestDispatch_CancelledContext(t *testing.T) {
	src := &stubContentSource{}
	d := New(time.Minute, testLogger())

	// 2回目はレート制限待ちに入るため、キャンセル済みコンテキストで中断される
	if _, err := d.Dispatch(context.Background(), src, nil, "alice", "m1", false); err != nil {
		t.Fatalf("1回目の Dispatch がエラーを返しました: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, err := d.Dispatch(ctx, src, nil, "bob", "m2", false)
	if err == nil {
		t.Fatal("キャンセル済みコンテキストではエラーを返さなければならない")
	}
	if status != model.OutreachStatusFailed {
		t.Errorf("status = %v, want %v", status, model.OutreachStatusFailed)
	}
	if src.sends != 1 {
		t.Error("キャンセル後に送信が実行されてはならない")
	}
}
