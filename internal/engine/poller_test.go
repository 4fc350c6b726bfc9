package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/contentsource"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/dispatcher"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/ledger"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/metrics"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
)

// --- テスト用の部品 ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCollector() *metrics.Collector {
	return metrics.NewCollector(prometheus.NewRegistry())
}

// memoryTargetRepo は監視対象のインメモリ実装。
type memoryTargetRepo struct {
	mu      sync.Mutex
	targets map[string]*model.ScanTarget
}

func newMemoryTargetRepo() *memoryTargetRepo {
	return &memoryTargetRepo{targets: make(map[string]*model.ScanTarget)}
}

func (r *memoryTargetRepo) FindByOwner(ctx context.Context, ownerID string) (*model.ScanTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.targets[ownerID]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, nil
}

func (r *memoryTargetRepo) Upsert(ctx context.Context, target *model.ScanTarget) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *target
	r.targets[target.OwnerID] = &copied
	return nil
}

func (r *memoryTargetRepo) SetMonitoringEnabled(ctx context.Context, ownerID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.targets[ownerID]; ok {
		t.MonitoringEnabled = enabled
	}
	return nil
}

func (r *memoryTargetRepo) ListMonitoringEnabled(ctx context.Context) ([]*model.ScanTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ScanTarget
	for _, t := range r.targets {
		if t.MonitoringEnabled {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

// memoryOutreachRepo は一意制約を再現するインメモリ実装。
type memoryOutreachRepo struct {
	mu    sync.Mutex
	byKey map[string]*model.OutreachRecord
	byID  map[string]*model.OutreachRecord
}

func newMemoryOutreachRepo() *memoryOutreachRepo {
	return &memoryOutreachRepo{
		byKey: make(map[string]*model.OutreachRecord),
		byID:  make(map[string]*model.OutreachRecord),
	}
}

func (r *memoryOutreachRepo) key(ownerID, recipientName, keyword string) string {
	return ownerID + "|" + recipientName + "|" + keyword
}

func (r *memoryOutreachRepo) FindByKey(ctx context.Context, ownerID, recipientName, keyword string) (*model.OutreachRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byKey[r.key(ownerID, recipientName, keyword)]; ok {
		copied := *rec
		return &copied, nil
	}
	return nil, nil
}

func (r *memoryOutreachRepo) Create(ctx context.Context, record *model.OutreachRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(record.OwnerID, record.RecipientName, record.Keyword)
	if _, ok := r.byKey[k]; ok {
		return model.ErrLedgerConflict
	}
	copied := *record
	r.byKey[k] = &copied
	r.byID[record.ID] = &copied
	return nil
}

func (r *memoryOutreachRepo) UpdateStatus(ctx context.Context, recordID string, status model.OutreachStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[recordID]; ok {
		rec.Status = status
	}
	return nil
}

func (r *memoryOutreachRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.OutreachRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.OutreachRecord
	for _, rec := range r.byID {
		if rec.OwnerID == ownerID {
			copied := *rec
			out = append(out, &copied)
		}
	}
	return out, nil
}

// recordingRecorder はアクティビティイベントをメモリに貯める。
type recordingRecorder struct {
	mu     sync.Mutex
	events []model.ActivityEvent
}

func (r *recordingRecorder) Record(ctx context.Context, ownerID, action string, status model.ActivityStatus, details string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, model.ActivityEvent{
		OwnerID: ownerID,
		Action:  action,
		Status:  status,
		Details: details,
	})
}

func (r *recordingRecorder) countAction(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Action == action {
			n++
		}
	}
	return n
}

// fakeSource はスクレイピングと送信を差し替えるContentSource。
type fakeSource struct {
	mu               sync.Mutex
	posts            []model.ContentItem
	comments         map[string][]model.ContentItem
	listPostsErr     error
	sendErrFor       map[string]error
	sentTo           []string
	listCommentCalls []string
}

func (f *fakeSource) Login(ctx context.Context, email, secret string) ([]model.CookieRecord, error) {
	return []model.CookieRecord{{Name: "auth_token", Value: "t"}}, nil
}

func (f *fakeSource) ProbeSession(ctx context.Context, cookies []model.CookieRecord) error {
	return nil
}

func (f *fakeSource) ListPosts(ctx context.Context, cookies []model.CookieRecord, communityURL string) ([]model.ContentItem, error) {
	if f.listPostsErr != nil {
		return nil, f.listPostsErr
	}
	return f.posts, nil
}

func (f *fakeSource) ListComments(ctx context.Context, cookies []model.CookieRecord, post model.ContentItem) ([]model.ContentItem, error) {
	f.mu.Lock()
	f.listCommentCalls = append(f.listCommentCalls, post.ItemID)
	f.mu.Unlock()
	return f.comments[post.ItemID], nil
}

func (f *fakeSource) SendDirectMessage(ctx context.Context, cookies []model.CookieRecord, recipientName, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErrFor[recipientName]; err != nil {
		return err
	}
	f.sentTo = append(f.sentTo, recipientName)
	return nil
}

func (f *fakeSource) Close() error { return nil }

// sessionStub は認証を素通しするSessionService。
type sessionStub struct {
	mu            sync.Mutex
	err           error
	failures      int
	invalidations int
}

func (s *sessionStub) EnsureAuthenticated(ctx context.Context, ownerID string, src contentsource.ContentSource) (*model.SkoolSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		s.failures++
		return nil, s.err
	}
	s.failures = 0
	return &model.SkoolSession{
		ID:      "sess-1",
		OwnerID: ownerID,
		Cookies: []model.CookieRecord{{Name: "auth_token", Value: "t"}},
		State:   model.SessionStateValid,
	}, nil
}

func (s *sessionStub) Connect(ctx context.Context, ownerID, email, secret string, src contentsource.ContentSource) error {
	return s.err
}

func (s *sessionStub) ConsecutiveFailures(ownerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

func (s *sessionStub) Invalidate(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidations++
}

func (s *sessionStub) invalidateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidations
}

func defaultTarget() *model.ScanTarget {
	return &model.ScanTarget{
		OwnerID:           "owner-1",
		CommunityURL:      "https://www.skool.com/some-community",
		Keywords:          []string{"goggles"},
		MessageTemplate:   "hi {name}, about {keyword}",
		TestMode:          false,
		MonitoringEnabled: true,
	}
}

type pollerFixture struct {
	poller   *Poller
	targets  *memoryTargetRepo
	outreach *memoryOutreachRepo
	source   *fakeSource
	sessions *sessionStub
	recorder *recordingRecorder
}

func newPollerFixture(t *testing.T, target *model.ScanTarget, source *fakeSource) *pollerFixture {
	t.Helper()

	targets := newMemoryTargetRepo()
	if target != nil {
		if err := targets.Upsert(context.Background(), target); err != nil {
			t.Fatalf("対象の準備に失敗しました: %v", err)
		}
	}

	outreach := newMemoryOutreachRepo()
	rec := &recordingRecorder{}
	sessions := &sessionStub{}
	l := ledger.New(outreach, false, testLogger())
	d := dispatcher.New(time.Millisecond, testLogger())

	p := NewPoller("owner-1",
		PollerConfig{PollInterval: 10 * time.Millisecond, MaxAuthFailures: 3},
		targets, sessions, source, l, d, rec, testCollector(), testLogger())

	return &pollerFixture{poller: p, targets: targets, outreach: outreach, source: source, sessions: sessions, recorder: rec}
}

// --- テスト ---

func TestRunCycle_MatchingCommentTriggersSingleDM(t *testing.T) {
	source := &fakeSource{
		posts: []model.ContentItem{
			{ItemID: "p1", Kind: model.ItemKindPost, AuthorName: "poster", Body: "Great GOGGLES here"},
			{ItemID: "p2", Kind: model.ItemKindPost, AuthorName: "poster", Body: "nothing relevant"},
		},
		comments: map[string][]model.ContentItem{
			"p1": {
				{ItemID: "c1", Kind: model.ItemKindComment, ParentID: "p1", AuthorName: "alice", AuthorRef: "alice", Body: "I want the goggles"},
				{ItemID: "c2", Kind: model.ItemKindComment, ParentID: "p1", AuthorName: "bob", AuthorRef: "bob", Body: "nice post"},
			},
		},
	}
	f := newPollerFixture(t, defaultTarget(), source)

	if stop := f.poller.runCycle(context.Background()); stop {
		t.Fatal("通常サイクルで停止シグナルが返ってはならない")
	}

	if len(source.sentTo) != 1 || source.sentTo[0] != "alice" {
		t.Errorf("送信先 = %v, want [alice]", source.sentTo)
	}

	rec, _ := f.outreach.FindByKey(context.Background(), "owner-1", "alice", "goggles")
	if rec == nil {
		t.Fatal("台帳レコードが作成されていません")
	}
	if rec.Status != model.OutreachStatusSent {
		t.Errorf("Status = %v, want %v", rec.Status, model.OutreachStatusSent)
	}
	if rec.Message != "hi alice, about goggles" {
		t.Errorf("Message = %q, テンプレートが展開されていません", rec.Message)
	}

	// キーワードを含まない投稿のコメントはスキャンされない
	if len(source.listCommentCalls) != 1 || source.listCommentCalls[0] != "p1" {
		t.Errorf("ListComments 呼び出し = %v, want [p1]", source.listCommentCalls)
	}

	if f.recorder.countAction(model.ActionDMSent) != 1 {
		t.Errorf("dm_sent イベント数 = %d, want 1", f.recorder.countAction(model.ActionDMSent))
	}
}

func TestRunCycle_RerunDoesNotResend(t *testing.T) {
	source := &fakeSource{
		posts: []model.ContentItem{
			{ItemID: "p1", Kind: model.ItemKindPost, Body: "goggles post"},
		},
		comments: map[string][]model.ContentItem{
			"p1": {
				{ItemID: "c1", Kind: model.ItemKindComment, ParentID: "p1", AuthorName: "alice", AuthorRef: "alice", Body: "goggles please"},
			},
		},
	}
	f := newPollerFixture(t, defaultTarget(), source)
	ctx := context.Background()

	f.poller.runCycle(ctx)
	f.poller.runCycle(ctx)

	// 同じマッチを再観測しても送信は1回だけ
	if len(source.sentTo) != 1 {
		t.Errorf("送信回数 = %d, want 1", len(source.sentTo))
	}
	if f.recorder.countAction(model.ActionDMSkip) != 1 {
		t.Errorf("dm_skip イベント数 = %d, want 1", f.recorder.countAction(model.ActionDMSkip))
	}
}

func TestRunCycle_TestModeRecordsTestedWithoutSending(t *testing.T) {
	target := defaultTarget()
	target.TestMode = true

	source := &fakeSource{
		posts: []model.ContentItem{
			{ItemID: "p1", Kind: model.ItemKindPost, Body: "goggles post"},
		},
		comments: map[string][]model.ContentItem{
			"p1": {
				{ItemID: "c1", Kind: model.ItemKindComment, ParentID: "p1", AuthorName: "alice", AuthorRef: "alice", Body: "goggles please"},
			},
		},
	}
	f := newPollerFixture(t, target, source)

	f.poller.runCycle(context.Background())

	if len(source.sentTo) != 0 {
		t.Errorf("テストモードで送信が実行されました: %v", source.sentTo)
	}

	rec, _ := f.outreach.FindByKey(context.Background(), "owner-1", "alice", "goggles")
	if rec == nil || rec.Status != model.OutreachStatusTested {
		t.Errorf("レコード = %+v, want status=%v", rec, model.OutreachStatusTested)
	}
	if f.recorder.countAction(model.ActionDMTest) != 1 {
		t.Errorf("dm_test イベント数 = %d, want 1", f.recorder.countAction(model.ActionDMTest))
	}
}

func TestRunCycle_SendFailureIsolatedToSingleComment(t *testing.T) {
	source := &fakeSource{
		posts: []model.ContentItem{
			{ItemID: "p1", Kind: model.ItemKindPost, Body: "goggles post"},
		},
		comments: map[string][]model.ContentItem{
			"p1": {
				{ItemID: "c1", Kind: model.ItemKindComment, ParentID: "p1", AuthorName: "alice", AuthorRef: "alice", Body: "goggles please"},
				{ItemID: "c2", Kind: model.ItemKindComment, ParentID: "p1", AuthorName: "carol", AuthorRef: "carol", Body: "goggles too"},
			},
		},
		sendErrFor: map[string]error{
			"alice": model.NewSendError(model.SendStageConfirmation, errors.New("確認タイムアウト")),
		},
	}
	f := newPollerFixture(t, defaultTarget(), source)

	if stop := f.poller.runCycle(context.Background()); stop {
		t.Fatal("アイテム単位の失敗でサイクルが停止してはならない")
	}

	// 失敗したコメントの後続も処理される
	if len(source.sentTo) != 1 || source.sentTo[0] != "carol" {
		t.Errorf("送信先 = %v, want [carol]", source.sentTo)
	}

	ctx := context.Background()
	failed, _ := f.outreach.FindByKey(ctx, "owner-1", "alice", "goggles")
	if failed == nil || failed.Status != model.OutreachStatusFailed {
		t.Errorf("失敗レコード = %+v, want status=%v", failed, model.OutreachStatusFailed)
	}
	sent, _ := f.outreach.FindByKey(ctx, "owner-1", "carol", "goggles")
	if sent == nil || sent.Status != model.OutreachStatusSent {
		t.Errorf("成功レコード = %+v, want status=%v", sent, model.OutreachStatusSent)
	}
	if f.recorder.countAction(model.ActionDMError) != 1 {
		t.Errorf("dm_error イベント数 = %d, want 1", f.recorder.countAction(model.ActionDMError))
	}
}

func TestRunCycle_ListPostsFailureSkipsCycle(t *testing.T) {
	source := &fakeSource{
		listPostsErr: model.NewScanError("https://www.skool.com/x", errors.New("読み込み失敗")),
	}
	f := newPollerFixture(t, defaultTarget(), source)

	if stop := f.poller.runCycle(context.Background()); stop {
		t.Fatal("スキャンエラーはサイクルのスキップであり、ループ停止ではない")
	}

	if f.recorder.countAction(model.ActionScanError) != 1 {
		t.Errorf("scan_error イベント数 = %d, want 1", f.recorder.countAction(model.ActionScanError))
	}
	if len(source.sentTo) != 0 {
		t.Error("スキャンエラーのサイクルで送信が実行されてはならない")
	}
}

func TestRunCycle_CommentMatchedAgainstPostSubsetOnly(t *testing.T) {
	target := defaultTarget()
	target.Keywords = []string{"goggles", "eyewear"}

	// 投稿は goggles にのみマッチする。コメントは eyewear にのみ言及しているが、
	// コメントは親投稿がマッチしたキーワードの部分集合に対してのみ照合されるため、
	// 送信も台帳レコードも発生しない。
	source := &fakeSource{
		posts: []model.ContentItem{
			{ItemID: "p1", Kind: model.ItemKindPost, AuthorName: "poster", Body: "great goggles in stock"},
		},
		comments: map[string][]model.ContentItem{
			"p1": {
				{ItemID: "c1", Kind: model.ItemKindComment, ParentID: "p1", AuthorName: "alice", AuthorRef: "alice", Body: "looking for eyewear"},
			},
		},
	}
	f := newPollerFixture(t, target, source)

	f.poller.runCycle(context.Background())

	if len(source.sentTo) != 0 {
		t.Errorf("送信先 = %v, want []", source.sentTo)
	}
	ctx := context.Background()
	if rec, _ := f.outreach.FindByKey(ctx, "owner-1", "alice", "eyewear"); rec != nil {
		t.Errorf("eyewear の台帳レコードが作成されています: %+v", rec)
	}
	if rec, _ := f.outreach.FindByKey(ctx, "owner-1", "alice", "goggles"); rec != nil {
		t.Errorf("goggles の台帳レコードが作成されています: %+v", rec)
	}

	// コメントが投稿のマッチ集合内のキーワードに言及すれば送信される
	source.comments["p1"] = append(source.comments["p1"],
		model.ContentItem{ItemID: "c2", Kind: model.ItemKindComment, ParentID: "p1", AuthorName: "bob", AuthorRef: "bob", Body: "I need goggles"})

	f.poller.runCycle(ctx)

	if len(source.sentTo) != 1 || source.sentTo[0] != "bob" {
		t.Errorf("送信先 = %v, want [bob]", source.sentTo)
	}
}

func TestRunCycle_AuthExpiryDuringScanInvalidatesSession(t *testing.T) {
	source := &fakeSource{
		listPostsErr: model.NewScanError("https://www.skool.com/x",
			model.NewAuthError(model.AuthReasonVerifyFailed, errors.New("ログインページへリダイレクトされました"))),
	}
	f := newPollerFixture(t, defaultTarget(), source)

	if stop := f.poller.runCycle(context.Background()); stop {
		t.Fatal("認証起因のスキャンエラーでもループは停止しない")
	}

	if f.sessions.invalidateCount() != 1 {
		t.Errorf("Invalidate 呼び出し回数 = %d, want 1", f.sessions.invalidateCount())
	}
	if f.recorder.countAction(model.ActionScanError) != 1 {
		t.Errorf("scan_error イベント数 = %d, want 1", f.recorder.countAction(model.ActionScanError))
	}
}

func TestRunCycle_PlainScanErrorKeepsSession(t *testing.T) {
	source := &fakeSource{
		listPostsErr: model.NewScanError("https://www.skool.com/x", errors.New("読み込み失敗")),
	}
	f := newPollerFixture(t, defaultTarget(), source)

	f.poller.runCycle(context.Background())

	// 認証と無関係な失敗でセッションを捨ててはならない
	if f.sessions.invalidateCount() != 0 {
		t.Errorf("Invalidate 呼び出し回数 = %d, want 0", f.sessions.invalidateCount())
	}
}

func TestRunCycle_StopsWhenMonitoringDisabled(t *testing.T) {
	target := defaultTarget()
	target.MonitoringEnabled = false

	f := newPollerFixture(t, target, &fakeSource{})

	if stop := f.poller.runCycle(context.Background()); !stop {
		t.Error("監視フラグが無効ならループは終了しなければならない")
	}
}

func TestRunCycle_StopsWhenTargetMissing(t *testing.T) {
	f := newPollerFixture(t, nil, &fakeSource{})

	if stop := f.poller.runCycle(context.Background()); !stop {
		t.Error("監視対象が存在しないならループは終了しなければならない")
	}
}

func TestRun_ExitsOnContextCancel(t *testing.T) {
	f := newPollerFixture(t, defaultTarget(), &fakeSource{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.poller.Run(ctx)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後にRunが終了しません")
	}
}

func TestRenderMessage(t *testing.T) {
	got := RenderMessage("hello {name}! about {keyword} / {name}", "alice", "goggles")
	want := "hello alice! about goggles / alice"
	if got != want {
		t.Errorf("RenderMessage = %q, want %q", got, want)
	}
}
