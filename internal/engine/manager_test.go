package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/contentsource"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/dispatcher"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/ledger"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
)

type memoryCredentialRepo struct {
	mu    sync.Mutex
	creds map[string]*model.Credentials
}

func newMemoryCredentialRepo() *memoryCredentialRepo {
	return &memoryCredentialRepo{creds: make(map[string]*model.Credentials)}
}

func (r *memoryCredentialRepo) FindByOwner(ctx context.Context, ownerID string) (*model.Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.creds[ownerID]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, nil
}

func (r *memoryCredentialRepo) Upsert(ctx context.Context, creds *model.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *creds
	r.creds[creds.OwnerID] = &copied
	return nil
}

type stubGuard struct {
	validateErr error
}

func (g *stubGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{}
}

func (g *stubGuard) ValidateURL(rawURL string) error {
	return g.validateErr
}

type managerFixture struct {
	manager      *Manager
	targets      *memoryTargetRepo
	outreach     *memoryOutreachRepo
	creds        *memoryCredentialRepo
	recorder     *recordingRecorder
	source       *fakeSource
	factoryCalls atomic.Int64
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	f := &managerFixture{
		targets:  newMemoryTargetRepo(),
		outreach: newMemoryOutreachRepo(),
		creds:    newMemoryCredentialRepo(),
		recorder: &recordingRecorder{},
		source:   &fakeSource{},
	}

	factory := func() (contentsource.ContentSource, error) {
		f.factoryCalls.Add(1)
		return f.source, nil
	}

	f.manager = NewManager(
		PollerConfig{PollInterval: 5 * time.Millisecond, MaxAuthFailures: 3},
		factory,
		f.creds,
		f.targets,
		&sessionStub{},
		ledger.New(f.outreach, false, testLogger()),
		dispatcher.New(time.Millisecond, testLogger()),
		f.recorder,
		testCollector(),
		&stubGuard{},
		testLogger(),
	)
	return f
}

func (f *managerFixture) registerCredentials(t *testing.T) {
	t.Helper()
	err := f.creds.Upsert(context.Background(), &model.Credentials{
		OwnerID: "owner-1", Email: "a@example.com", Secret: "pw",
	})
	if err != nil {
		t.Fatalf("認証情報の準備に失敗しました: %v", err)
	}
}

func startInput() StartInput {
	return StartInput{
		CommunityURL:    "https://www.skool.com/some-community",
		Keywords:        "goggles, Eyewear",
		MessageTemplate: "hi {name}",
		TestMode:        true,
	}
}

func TestStartMonitoring_RejectsInvalidURL(t *testing.T) {
	f := newManagerFixture(t)
	f.manager.guard = &stubGuard{validateErr: errors.New("blocked host")}

	err := f.manager.StartMonitoring(context.Background(), "owner-1", startInput())
	if err == nil {
		t.Fatal("無効なURLはエラーを返さなければならない")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidURL {
		t.Errorf("err = %v, want APIError(%s)", err, model.ErrCodeInvalidURL)
	}
}

func TestStartMonitoring_RejectsEmptyKeywords(t *testing.T) {
	f := newManagerFixture(t)

	in := startInput()
	in.Keywords = " , ,, "

	err := f.manager.StartMonitoring(context.Background(), "owner-1", in)
	if err == nil {
		t.Fatal("空キーワードはエラーを返さなければならない")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeEmptyKeywords {
		t.Errorf("err = %v, want APIError(%s)", err, model.ErrCodeEmptyKeywords)
	}
}

func TestStartMonitoring_RequiresCredentials(t *testing.T) {
	f := newManagerFixture(t)

	err := f.manager.StartMonitoring(context.Background(), "owner-1", startInput())
	if err == nil {
		t.Fatal("認証情報未登録はエラーを返さなければならない")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCredentialsMissing {
		t.Errorf("err = %v, want APIError(%s)", err, model.ErrCodeCredentialsMissing)
	}
}

func TestStartAndStopMonitoring(t *testing.T) {
	f := newManagerFixture(t)
	f.registerCredentials(t)
	ctx := context.Background()

	if err := f.manager.StartMonitoring(ctx, "owner-1", startInput()); err != nil {
		t.Fatalf("StartMonitoring がエラーを返しました: %v", err)
	}

	if !f.manager.IsRunning("owner-1") {
		t.Error("開始後は実行中でなければならない")
	}

	// キーワードは正規化されて保存される
	target, _ := f.targets.FindByOwner(ctx, "owner-1")
	if target == nil || len(target.Keywords) != 2 || target.Keywords[1] != "eyewear" {
		t.Errorf("保存されたキーワード = %+v, want [goggles eyewear]", target)
	}

	if err := f.manager.StopMonitoring(ctx, "owner-1"); err != nil {
		t.Fatalf("StopMonitoring がエラーを返しました: %v", err)
	}

	if f.manager.IsRunning("owner-1") {
		t.Error("停止後は実行中であってはならない")
	}

	target, _ = f.targets.FindByOwner(ctx, "owner-1")
	if target.MonitoringEnabled {
		t.Error("停止後は監視フラグが無効でなければならない")
	}
}

func TestStopMonitoring_NotRunning(t *testing.T) {
	f := newManagerFixture(t)

	err := f.manager.StopMonitoring(context.Background(), "owner-1")
	if err == nil {
		t.Fatal("未実行の監視の停止はエラーを返さなければならない")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeMonitorNotRunning {
		t.Errorf("err = %v, want APIError(%s)", err, model.ErrCodeMonitorNotRunning)
	}
}

func TestStartMonitoring_WhileRunningUpdatesConfig(t *testing.T) {
	f := newManagerFixture(t)
	f.registerCredentials(t)
	ctx := context.Background()

	if err := f.manager.StartMonitoring(ctx, "owner-1", startInput()); err != nil {
		t.Fatalf("StartMonitoring がエラーを返しました: %v", err)
	}
	defer f.manager.StopAll()

	in := startInput()
	in.Keywords = "helmets"
	if err := f.manager.StartMonitoring(ctx, "owner-1", in); err != nil {
		t.Fatalf("実行中の再開始がエラーを返しました: %v", err)
	}

	// 2つ目の監視ゴルーチン（ブラウザ）は作られない
	if f.factoryCalls.Load() != 1 {
		t.Errorf("factory 呼び出し回数 = %d, want 1", f.factoryCalls.Load())
	}

	target, _ := f.targets.FindByOwner(ctx, "owner-1")
	if len(target.Keywords) != 1 || target.Keywords[0] != "helmets" {
		t.Errorf("設定が更新されていません: %+v", target.Keywords)
	}
}

func TestResumeAll_StartsEnabledTargets(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	enabled := defaultTarget()
	disabled := defaultTarget()
	disabled.OwnerID = "owner-2"
	disabled.MonitoringEnabled = false

	if err := f.targets.Upsert(ctx, enabled); err != nil {
		t.Fatal(err)
	}
	if err := f.targets.Upsert(ctx, disabled); err != nil {
		t.Fatal(err)
	}

	if err := f.manager.ResumeAll(ctx); err != nil {
		t.Fatalf("ResumeAll がエラーを返しました: %v", err)
	}
	defer f.manager.StopAll()

	if !f.manager.IsRunning("owner-1") {
		t.Error("有効な対象の監視が再開されていません")
	}
	if f.manager.IsRunning("owner-2") {
		t.Error("無効な対象の監視が再開されてはならない")
	}
}

func TestSendTestMessage_TestModeRecordsTested(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	target := defaultTarget()
	target.TestMode = true
	if err := f.targets.Upsert(ctx, target); err != nil {
		t.Fatal(err)
	}

	if err := f.manager.SendTestMessage(ctx, "owner-1", "alice", "goggles"); err != nil {
		t.Fatalf("SendTestMessage がエラーを返しました: %v", err)
	}

	// テストモードではブラウザ資源を確保しない
	if f.factoryCalls.Load() != 0 {
		t.Errorf("factory 呼び出し回数 = %d, want 0", f.factoryCalls.Load())
	}

	rec, _ := f.outreach.FindByKey(ctx, "owner-1", "alice", "goggles")
	if rec == nil || rec.Status != model.OutreachStatusTested {
		t.Errorf("レコード = %+v, want status=%v", rec, model.OutreachStatusTested)
	}
}

func TestSendTestMessage_AlreadyHandledSkips(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	target := defaultTarget()
	target.TestMode = true
	if err := f.targets.Upsert(ctx, target); err != nil {
		t.Fatal(err)
	}

	if err := f.manager.SendTestMessage(ctx, "owner-1", "alice", "goggles"); err != nil {
		t.Fatalf("1回目の SendTestMessage がエラーを返しました: %v", err)
	}
	if err := f.manager.SendTestMessage(ctx, "owner-1", "alice", "goggles"); err != nil {
		t.Fatalf("2回目の SendTestMessage がエラーを返しました: %v", err)
	}

	if f.recorder.countAction(model.ActionDMSkip) != 1 {
		t.Errorf("dm_skip イベント数 = %d, want 1", f.recorder.countAction(model.ActionDMSkip))
	}
	if f.recorder.countAction(model.ActionDMTest) != 1 {
		t.Errorf("dm_test イベント数 = %d, want 1", f.recorder.countAction(model.ActionDMTest))
	}
}

func TestSendTestMessage_TargetMissing(t *testing.T) {
	f := newManagerFixture(t)

	err := f.manager.SendTestMessage(context.Background(), "owner-1", "alice", "goggles")
	if err == nil {
		t.Fatal("監視対象未登録はエラーを返さなければならない")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeTargetNotFound {
		t.Errorf("err = %v, want APIError(%s)", err, model.ErrCodeTargetNotFound)
	}
}
