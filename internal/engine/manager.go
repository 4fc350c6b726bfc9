package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/contentsource"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/ledger"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/matcher"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/metrics"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/repository"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/security"
)

// SourceFactory はContentSourceを生成する。監視1つにつき1インスタンスが
// 生成され、そのPollerが排他的に所有する。
type SourceFactory func() (contentsource.ContentSource, error)

// StartInput は監視開始の入力。
type StartInput struct {
	CommunityURL    string
	Keywords        string // カンマ区切り
	MessageTemplate string
	TestMode        bool
}

// monitor は実行中の監視1つを表す。
type monitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager はオーナーごとの監視ライフサイクルを制御する。
type Manager struct {
	cfg        PollerConfig
	factory    SourceFactory
	creds      repository.CredentialRepository
	targets    repository.TargetRepository
	sessions   SessionService
	ledger     OutreachLedger
	dispatcher MessageDispatcher
	recorder   ActivityRecorder
	collector  metrics.MetricsCollector
	guard      security.SSRFGuardService
	logger     *slog.Logger

	mu       sync.Mutex
	monitors map[string]*monitor
}

// NewManager はManagerの新しいインスタンスを生成する。
func NewManager(
	cfg PollerConfig,
	factory SourceFactory,
	creds repository.CredentialRepository,
	targets repository.TargetRepository,
	sessions SessionService,
	outreach OutreachLedger,
	dispatcher MessageDispatcher,
	recorder ActivityRecorder,
	collector metrics.MetricsCollector,
	guard security.SSRFGuardService,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		cfg:        cfg,
		factory:    factory,
		creds:      creds,
		targets:    targets,
		sessions:   sessions,
		ledger:     outreach,
		dispatcher: dispatcher,
		recorder:   recorder,
		collector:  collector,
		guard:      guard,
		logger:     logger,
		monitors:   make(map[string]*monitor),
	}
}

// Connect は認証情報を受け付けて新規ログインを実行する。
// 認証情報はログイン試行の前に永続化される。
func (m *Manager) Connect(ctx context.Context, ownerID, email, secret string) error {
	src, err := m.factory()
	if err != nil {
		return fmt.Errorf("ブラウザ資源の確保に失敗しました: %w", err)
	}
	defer src.Close()

	err = m.sessions.Connect(ctx, ownerID, email, secret, src)
	m.collector.RecordLoginAttempt(err == nil)

	if err != nil {
		m.recorder.Record(ctx, ownerID, model.ActionLogin, model.ActivityStatusError, err.Error())
		return err
	}

	m.recorder.Record(ctx, ownerID, model.ActionLogin, model.ActivityStatusSuccess, "ログインに成功しました")
	return nil
}

// StartMonitoring は監視対象の設定を保存して監視ループを開始する。
// 既に実行中の場合は設定の更新のみ行う（次サイクルから反映される）。
func (m *Manager) StartMonitoring(ctx context.Context, ownerID string, in StartInput) error {
	if err := m.guard.ValidateURL(in.CommunityURL); err != nil {
		return model.NewInvalidURLError(err.Error())
	}

	keywords := matcher.ParseKeywords(in.Keywords)
	if len(keywords) == 0 {
		return model.NewEmptyKeywordsError()
	}

	creds, err := m.creds.FindByOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("認証情報の確認に失敗しました: %w", err)
	}
	if creds == nil {
		return model.NewCredentialsMissingError()
	}

	now := time.Now()
	target := &model.ScanTarget{
		OwnerID:           ownerID,
		CommunityURL:      in.CommunityURL,
		Keywords:          keywords,
		MessageTemplate:   in.MessageTemplate,
		TestMode:          in.TestMode,
		MonitoringEnabled: true,
		UpdatedAt:         now,
	}
	if err := m.targets.Upsert(ctx, target); err != nil {
		return fmt.Errorf("監視対象の保存に失敗しました: %w", err)
	}

	m.mu.Lock()
	if _, running := m.monitors[ownerID]; running {
		m.mu.Unlock()
		m.recorder.Record(ctx, ownerID, model.ActionMonitorStart, model.ActivityStatusInfo,
			"実行中の監視に新しい設定を適用しました")
		return nil
	}
	m.mu.Unlock()

	if err := m.spawn(ownerID); err != nil {
		return err
	}

	m.recorder.Record(ctx, ownerID, model.ActionMonitorStart, model.ActivityStatusSuccess,
		fmt.Sprintf("url=%s keywords=%d test_mode=%t", in.CommunityURL, len(keywords), in.TestMode))
	return nil
}

// spawn は監視ゴルーチンを起動する。ブラウザ資源の確保失敗は致命として返す。
func (m *Manager) spawn(ownerID string) error {
	src, err := m.factory()
	if err != nil {
		return fmt.Errorf("ブラウザ資源の確保に失敗しました: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	mon := &monitor{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if _, running := m.monitors[ownerID]; running {
		m.mu.Unlock()
		cancel()
		_ = src.Close()
		return nil
	}
	m.monitors[ownerID] = mon
	m.mu.Unlock()

	poller := NewPoller(ownerID, m.cfg, m.targets, m.sessions, src,
		m.ledger, m.dispatcher, m.recorder, m.collector, m.logger)

	go func() {
		defer close(mon.done)
		defer func() {
			if err := src.Close(); err != nil {
				m.logger.Warn("ブラウザ資源の解放に失敗しました", "owner_id", ownerID, "error", err)
			}
			m.mu.Lock()
			if m.monitors[ownerID] == mon {
				delete(m.monitors, ownerID)
			}
			m.mu.Unlock()
		}()
		poller.Run(runCtx)
	}()

	return nil
}

// StopMonitoring は監視を停止する。進行中のサイクルはアイテム境界まで
// 実行され、開始済みの送信は結果が確定してから停止する。
func (m *Manager) StopMonitoring(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	mon, running := m.monitors[ownerID]
	m.mu.Unlock()

	if !running {
		return model.NewMonitorNotRunningError(ownerID)
	}

	if err := m.targets.SetMonitoringEnabled(ctx, ownerID, false); err != nil {
		return fmt.Errorf("監視フラグの更新に失敗しました: %w", err)
	}

	mon.cancel()
	<-mon.done

	m.recorder.Record(ctx, ownerID, model.ActionMonitorStop, model.ActivityStatusSuccess, "監視を停止しました")
	return nil
}

// IsRunning は指定オーナーの監視が実行中かを返す。
func (m *Manager) IsRunning(ownerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, running := m.monitors[ownerID]
	return running
}

// ResumeAll は監視フラグが有効な全オーナーの監視を再開する。
// プロセス再起動時に呼ばれる。個別の失敗は記録して他の再開を続ける。
func (m *Manager) ResumeAll(ctx context.Context) error {
	targets, err := m.targets.ListMonitoringEnabled(ctx)
	if err != nil {
		return fmt.Errorf("監視対象の一覧取得に失敗しました: %w", err)
	}

	for _, target := range targets {
		if err := m.spawn(target.OwnerID); err != nil {
			m.logger.Error("監視の再開に失敗しました", "owner_id", target.OwnerID, "error", err)
			m.recorder.Record(ctx, target.OwnerID, model.ActionMonitorStart, model.ActivityStatusError,
				fmt.Sprintf("再開に失敗しました: %v", err))
			continue
		}
		m.logger.Info("監視を再開しました", "owner_id", target.OwnerID)
	}

	return nil
}

// StopAll は全ての監視を停止する。プロセス終了時に呼ばれる。
func (m *Manager) StopAll() {
	m.mu.Lock()
	monitors := make([]*monitor, 0, len(m.monitors))
	for _, mon := range m.monitors {
		mon.cancel()
		monitors = append(monitors, mon)
	}
	m.mu.Unlock()

	for _, mon := range monitors {
		<-mon.done
	}
}

// SendTestMessage は単一の合成マッチで送信パイプラインを駆動する。
// 台帳・重複排除・確定は通常の監視サイクルと同じ経路を通る。
func (m *Manager) SendTestMessage(ctx context.Context, ownerID, recipientName, keyword string) error {
	target, err := m.targets.FindByOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("監視対象の読み込みに失敗しました: %w", err)
	}
	if target == nil {
		return model.NewTargetNotFoundError(ownerID)
	}

	message := RenderMessage(target.MessageTemplate, recipientName, keyword)

	res, err := m.ledger.CheckAndReserve(ctx, ledger.ReserveInput{
		OwnerID:       ownerID,
		RecipientRef:  recipientName,
		RecipientName: recipientName,
		Keyword:       keyword,
		Message:       message,
	})
	if err != nil {
		return fmt.Errorf("台帳予約に失敗しました: %w", err)
	}
	if res.AlreadyHandled {
		m.recorder.Record(ctx, ownerID, model.ActionDMSkip, model.ActivityStatusInfo,
			fmt.Sprintf("%s / %s は処理済みです (status=%s)", recipientName, keyword, res.PriorStatus))
		return nil
	}

	status, sendErr := m.dispatchTest(ctx, ownerID, target, recipientName, message)

	if err := m.ledger.Finalize(ctx, res.RecordID, status); err != nil {
		m.logger.Error("台帳レコードの確定に失敗しました", "owner_id", ownerID, "record_id", res.RecordID, "error", err)
	}
	m.collector.RecordOutreach(string(status))

	if sendErr != nil {
		m.recorder.Record(ctx, ownerID, model.ActionDMError, model.ActivityStatusError,
			fmt.Sprintf("%s / %s: %v", recipientName, keyword, sendErr))
		return sendErr
	}

	action := model.ActionDMSent
	if status == model.OutreachStatusTested {
		action = model.ActionDMTest
	}
	m.recorder.Record(ctx, ownerID, action, model.ActivityStatusSuccess,
		fmt.Sprintf("%s / %s", recipientName, keyword))
	return nil
}

// dispatchTest はテスト送信の実行部。テストモードではネットワークに触れず、
// 実モードでは専用のブラウザ資源と認証済みセッションで送信する。
func (m *Manager) dispatchTest(ctx context.Context, ownerID string, target *model.ScanTarget,
	recipientName, message string) (model.OutreachStatus, error) {
	if target.TestMode {
		return m.dispatcher.Dispatch(ctx, nil, nil, recipientName, message, true)
	}

	src, err := m.factory()
	if err != nil {
		return model.OutreachStatusFailed, fmt.Errorf("ブラウザ資源の確保に失敗しました: %w", err)
	}
	defer src.Close()

	sess, err := m.sessions.EnsureAuthenticated(ctx, ownerID, src)
	if err != nil {
		return model.OutreachStatusFailed, err
	}

	return m.dispatcher.Dispatch(ctx, src, sess.Cookies, recipientName, message, false)
}
