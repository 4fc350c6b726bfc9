// Package session はSkool認証セッションのライフサイクルを管理する。
//
// セッションはオーナーごとに1つだけ存在し、Managerが排他的に所有する。
// 保存済みセッションはロード時点では常に未検証（Unknown）であり、
// 生存確認を通過するまでValidとは見なされない。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/contentsource"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/repository"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/security"
)

// ManagerConfig はManagerの動作設定。
type ManagerConfig struct {
	// BaseURL はSkoolサイトのベースURL。HTTP生存確認の宛先になる。
	BaseURL string
	// FreshnessWindow は検証済みセッションを再検証なしで使い続けられる期間。
	FreshnessWindow time.Duration
	// ProbeTimeout はHTTP生存確認のタイムアウト。
	ProbeTimeout time.Duration
}

// loginFlight は進行中の認証処理を表す。同一オーナーへの並行呼び出しは
// 最初の1つだけが実際の認証を行い、他はその完了を待って結果を共有する。
type loginFlight struct {
	done    chan struct{}
	session *model.SkoolSession
	err     error
}

// Manager はオーナーごとのSkoolセッションを管理する。
type Manager struct {
	cfg      ManagerConfig
	creds    repository.CredentialRepository
	sessions repository.SessionRepository
	guard    security.SSRFGuardService
	logger   *slog.Logger

	mu       sync.Mutex
	live     map[string]*model.SkoolSession
	inflight map[string]*loginFlight
	failures map[string]int
}

// NewManager はManagerの新しいインスタンスを生成する。
func NewManager(
	cfg ManagerConfig,
	creds repository.CredentialRepository,
	sessions repository.SessionRepository,
	guard security.SSRFGuardService,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		cfg:      cfg,
		creds:    creds,
		sessions: sessions,
		guard:    guard,
		logger:   logger,
		live:     make(map[string]*model.SkoolSession),
		inflight: make(map[string]*loginFlight),
		failures: make(map[string]int),
	}
}

// EnsureAuthenticated は検証済みセッションを返す。優先順は
// (1) 鮮度期間内の検証済みセッション、(2) 保存済みセッションの生存確認、
// (3) 保存済み認証情報による再ログイン。
// 同一オーナーへの並行呼び出しで認証処理が走るのは1つだけ。
func (m *Manager) EnsureAuthenticated(ctx context.Context, ownerID string, src contentsource.ContentSource) (*model.SkoolSession, error) {
	m.mu.Lock()

	if sess := m.live[ownerID]; sess != nil && sess.State == model.SessionStateValid &&
		time.Since(sess.LastValidatedAt) < m.cfg.FreshnessWindow {
		m.mu.Unlock()
		return sess, nil
	}

	if f := m.inflight[ownerID]; f != nil {
		m.mu.Unlock()
		select {
		case <-f.done:
			return f.session, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f := &loginFlight{done: make(chan struct{})}
	m.inflight[ownerID] = f
	m.mu.Unlock()

	sess, err := m.establish(ctx, ownerID, src)

	m.mu.Lock()
	delete(m.inflight, ownerID)
	if err == nil {
		m.live[ownerID] = sess
		m.failures[ownerID] = 0
	} else {
		m.failures[ownerID]++
	}
	m.mu.Unlock()

	f.session, f.err = sess, err
	close(f.done)

	return sess, err
}

// establish は保存済みセッションの再利用を試み、失敗したら再ログインする。
func (m *Manager) establish(ctx context.Context, ownerID string, src contentsource.ContentSource) (*model.SkoolSession, error) {
	stored, err := m.sessions.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("保存済みセッションの取得に失敗しました: %w", err)
	}

	if stored != nil && len(stored.Cookies) > 0 {
		if m.probeHTTP(ctx, stored.Cookies) {
			if err := src.ProbeSession(ctx, stored.Cookies); err == nil {
				now := time.Now()
				stored.State = model.SessionStateValid
				stored.LastValidatedAt = now
				stored.UpdatedAt = now
				if err := m.sessions.Upsert(ctx, stored); err != nil {
					m.logger.Warn("セッションの保存に失敗しました", "owner_id", ownerID, "error", err)
				}
				m.logger.Info("保存済みセッションを再利用します", "owner_id", ownerID)
				return stored, nil
			}
		}
		m.logger.Info("保存済みセッションは失効していました。再ログインします", "owner_id", ownerID)
	}

	creds, err := m.creds.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}
	if creds == nil {
		return nil, model.NewAuthError(model.AuthReasonCredentialsMissing, nil)
	}

	return m.login(ctx, ownerID, creds.Email, creds.Secret, src)
}

// login は認証フローを実行して新しいセッションを確立・永続化する。
func (m *Manager) login(ctx context.Context, ownerID, email, secret string, src contentsource.ContentSource) (*model.SkoolSession, error) {
	cookies, err := src.Login(ctx, email, secret)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &model.SkoolSession{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Cookies:         cookies,
		State:           model.SessionStateValid,
		EstablishedAt:   now,
		LastValidatedAt: now,
		UpdatedAt:       now,
	}
	if err := m.sessions.Upsert(ctx, sess); err != nil {
		return nil, fmt.Errorf("セッションの保存に失敗しました: %w", err)
	}

	m.logger.Info("新しいセッションを確立しました", "owner_id", ownerID, "session_id", sess.ID)
	return sess, nil
}

// Connect は認証情報を保存してから新規ログインを実行する。
// 認証情報はログイン試行の前に永続化されるため、ログインに失敗しても
// 保存済みの認証情報で後から再試行できる。
func (m *Manager) Connect(ctx context.Context, ownerID, email, secret string, src contentsource.ContentSource) error {
	now := time.Now()
	if err := m.creds.Upsert(ctx, &model.Credentials{
		OwnerID:   ownerID,
		Email:     email,
		Secret:    secret,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("認証情報の保存に失敗しました: %w", err)
	}

	sess, err := m.login(ctx, ownerID, email, secret, src)

	m.mu.Lock()
	if err == nil {
		m.live[ownerID] = sess
		m.failures[ownerID] = 0
	} else {
		m.failures[ownerID]++
	}
	m.mu.Unlock()

	return err
}

// Invalidate はオーナーの検証済みセッションをメモリ上から破棄する。
// スキャン中に認証切れを検出した場合に呼び、次の認証時に再検証させる。
func (m *Manager) Invalidate(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, ownerID)
}

// ConsecutiveFailures はオーナーの連続認証失敗回数を返す。
func (m *Manager) ConsecutiveFailures(ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[ownerID]
}

// probeHTTP は保存済みCookieをそのまま付与したGETで軽量な生存確認を行う。
// ログインページへリダイレクトされた場合は失効とみなす。
// あくまで否定的な事前フィルタであり、最終確認はブラウザ側のプローブが行う。
func (m *Manager) probeHTTP(ctx context.Context, cookies []model.CookieRecord) bool {
	client := m.guard.NewSafeClient(m.cfg.ProbeTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL, nil)
	if err != nil {
		return false
	}
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}

	resp, err := client.Do(req)
	if err != nil {
		m.logger.Debug("HTTP生存確認に失敗しました", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	if resp.Request != nil && strings.Contains(resp.Request.URL.Path, "/login") {
		return false
	}
	return true
}
