package contentsource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/security"
)

// ログインフォームの候補ロケータ。優先順に試行する。
var (
	emailCandidates = []Candidate{
		{Selector: `input[name="email"]`, Label: "name属性"},
		{Selector: `input[type="email"]`, Label: "type属性"},
		{Selector: `input[placeholder*="email" i]`, Label: "placeholder"},
	}
	passwordCandidates = []Candidate{
		{Selector: `input[type="password"]`, Label: "type属性"},
		{Selector: `input[name="password"]`, Label: "name属性"},
		{Selector: `input[placeholder*="password" i]`, Label: "placeholder"},
	}
	submitCandidates = []Candidate{
		{Selector: `button[type="submit"]`, Label: "submitボタン"},
		{Selector: `form button`, Label: "フォーム内ボタン"},
		{Selector: `form input[type="submit"]`, Label: "submit入力"},
	}
)

// ログイン失敗バナーの候補セレクタ。
var loginErrorSelectors = []string{
	`.error-message`,
	`[role="alert"]`,
	`.alert-error`,
	`form .error`,
}

// ログイン成功を示すマーカー要素の候補セレクタ。
var authenticatedMarkers = []string{
	`[data-testid="dashboard"]`,
	`nav[aria-label="Main navigation"]`,
	`[data-testid="user-menu"]`,
}

// ログイン成功とみなすURLパスの断片。
var authenticatedURLHints = []string{"/dashboard", "/home", "/profile"}

// SkoolConfig はSkoolSourceの動作設定。
type SkoolConfig struct {
	// BaseURL はSkoolサイトのベースURL。
	BaseURL string
	// Headless はブラウザをヘッドレスで起動するか。
	Headless bool
	// NoSandbox はサンドボックスを無効化するか（コンテナ環境向け）。
	NoSandbox bool
	// OperationTimeout は1つのリモート操作の上限時間。
	OperationTimeout time.Duration
	// LoginTimeout はログインフロー全体の上限時間。
	LoginTimeout time.Duration
	// SendConfirmWait はDM送信確認の待機上限。
	SendConfirmWait time.Duration
}

// SkoolSource はgo-rodによるContentSourceの実装。
// ブラウザプロセスとページを遅延起動で保持し、Closeで解放する。
// 並行呼び出しは内部ミューテックスで直列化される。
type SkoolSource struct {
	cfg    SkoolConfig
	text   security.ContentTextService
	logger *slog.Logger

	mu      sync.Mutex
	launch  *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
}

// NewSkoolSource はSkoolSourceの新しいインスタンスを生成する。
// ブラウザはこの時点では起動せず、最初の操作時に遅延起動される。
func NewSkoolSource(cfg SkoolConfig, text security.ContentTextService, logger *slog.Logger) *SkoolSource {
	return &SkoolSource{
		cfg:    cfg,
		text:   text,
		logger: logger,
	}
}

// ensurePage はブラウザとページを遅延起動して返す。
// 起動失敗は回復不能としてAuthError(browser)で返す。
func (s *SkoolSource) ensurePage() (*rod.Page, error) {
	if s.page != nil {
		return s.page, nil
	}

	l := launcher.New().Headless(s.cfg.Headless)
	if s.cfg.NoSandbox {
		l = l.NoSandbox(true)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, model.NewAuthError(model.AuthReasonBrowser, fmt.Errorf("ブラウザの起動に失敗しました: %w", err))
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, model.NewAuthError(model.AuthReasonBrowser, fmt.Errorf("ブラウザへの接続に失敗しました: %w", err))
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		l.Cleanup()
		return nil, model.NewAuthError(model.AuthReasonBrowser, fmt.Errorf("ページの作成に失敗しました: %w", err))
	}

	s.launch = l
	s.browser = browser
	s.page = page
	s.logger.Info("ブラウザを起動しました", "headless", s.cfg.Headless)

	return page, nil
}

// applyCookies は保存済みCookieセットをページに適用する。
func (s *SkoolSource) applyCookies(page *rod.Page, cookies []model.CookieRecord) error {
	if len(cookies) == 0 {
		return nil
	}

	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}

	if err := page.SetCookies(params); err != nil {
		return fmt.Errorf("Cookieの適用に失敗しました: %w", err)
	}
	return nil
}

// collectCookies はページの現在のCookieセットを取得する。
func (s *SkoolSource) collectCookies(page *rod.Page) ([]model.CookieRecord, error) {
	res, err := proto.NetworkGetCookies{}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("Cookieの取得に失敗しました: %w", err)
	}

	records := make([]model.CookieRecord, 0, len(res.Cookies))
	for _, c := range res.Cookies {
		records = append(records, model.CookieRecord{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return records, nil
}

// Login は認証フローを実行し、取得したCookieセットを返す。
func (s *SkoolSource) Login(ctx context.Context, email, secret string) ([]model.CookieRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, err := s.ensurePage()
	if err != nil {
		return nil, err
	}
	page := base.Context(ctx).Timeout(s.cfg.LoginTimeout)

	// 既存のCookieを消してから新規ログインする
	if err := (proto.NetworkClearBrowserCookies{}).Call(page); err != nil {
		return nil, model.NewAuthError(model.AuthReasonBrowser, fmt.Errorf("Cookieのクリアに失敗しました: %w", err))
	}

	loginURL := strings.TrimRight(s.cfg.BaseURL, "/") + "/login"
	if err := page.Navigate(loginURL); err != nil {
		return nil, model.NewAuthError(model.AuthReasonBrowser, fmt.Errorf("ログインページへの遷移に失敗しました: %w", err))
	}
	if err := page.WaitLoad(); err != nil {
		return nil, model.NewAuthError(model.AuthReasonBrowser, fmt.Errorf("ログインページの読み込みに失敗しました: %w", err))
	}

	fieldPage := page.Timeout(s.cfg.OperationTimeout)
	resolveElement := func(c Candidate) (*rod.Element, error) {
		return fieldPage.Element(c.Selector)
	}

	emailEl, used, err := FirstResolved("email", emailCandidates, resolveElement)
	if err != nil {
		return nil, model.NewAuthError(model.AuthReasonLoginFormNotFound, err)
	}
	s.logger.Debug("メール入力欄を解決しました", "selector", used.Selector)

	passwordEl, _, err := FirstResolved("password", passwordCandidates, resolveElement)
	if err != nil {
		return nil, model.NewAuthError(model.AuthReasonLoginFormNotFound, err)
	}

	submitEl, _, err := FirstResolved("submit", submitCandidates, resolveElement)
	if err != nil {
		return nil, model.NewAuthError(model.AuthReasonLoginFormNotFound, err)
	}

	if err := emailEl.Input(email); err != nil {
		return nil, model.NewAuthError(model.AuthReasonBrowser, fmt.Errorf("メールアドレスの入力に失敗しました: %w", err))
	}
	if err := passwordEl.Input(secret); err != nil {
		return nil, model.NewAuthError(model.AuthReasonBrowser, fmt.Errorf("パスワードの入力に失敗しました: %w", err))
	}

	waitNav := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := submitEl.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, model.NewAuthError(model.AuthReasonBrowser, fmt.Errorf("ログインボタンのクリックに失敗しました: %w", err))
	}
	waitNav()

	// 認証失敗バナーが出ていれば資格情報エラーとして即座に返す
	if banner := s.findLoginError(page); banner != "" {
		return nil, model.NewAuthError(model.AuthReasonBadCredentials, fmt.Errorf("ログインに失敗しました: %s", banner))
	}

	// 明示的な成功確認。エラーバナーがないだけではログイン成功とみなさない
	if !s.isAuthenticated(page) {
		return nil, model.NewAuthError(model.AuthReasonVerifyFailed, fmt.Errorf("ログイン後の状態確認に失敗しました"))
	}

	cookies, err := s.collectCookies(page)
	if err != nil {
		return nil, model.NewAuthError(model.AuthReasonBrowser, err)
	}

	s.logger.Info("ログインに成功しました", "cookie_count", len(cookies))
	return cookies, nil
}

// findLoginError はログイン失敗バナーを探し、見つかればその本文を返す。
func (s *SkoolSource) findLoginError(page *rod.Page) string {
	for _, sel := range loginErrorSelectors {
		has, el, err := page.Has(sel)
		if err != nil || !has {
			continue
		}
		text, err := el.Text()
		if err != nil {
			continue
		}
		if msg := strings.TrimSpace(text); msg != "" {
			return msg
		}
	}
	return ""
}

// isAuthenticated はURLパターンまたはログイン後マーカーで認証済み状態を確認する。
func (s *SkoolSource) isAuthenticated(page *rod.Page) bool {
	info, err := page.Info()
	if err == nil {
		for _, hint := range authenticatedURLHints {
			if strings.Contains(info.URL, hint) {
				return true
			}
		}
	}

	for _, sel := range authenticatedMarkers {
		has, _, err := page.Has(sel)
		if err == nil && has {
			return true
		}
	}
	return false
}

// ProbeSession は保存済みCookieセットで認証済み状態が生きているかを確認する。
func (s *SkoolSource) ProbeSession(ctx context.Context, cookies []model.CookieRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, err := s.ensurePage()
	if err != nil {
		return err
	}
	page := base.Context(ctx).Timeout(s.cfg.OperationTimeout)

	if err := s.applyCookies(page, cookies); err != nil {
		return err
	}

	probeURL := strings.TrimRight(s.cfg.BaseURL, "/") + "/dashboard"
	if err := page.Navigate(probeURL); err != nil {
		return fmt.Errorf("セッション確認ページへの遷移に失敗しました: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("セッション確認ページの読み込みに失敗しました: %w", err)
	}

	if !s.isAuthenticated(page) {
		return fmt.Errorf("保存済みセッションは無効です")
	}
	return nil
}

// 投稿・コメントのDOM取得に使う候補セレクタ。
var (
	postContainerSelectors = []string{
		`[data-testid="post"]`,
		`[data-post-id]`,
		`article`,
	}
	postContentSelectors = []string{
		`[data-testid="post-content"]`,
		`.post-content`,
	}
	postAuthorSelectors = []string{
		`[data-testid="post-author"]`,
		`.post-author`,
	}
	commentContainerSelectors = []string{
		`[data-testid="comment"]`,
		`[data-comment-id]`,
	}
	commentTextSelectors = []string{
		`[data-testid="comment-text"]`,
		`.comment-text`,
	}
	commentAuthorSelectors = []string{
		`[data-testid="comment-author"]`,
		`.comment-author`,
	}
)

// ListPosts はコミュニティページの現在の投稿一覧を返す。
func (s *SkoolSource) ListPosts(ctx context.Context, cookies []model.CookieRecord, communityURL string) ([]model.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, err := s.ensurePage()
	if err != nil {
		return nil, err
	}
	page := base.Context(ctx).Timeout(s.cfg.OperationTimeout)

	if err := s.applyCookies(page, cookies); err != nil {
		return nil, model.NewScanError(communityURL, err)
	}
	if err := page.Navigate(communityURL); err != nil {
		return nil, model.NewScanError(communityURL, fmt.Errorf("コミュニティページへの遷移に失敗しました: %w", err))
	}
	if err := page.WaitLoad(); err != nil {
		return nil, model.NewScanError(communityURL, fmt.Errorf("コミュニティページの読み込みに失敗しました: %w", err))
	}

	// ログインページへリダイレクトされた場合はセッション失効として扱う
	if info, err := page.Info(); err == nil && strings.Contains(info.URL, "/login") {
		return nil, model.NewScanError(communityURL,
			model.NewAuthError(model.AuthReasonVerifyFailed, fmt.Errorf("スキャン中にログインページへリダイレクトされました")))
	}

	elements, err := s.firstNonEmptyElements(page, postContainerSelectors)
	if err != nil {
		return nil, model.NewScanError(communityURL, err)
	}

	now := time.Now()
	items := make([]model.ContentItem, 0, len(elements))
	for _, el := range elements {
		item, err := s.buildPostItem(el, now)
		if err != nil {
			s.logger.Warn("投稿要素の解析に失敗しました", "error", err)
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

// firstNonEmptyElements は候補セレクタを順に試し、最初に1件以上マッチした
// 要素集合を返す。全候補が空の場合は空集合を返す（投稿ゼロは正常系）。
func (s *SkoolSource) firstNonEmptyElements(page *rod.Page, selectors []string) (rod.Elements, error) {
	for _, sel := range selectors {
		els, err := page.Elements(sel)
		if err != nil {
			return nil, fmt.Errorf("要素の取得に失敗しました: selector=%s: %w", sel, err)
		}
		if len(els) > 0 {
			return els, nil
		}
	}
	return rod.Elements{}, nil
}

// buildPostItem は投稿要素からContentItemを組み立てる。
func (s *SkoolSource) buildPostItem(el *rod.Element, observedAt time.Time) (model.ContentItem, error) {
	itemID := s.elementID(el, "data-post-id")

	body, err := s.childText(el, postContentSelectors)
	if err != nil {
		return model.ContentItem{}, err
	}
	if body == "" {
		// 本文用の子要素がなければ投稿全体のテキストを使う
		raw, err := el.HTML()
		if err != nil {
			return model.ContentItem{}, fmt.Errorf("投稿本文の取得に失敗しました: %w", err)
		}
		body = s.text.ExtractText(raw)
	}

	author, err := s.childText(el, postAuthorSelectors)
	if err != nil {
		return model.ContentItem{}, err
	}

	return model.ContentItem{
		ItemID:     itemID,
		Kind:       model.ItemKindPost,
		AuthorName: author,
		AuthorRef:  author,
		Body:       body,
		ObservedAt: observedAt,
	}, nil
}

// ListComments は指定投稿のコメント一覧を返す。
// 直前のListPostsで開いたコミュニティページ上で投稿コンテナを特定し、
// その内部のコメント要素のみを読む。
func (s *SkoolSource) ListComments(ctx context.Context, cookies []model.CookieRecord, post model.ContentItem) ([]model.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, err := s.ensurePage()
	if err != nil {
		return nil, err
	}
	page := base.Context(ctx).Timeout(s.cfg.OperationTimeout)

	postEl, err := s.findPostElement(page, post)
	if err != nil {
		return nil, err
	}

	var commentEls rod.Elements
	for _, sel := range commentContainerSelectors {
		els, err := postEl.Elements(sel)
		if err != nil {
			return nil, fmt.Errorf("コメント要素の取得に失敗しました: %w", err)
		}
		if len(els) > 0 {
			commentEls = els
			break
		}
	}

	now := time.Now()
	items := make([]model.ContentItem, 0, len(commentEls))
	for _, el := range commentEls {
		author, err := s.childText(el, commentAuthorSelectors)
		if err != nil || author == "" {
			// 投稿者名のないコメントはDM送信先を解決できないため読み飛ばす
			s.logger.Warn("コメント投稿者名を解決できませんでした", "post_id", post.ItemID)
			continue
		}

		body, err := s.childText(el, commentTextSelectors)
		if err != nil {
			s.logger.Warn("コメント本文の解析に失敗しました", "post_id", post.ItemID, "error", err)
			continue
		}

		items = append(items, model.ContentItem{
			ItemID:     s.elementID(el, "data-comment-id"),
			Kind:       model.ItemKindComment,
			ParentID:   post.ItemID,
			AuthorName: author,
			AuthorRef:  author,
			Body:       body,
			ObservedAt: now,
		})
	}

	return items, nil
}

// findPostElement は直前のスキャンで観測した投稿のコンテナ要素を再解決する。
// data-post-id 属性を持つ投稿は属性セレクタで特定する。属性がなく代理IDを
// 割り当てた投稿は、投稿一覧と同じ候補セレクタで列挙し直し、投稿者と本文の
// 一致で特定する。
func (s *SkoolSource) findPostElement(page *rod.Page, post model.ContentItem) (*rod.Element, error) {
	if !isSyntheticID(post.ItemID) {
		has, el, err := page.Has(fmt.Sprintf(`[data-post-id=%q]`, post.ItemID))
		if err != nil {
			return nil, fmt.Errorf("投稿コンテナの探索に失敗しました: %w", err)
		}
		if has {
			return el, nil
		}
	}

	elements, err := s.firstNonEmptyElements(page, postContainerSelectors)
	if err != nil {
		return nil, fmt.Errorf("投稿コンテナの探索に失敗しました: %w", err)
	}

	now := time.Now()
	candidates := make([]model.ContentItem, len(elements))
	for i, el := range elements {
		item, err := s.buildPostItem(el, now)
		if err != nil {
			continue
		}
		candidates[i] = item
	}

	if i := selectPostIndex(candidates, post); i >= 0 {
		return elements[i], nil
	}
	return nil, fmt.Errorf("投稿コンテナが見つかりません: post_id=%s", post.ItemID)
}

// selectPostIndex は再列挙した候補の中から対象投稿の位置を返す。
// data-post-id 由来のIDは完全一致で、代理IDは投稿者と本文の一致で判定する。
// 見つからない場合は-1を返す。
func selectPostIndex(candidates []model.ContentItem, target model.ContentItem) int {
	for i, c := range candidates {
		if c.ItemID == "" {
			continue
		}
		if !isSyntheticID(target.ItemID) {
			if c.ItemID == target.ItemID {
				return i
			}
			continue
		}
		if c.AuthorName == target.AuthorName && c.Body == target.Body {
			return i
		}
	}
	return -1
}

// syntheticIDPrefix はID属性を持たない要素に割り当てる代理IDの接頭辞。
const syntheticIDPrefix = "synthetic-"

// isSyntheticID はIDが代理IDかどうかを返す。
// 代理IDはスキャンのたびに生成し直されるため、同一性の判定には使えない。
func isSyntheticID(id string) bool {
	return strings.HasPrefix(id, syntheticIDPrefix)
}

// elementID は要素のID属性を読み、なければ代理IDを生成する。
func (s *SkoolSource) elementID(el *rod.Element, attr string) string {
	v, err := el.Attribute(attr)
	if err == nil && v != nil && *v != "" {
		return *v
	}
	return syntheticIDPrefix + uuid.NewString()
}

// childText は候補セレクタのいずれかにマッチする子要素のテキストを返す。
// どの候補にもマッチしない場合は空文字列を返す。
func (s *SkoolSource) childText(el *rod.Element, selectors []string) (string, error) {
	for _, sel := range selectors {
		children, err := el.Elements(sel)
		if err != nil {
			return "", fmt.Errorf("子要素の取得に失敗しました: selector=%s: %w", sel, err)
		}
		if len(children) == 0 {
			continue
		}
		raw, err := children.First().HTML()
		if err != nil {
			return "", fmt.Errorf("子要素の読み取りに失敗しました: %w", err)
		}
		return s.text.ExtractText(raw), nil
	}
	return "", nil
}

// DM送信フローの各ステージで使うセレクタ。
const (
	dmRecipientSelector    = `[data-testid="message-recipient"]`
	dmSearchResultSelector = `[data-testid="search-result"]`
	dmMessageSelector      = `[data-testid="message-input"]`
	dmSendButtonSelector   = `[data-testid="send-message"]`
	dmSentMarkerSelector   = `[data-testid="message-sent"]`
)

// SendDirectMessage は受信者を解決してDMを送信する。
// 失敗時はどのステージで失敗したかをSendErrorとして返す。
func (s *SkoolSource) SendDirectMessage(ctx context.Context, cookies []model.CookieRecord, recipientName, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, err := s.ensurePage()
	if err != nil {
		return model.NewSendError(model.SendStageCompose, err)
	}
	page := base.Context(ctx).Timeout(s.cfg.OperationTimeout)

	if err := s.applyCookies(page, cookies); err != nil {
		return model.NewSendError(model.SendStageCompose, err)
	}

	composeURL := strings.TrimRight(s.cfg.BaseURL, "/") + "/messages/new"
	if err := page.Navigate(composeURL); err != nil {
		return model.NewSendError(model.SendStageCompose, fmt.Errorf("メッセージ作成ページへの遷移に失敗しました: %w", err))
	}
	if err := page.WaitLoad(); err != nil {
		return model.NewSendError(model.SendStageCompose, fmt.Errorf("メッセージ作成ページの読み込みに失敗しました: %w", err))
	}

	recipientEl, err := page.Element(dmRecipientSelector)
	if err != nil {
		return model.NewSendError(model.SendStageCompose, fmt.Errorf("受信者入力欄が見つかりません: %w", err))
	}
	if err := recipientEl.Input(recipientName); err != nil {
		return model.NewSendError(model.SendStageRecipientSearch, fmt.Errorf("受信者名の入力に失敗しました: %w", err))
	}

	resultEl, err := page.Element(dmSearchResultSelector)
	if err != nil {
		return model.NewSendError(model.SendStageRecipientSearch, fmt.Errorf("受信者の検索結果が見つかりません: recipient=%s: %w", recipientName, err))
	}
	if err := resultEl.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return model.NewSendError(model.SendStageRecipientSearch, fmt.Errorf("検索結果の選択に失敗しました: %w", err))
	}

	messageEl, err := page.Element(dmMessageSelector)
	if err != nil {
		return model.NewSendError(model.SendStageMessageInput, fmt.Errorf("メッセージ入力欄が見つかりません: %w", err))
	}
	if err := messageEl.Input(message); err != nil {
		return model.NewSendError(model.SendStageMessageInput, fmt.Errorf("メッセージ本文の入力に失敗しました: %w", err))
	}

	sendEl, err := page.Element(dmSendButtonSelector)
	if err != nil {
		return model.NewSendError(model.SendStageSend, fmt.Errorf("送信ボタンが見つかりません: %w", err))
	}
	if err := sendEl.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return model.NewSendError(model.SendStageSend, fmt.Errorf("送信ボタンのクリックに失敗しました: %w", err))
	}

	// 送信完了マーカーが出るまでが送信成功の条件
	confirmPage := page.Timeout(s.cfg.SendConfirmWait)
	if _, err := confirmPage.Element(dmSentMarkerSelector); err != nil {
		return model.NewSendError(model.SendStageConfirmation, fmt.Errorf("送信完了を確認できませんでした: %w", err))
	}

	s.logger.Info("DMを送信しました", "recipient", recipientName)
	return nil
}

// Close は保持しているブラウザ資源を解放する。
func (s *SkoolSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return nil
	}

	err := s.browser.Close()
	if s.launch != nil {
		s.launch.Cleanup()
	}
	s.page = nil
	s.browser = nil
	s.launch = nil

	if err != nil {
		return fmt.Errorf("ブラウザの終了に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ContentSource = (*SkoolSource)(nil)
