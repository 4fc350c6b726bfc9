// Package engine は監視ループとその制御を提供する。
//
// オーナーごとに1つのPollerが動き、サイクルごとにコミュニティを
// スキャンしてキーワードにマッチしたコメント投稿者へDMを送る。
// 次のサイクルは前のサイクルが完全に終わってから予約されるため、
// 処理が遅延してもサイクルが重なることはない。
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/contentsource"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/ledger"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/matcher"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/metrics"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/repository"
)

// SessionService はセッション管理のインターフェース。
type SessionService interface {
	EnsureAuthenticated(ctx context.Context, ownerID string, src contentsource.ContentSource) (*model.SkoolSession, error)
	Connect(ctx context.Context, ownerID, email, secret string, src contentsource.ContentSource) error
	ConsecutiveFailures(ownerID string) int
	Invalidate(ownerID string)
}

// OutreachLedger はアウトリーチ台帳のインターフェース。
type OutreachLedger interface {
	CheckAndReserve(ctx context.Context, in ledger.ReserveInput) (*ledger.Reservation, error)
	Finalize(ctx context.Context, recordID string, status model.OutreachStatus) error
}

// MessageDispatcher はDM送信実行のインターフェース。
type MessageDispatcher interface {
	Dispatch(ctx context.Context, src contentsource.ContentSource, cookies []model.CookieRecord,
		recipientName, message string, testMode bool) (model.OutreachStatus, error)
}

// ActivityRecorder はアクティビティ記録のインターフェース。
type ActivityRecorder interface {
	Record(ctx context.Context, ownerID, action string, status model.ActivityStatus, details string)
}

// PollerConfig はPollerの動作設定。
type PollerConfig struct {
	// PollInterval はサイクル完了から次サイクル開始までの間隔。
	PollInterval time.Duration
	// MaxAuthFailures は連続認証失敗を運用者へ通知するしきい値。
	MaxAuthFailures int
}

// Poller は1オーナーの監視ループを実行する。
// ContentSource（ブラウザ資源）はPollerが排他的に所有する。
type Poller struct {
	ownerID    string
	cfg        PollerConfig
	targets    repository.TargetRepository
	sessions   SessionService
	src        contentsource.ContentSource
	ledger     OutreachLedger
	dispatcher MessageDispatcher
	recorder   ActivityRecorder
	collector  metrics.MetricsCollector
	logger     *slog.Logger
}

// NewPoller はPollerの新しいインスタンスを生成する。
func NewPoller(
	ownerID string,
	cfg PollerConfig,
	targets repository.TargetRepository,
	sessions SessionService,
	src contentsource.ContentSource,
	outreach OutreachLedger,
	dispatcher MessageDispatcher,
	recorder ActivityRecorder,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		ownerID:    ownerID,
		cfg:        cfg,
		targets:    targets,
		sessions:   sessions,
		src:        src,
		ledger:     outreach,
		dispatcher: dispatcher,
		recorder:   recorder,
		collector:  collector,
		logger:     logger,
	}
}

// Run は監視ループを実行する。コンテキストのキャンセル、または
// 監視フラグの無効化を検出するまで戻らない。
// 次サイクルのタイマーは現在のサイクルが完了してから張られる。
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("監視ループを開始します", "owner_id", p.ownerID, "interval", p.cfg.PollInterval.String())

	for {
		if p.runCycle(ctx) {
			p.logger.Info("監視ループを終了します", "owner_id", p.ownerID)
			return
		}

		timer := time.NewTimer(p.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("監視ループを終了します", "owner_id", p.ownerID)
			return
		case <-timer.C:
		}
	}
}

// runCycle は1サイクルを実行する。戻り値はループを終了すべきかどうか。
// サイクル内の失敗はサイクルのスキップまたはアイテムの読み飛ばしに留まり、
// ループ自体は必ず生き続ける。
func (p *Poller) runCycle(ctx context.Context) (stop bool) {
	if ctx.Err() != nil {
		return true
	}

	// 設定はサイクルごとに読み直す。外部からの更新を次サイクルで反映する
	target, err := p.targets.FindByOwner(ctx, p.ownerID)
	if err != nil {
		p.logger.Error("監視対象の読み込みに失敗しました", "owner_id", p.ownerID, "error", err)
		return false
	}
	if target == nil || !target.MonitoringEnabled {
		return true
	}

	sess, err := p.sessions.EnsureAuthenticated(ctx, p.ownerID, p.src)
	if err != nil {
		p.collector.RecordLoginAttempt(false)
		p.recorder.Record(ctx, p.ownerID, model.ActionLogin, model.ActivityStatusError, err.Error())
		if n := p.sessions.ConsecutiveFailures(p.ownerID); n >= p.cfg.MaxAuthFailures {
			p.recorder.Record(ctx, p.ownerID, model.ActionScanError, model.ActivityStatusError,
				fmt.Sprintf("認証が%d回連続で失敗しています。認証情報を確認してください", n))
		}
		return false
	}

	posts, err := p.src.ListPosts(ctx, sess.Cookies, target.CommunityURL)
	if err != nil {
		// 一覧の取得失敗はこのサイクル全体をスキップする
		p.invalidateOnAuthError(err)
		p.collector.RecordScanError()
		p.recorder.Record(ctx, p.ownerID, model.ActionScanError, model.ActivityStatusError, err.Error())
		return false
	}

	for _, post := range posts {
		// 停止要求はアイテム境界でのみ観測する
		if ctx.Err() != nil {
			return true
		}
		p.scanPost(ctx, target, sess, post)
	}

	p.collector.RecordCycle()
	return false
}

// scanPost は投稿1件を処理する。投稿単位の失敗はこの中に閉じ込める。
func (p *Poller) scanPost(ctx context.Context, target *model.ScanTarget, sess *model.SkoolSession, post model.ContentItem) {
	matched := matcher.Match(post.Body, target.Keywords)
	p.recorder.Record(ctx, p.ownerID, model.ActionPostCheck, model.ActivityStatusInfo,
		fmt.Sprintf("%s: マッチ [%s]", post.AuthorName, strings.Join(matched, ", ")))

	// キーワードを含まない投稿のコメントはスキャンしない
	if len(matched) == 0 {
		return
	}
	for _, k := range matched {
		p.collector.RecordMatch(k)
	}

	comments, err := p.src.ListComments(ctx, sess.Cookies, post)
	if err != nil {
		p.invalidateOnAuthError(err)
		p.recorder.Record(ctx, p.ownerID, model.ActionPostError, model.ActivityStatusError,
			fmt.Sprintf("post=%s: %v", post.ItemID, err))
		return
	}

	p.recorder.Record(ctx, p.ownerID, model.ActionCommentCheck, model.ActivityStatusInfo,
		fmt.Sprintf("post=%s: %d件のコメントを確認します", post.ItemID, len(comments)))

	for _, comment := range comments {
		if ctx.Err() != nil {
			return
		}
		if err := p.processComment(ctx, target, sess, post, comment, matched); err != nil {
			// コメント単位の失敗は記録して次のコメントへ進む
			p.recorder.Record(ctx, p.ownerID, model.ActionCommentError, model.ActivityStatusError,
				fmt.Sprintf("comment=%s: %v", comment.ItemID, err))
		}
	}
}

// processComment はコメント1件を処理する。
// コメントは親投稿がマッチしたキーワードの部分集合に対してのみ照合される。
func (p *Poller) processComment(ctx context.Context, target *model.ScanTarget, sess *model.SkoolSession,
	post model.ContentItem, comment model.ContentItem, postKeywords []string) error {
	if comment.AuthorName == "" {
		return fmt.Errorf("コメント投稿者名が空です")
	}

	matched := matcher.Match(comment.Body, postKeywords)
	for _, keyword := range matched {
		p.handleMatch(ctx, target, sess, comment, keyword)
	}
	return nil
}

// handleMatch はマッチ1件を台帳予約から確定まで処理する。
func (p *Poller) handleMatch(ctx context.Context, target *model.ScanTarget, sess *model.SkoolSession,
	comment model.ContentItem, keyword string) {
	message := RenderMessage(target.MessageTemplate, comment.AuthorName, keyword)

	res, err := p.ledger.CheckAndReserve(ctx, ledger.ReserveInput{
		OwnerID:          p.ownerID,
		RecipientRef:     comment.AuthorRef,
		RecipientName:    comment.AuthorName,
		Keyword:          keyword,
		Message:          message,
		TriggeringItemID: comment.ItemID,
		ParentItemID:     comment.ParentID,
	})
	if err != nil {
		p.recorder.Record(ctx, p.ownerID, model.ActionDMError, model.ActivityStatusError,
			fmt.Sprintf("%s / %s: 台帳予約に失敗しました: %v", comment.AuthorName, keyword, err))
		return
	}

	if res.AlreadyHandled {
		p.recorder.Record(ctx, p.ownerID, model.ActionDMSkip, model.ActivityStatusInfo,
			fmt.Sprintf("%s / %s は処理済みです (status=%s)", comment.AuthorName, keyword, res.PriorStatus))
		return
	}

	// 予約後に停止要求が来ていた場合、送信には入らずSkippedで確定する
	if ctx.Err() != nil {
		p.finalize(res.RecordID, model.OutreachStatusSkipped, comment.AuthorName, keyword)
		p.recorder.Record(context.WithoutCancel(ctx), p.ownerID, model.ActionDMSkip, model.ActivityStatusInfo,
			fmt.Sprintf("%s / %s: 停止要求により送信を見送りました", comment.AuthorName, keyword))
		return
	}

	// 開始した送信は停止要求で中断せず、必ず結果を確定させる
	sendCtx := context.WithoutCancel(ctx)
	start := time.Now()
	status, sendErr := p.dispatcher.Dispatch(sendCtx, p.src, sess.Cookies, comment.AuthorName, message, target.TestMode)

	p.finalize(res.RecordID, status, comment.AuthorName, keyword)
	p.collector.RecordOutreach(string(status))

	if sendErr != nil {
		p.invalidateOnAuthError(sendErr)
		p.recorder.Record(sendCtx, p.ownerID, model.ActionDMError, model.ActivityStatusError,
			fmt.Sprintf("%s / %s: %v", comment.AuthorName, keyword, sendErr))
		return
	}

	p.collector.RecordSendLatency(time.Since(start))

	action := model.ActionDMSent
	if status == model.OutreachStatusTested {
		action = model.ActionDMTest
	}
	p.recorder.Record(sendCtx, p.ownerID, action, model.ActivityStatusSuccess,
		fmt.Sprintf("%s / %s", comment.AuthorName, keyword))
}

// invalidateOnAuthError は認証起因の失敗を検出した場合にセッションを破棄する。
// 破棄されたセッションは鮮度期間の残りに関わらず、次のEnsureAuthenticatedで
// 再検証・再ログインの対象になる。
func (p *Poller) invalidateOnAuthError(err error) {
	var authErr *model.AuthError
	if !errors.As(err, &authErr) {
		return
	}
	p.sessions.Invalidate(p.ownerID)
	p.logger.Warn("スキャン中にセッション失効を検出しました",
		"owner_id", p.ownerID, "reason", string(authErr.Reason))
}

// finalize は台帳レコードを確定させる。失敗はログに残すだけでループは止めない。
func (p *Poller) finalize(recordID string, status model.OutreachStatus, recipientName, keyword string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.ledger.Finalize(ctx, recordID, status); err != nil {
		p.logger.Error("台帳レコードの確定に失敗しました",
			"owner_id", p.ownerID, "record_id", recordID, "status", status,
			"recipient", recipientName, "keyword", keyword, "error", err)
	}
}

// RenderMessage はメッセージテンプレートのプレースホルダを展開する。
// {name} は受信者名、{keyword} はマッチしたキーワードに置換される。
func RenderMessage(template, recipientName, keyword string) string {
	msg := strings.ReplaceAll(template, "{name}", recipientName)
	return strings.ReplaceAll(msg, "{keyword}", keyword)
}
