// Package dispatcher はDMの送信実行を担う。
//
// テストモードでは実際の送信を行わず、即座にTestedとして成立させる。
// 実送信はレートリミッタで間隔が保証され、内部での再試行は行わない。
// 失敗の扱い（Failed確定）は呼び出し側の台帳確定に委ねる。
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/contentsource"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
)

// Dispatcher はDM送信の実行器。
type Dispatcher struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New はDispatcherの新しいインスタンスを生成する。
// minIntervalは実送信の最小間隔。テストモードの送信には適用されない。
func New(minInterval time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		logger:  logger,
	}
}

// Dispatch はDMを1件送信し、確定すべき状態を返す。
// テストモードではネットワークに一切触れずTestedを返す。
// 実送信が失敗した場合はFailedとステージ付きエラーを返す。再試行は行わない。
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	src contentsource.ContentSource,
	cookies []model.CookieRecord,
	recipientName, message string,
	testMode bool,
) (model.OutreachStatus, error) {
	if testMode {
		d.logger.Info("テストモードのため送信をスキップしました", "recipient", recipientName)
		return model.OutreachStatusTested, nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return model.OutreachStatusFailed, fmt.Errorf("送信レート制限の待機が中断されました: %w", err)
	}

	start := time.Now()
	if err := src.SendDirectMessage(ctx, cookies, recipientName, message); err != nil {
		return model.OutreachStatusFailed, err
	}

	d.logger.Info("DMの送信が完了しました",
		"recipient", recipientName, "elapsed", time.Since(start).String())
	return model.OutreachStatusSent, nil
}
