// Package ledger はアウトリーチ台帳への予約と確定を提供する。
//
// 同一の (オーナー, 受信者名, キーワード) に対するDMは最大1回しか
// 送信されない。予約はプロセス内のキー単位ミューテックスで直列化され、
// 永続層の一意制約が最後の砦として競合を検出する。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/repository"
)

// Reservation は予約の結果を表す。
type Reservation struct {
	// AlreadyHandled は同一キーが過去に処理済みであることを示す。
	// trueの場合、新しい送信は行われない。
	AlreadyHandled bool
	// RecordID は予約された（または既存の）台帳レコードのID。
	RecordID string
	// PriorStatus は既存レコードの状態。AlreadyHandledがtrueのときのみ有効。
	PriorStatus model.OutreachStatus
}

// ReserveInput は予約の入力。
type ReserveInput struct {
	OwnerID          string
	RecipientRef     string
	RecipientName    string
	Keyword          string
	Message          string
	TriggeringItemID string
	ParentItemID     string
}

// Ledger はアウトリーチ台帳の予約・確定を直列化する。
type Ledger struct {
	repo        repository.OutreachRepository
	logger      *slog.Logger
	retryFailed bool

	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

// New はLedgerの新しいインスタンスを生成する。
// retryFailedがtrueの場合、Failedで確定された既存レコードは
// 処理済みとは見なされず、再予約が許可される。
func New(repo repository.OutreachRepository, retryFailed bool, logger *slog.Logger) *Ledger {
	return &Ledger{
		repo:        repo,
		logger:      logger,
		retryFailed: retryFailed,
		keys:        make(map[string]*sync.Mutex),
	}
}

// keyMutex はキーごとのミューテックスを返す。
func (l *Ledger) keyMutex(ownerID, recipientName, keyword string) *sync.Mutex {
	key := fmt.Sprintf("%s\x00%s\x00%s", ownerID, recipientName, keyword)

	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.keys[key]
	if !ok {
		mu = &sync.Mutex{}
		l.keys[key] = mu
	}
	return mu
}

// CheckAndReserve は台帳を確認し、未処理であればPendingレコードを予約する。
// 同一キーのレコードが既に存在する場合はAlreadyHandledを返す。
// 同一キーへの並行予約は直列化され、勝者は1つだけになる。
func (l *Ledger) CheckAndReserve(ctx context.Context, in ReserveInput) (*Reservation, error) {
	mu := l.keyMutex(in.OwnerID, in.RecipientName, in.Keyword)
	mu.Lock()
	defer mu.Unlock()

	existing, err := l.repo.FindByKey(ctx, in.OwnerID, in.RecipientName, in.Keyword)
	if err != nil {
		return nil, fmt.Errorf("台帳の確認に失敗しました: %w", err)
	}

	if existing != nil {
		if l.retryFailed && existing.Status == model.OutreachStatusFailed {
			// 失敗レコードの再試行が許可されている場合のみ再予約する
			if err := l.repo.UpdateStatus(ctx, existing.ID, model.OutreachStatusPending); err != nil {
				return nil, fmt.Errorf("失敗レコードの再予約に失敗しました: %w", err)
			}
			l.logger.Info("失敗レコードを再予約しました",
				"owner_id", in.OwnerID, "recipient", in.RecipientName, "keyword", in.Keyword)
			return &Reservation{RecordID: existing.ID}, nil
		}
		return &Reservation{
			AlreadyHandled: true,
			RecordID:       existing.ID,
			PriorStatus:    existing.Status,
		}, nil
	}

	now := time.Now()
	record := &model.OutreachRecord{
		ID:               uuid.NewString(),
		OwnerID:          in.OwnerID,
		RecipientRef:     in.RecipientRef,
		RecipientName:    in.RecipientName,
		Keyword:          in.Keyword,
		Message:          in.Message,
		TriggeringItemID: in.TriggeringItemID,
		ParentItemID:     in.ParentItemID,
		Status:           model.OutreachStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := l.repo.Create(ctx, record); err != nil {
		if errors.Is(err, model.ErrLedgerConflict) {
			// 一意制約による競合。敗者は処理済みとして扱う
			winner, findErr := l.repo.FindByKey(ctx, in.OwnerID, in.RecipientName, in.Keyword)
			if findErr != nil || winner == nil {
				return &Reservation{AlreadyHandled: true}, nil
			}
			return &Reservation{
				AlreadyHandled: true,
				RecordID:       winner.ID,
				PriorStatus:    winner.Status,
			}, nil
		}
		return nil, fmt.Errorf("台帳レコードの作成に失敗しました: %w", err)
	}

	return &Reservation{RecordID: record.ID}, nil
}

// Finalize は予約済みレコードを最終状態へ遷移させる。
func (l *Ledger) Finalize(ctx context.Context, recordID string, status model.OutreachStatus) error {
	if err := l.repo.UpdateStatus(ctx, recordID, status); err != nil {
		return fmt.Errorf("台帳レコードの確定に失敗しました: %w", err)
	}
	return nil
}
