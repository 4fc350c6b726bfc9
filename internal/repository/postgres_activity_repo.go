package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
)

// PostgresActivityRepo はPostgreSQLを使用したアクティビティイベントリポジトリ。
type PostgresActivityRepo struct {
	db *sql.DB
}

// NewPostgresActivityRepo はPostgresActivityRepoを生成する。
func NewPostgresActivityRepo(db *sql.DB) *PostgresActivityRepo {
	return &PostgresActivityRepo{db: db}
}

// Insert はイベントを追記する。
func (r *PostgresActivityRepo) Insert(ctx context.Context, event *model.ActivityEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity_events (id, owner_id, action, status, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.OwnerID, event.Action, event.Status,
		nullString(event.Details), event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("アクティビティイベントの追記に失敗しました: %w", err)
	}
	return nil
}

// ListByOwner はオーナーのイベントを作成日時降順で返す。
func (r *PostgresActivityRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.ActivityEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, action, status, details, created_at
		 FROM activity_events
		 WHERE owner_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("アクティビティイベントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var events []*model.ActivityEvent
	for rows.Next() {
		event := &model.ActivityEvent{}
		var details sql.NullString

		if err := rows.Scan(
			&event.ID, &event.OwnerID, &event.Action, &event.Status,
			&details, &event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("アクティビティイベントの読み取りに失敗しました: %w", err)
		}

		event.Details = nullStringValue(details)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アクティビティイベントの走査に失敗しました: %w", err)
	}

	return events, nil
}

// compile-time interface check
var _ ActivityRepository = (*PostgresActivityRepo)(nil)
