package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
)

// PostgresTargetRepo はPostgreSQLを使用した監視対象リポジトリ。
// キーワードはカンマ区切りの正規化済み文字列として保存する。
type PostgresTargetRepo struct {
	db *sql.DB
}

// NewPostgresTargetRepo はPostgresTargetRepoを生成する。
func NewPostgresTargetRepo(db *sql.DB) *PostgresTargetRepo {
	return &PostgresTargetRepo{db: db}
}

// FindByOwner は指定オーナーの監視対象を取得する。見つからない場合はnilを返す。
func (r *PostgresTargetRepo) FindByOwner(ctx context.Context, ownerID string) (*model.ScanTarget, error) {
	target := &model.ScanTarget{}
	var keywords string

	err := r.db.QueryRowContext(ctx,
		`SELECT owner_id, community_url, keywords, message_template,
		        test_mode, monitoring_enabled, created_at, updated_at
		 FROM scan_targets WHERE owner_id = $1`,
		ownerID,
	).Scan(
		&target.OwnerID, &target.CommunityURL, &keywords, &target.MessageTemplate,
		&target.TestMode, &target.MonitoringEnabled, &target.CreatedAt, &target.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("監視対象の取得に失敗しました: %w", err)
	}

	target.Keywords = splitKeywords(keywords)

	return target, nil
}

// Upsert は監視対象設定を冪等に保存する。
func (r *PostgresTargetRepo) Upsert(ctx context.Context, target *model.ScanTarget) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO scan_targets (owner_id, community_url, keywords, message_template,
		                           test_mode, monitoring_enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		 ON CONFLICT (owner_id)
		 DO UPDATE SET community_url = EXCLUDED.community_url,
		               keywords = EXCLUDED.keywords,
		               message_template = EXCLUDED.message_template,
		               test_mode = EXCLUDED.test_mode,
		               monitoring_enabled = EXCLUDED.monitoring_enabled,
		               updated_at = now()`,
		target.OwnerID, target.CommunityURL, strings.Join(target.Keywords, ","),
		target.MessageTemplate, target.TestMode, target.MonitoringEnabled,
	)
	if err != nil {
		return fmt.Errorf("監視対象の保存に失敗しました: %w", err)
	}
	return nil
}

// SetMonitoringEnabled は監視フラグのみを更新する。
func (r *PostgresTargetRepo) SetMonitoringEnabled(ctx context.Context, ownerID string, enabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scan_targets SET monitoring_enabled = $2, updated_at = now() WHERE owner_id = $1`,
		ownerID, enabled,
	)
	if err != nil {
		return fmt.Errorf("監視フラグの更新に失敗しました: %w", err)
	}
	return nil
}

// ListMonitoringEnabled は監視が有効な全対象を返す。
func (r *PostgresTargetRepo) ListMonitoringEnabled(ctx context.Context) ([]*model.ScanTarget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT owner_id, community_url, keywords, message_template,
		        test_mode, monitoring_enabled, created_at, updated_at
		 FROM scan_targets
		 WHERE monitoring_enabled = TRUE
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("監視対象一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var targets []*model.ScanTarget
	for rows.Next() {
		target := &model.ScanTarget{}
		var keywords string

		if err := rows.Scan(
			&target.OwnerID, &target.CommunityURL, &keywords, &target.MessageTemplate,
			&target.TestMode, &target.MonitoringEnabled, &target.CreatedAt, &target.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("監視対象一覧の読み取りに失敗しました: %w", err)
		}

		target.Keywords = splitKeywords(keywords)
		targets = append(targets, target)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("監視対象一覧の走査に失敗しました: %w", err)
	}

	return targets, nil
}

// splitKeywords は保存形式のカンマ区切り文字列をスライスに戻す。
func splitKeywords(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			keywords = append(keywords, p)
		}
	}
	return keywords
}

// compile-time interface check
var _ TargetRepository = (*PostgresTargetRepo)(nil)
