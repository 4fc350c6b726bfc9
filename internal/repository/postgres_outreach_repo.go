package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// PostgresOutreachRepo はPostgreSQLを使用したアウトリーチ台帳リポジトリ。
// (owner_id, recipient_name, keyword) の一意インデックスにより、
// 並行する予約のcheck-then-insertをデータベース側で直列化する。
type PostgresOutreachRepo struct {
	db *sql.DB
}

// NewPostgresOutreachRepo はPostgresOutreachRepoを生成する。
func NewPostgresOutreachRepo(db *sql.DB) *PostgresOutreachRepo {
	return &PostgresOutreachRepo{db: db}
}

// FindByKey は (ownerID, recipientName, keyword) でレコードを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresOutreachRepo) FindByKey(ctx context.Context, ownerID, recipientName, keyword string) (*model.OutreachRecord, error) {
	record := &model.OutreachRecord{}
	var recipientRef, triggeringItemID, parentItemID sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, recipient_ref, recipient_name, keyword, message,
		        triggering_item_id, parent_item_id, status, created_at, updated_at
		 FROM outreach_records
		 WHERE owner_id = $1 AND recipient_name = $2 AND keyword = $3`,
		ownerID, recipientName, keyword,
	).Scan(
		&record.ID, &record.OwnerID, &recipientRef, &record.RecipientName,
		&record.Keyword, &record.Message, &triggeringItemID, &parentItemID,
		&record.Status, &record.CreatedAt, &record.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("台帳レコードの検索に失敗しました: %w", err)
	}

	record.RecipientRef = nullStringValue(recipientRef)
	record.TriggeringItemID = nullStringValue(triggeringItemID)
	record.ParentItemID = nullStringValue(parentItemID)

	return record, nil
}

// Create は新規レコードを作成する。
// 同一キーの行が既に存在する場合はmodel.ErrLedgerConflictを返す。
func (r *PostgresOutreachRepo) Create(ctx context.Context, record *model.OutreachRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO outreach_records (id, owner_id, recipient_ref, recipient_name, keyword,
		                               message, triggering_item_id, parent_item_id, status,
		                               created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		record.ID, record.OwnerID, nullString(record.RecipientRef), record.RecipientName,
		record.Keyword, record.Message, nullString(record.TriggeringItemID),
		nullString(record.ParentItemID), record.Status, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return model.ErrLedgerConflict
		}
		return fmt.Errorf("台帳レコードの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus は指定レコードの状態を遷移させる。
func (r *PostgresOutreachRepo) UpdateStatus(ctx context.Context, recordID string, status model.OutreachStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outreach_records SET status = $2, updated_at = now() WHERE id = $1`,
		recordID, status,
	)
	if err != nil {
		return fmt.Errorf("台帳レコードの更新に失敗しました: %w", err)
	}
	return nil
}

// ListByOwner はオーナーの台帳履歴を作成日時降順で返す。
func (r *PostgresOutreachRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.OutreachRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, recipient_ref, recipient_name, keyword, message,
		        triggering_item_id, parent_item_id, status, created_at, updated_at
		 FROM outreach_records
		 WHERE owner_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("台帳履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var records []*model.OutreachRecord
	for rows.Next() {
		record := &model.OutreachRecord{}
		var recipientRef, triggeringItemID, parentItemID sql.NullString

		if err := rows.Scan(
			&record.ID, &record.OwnerID, &recipientRef, &record.RecipientName,
			&record.Keyword, &record.Message, &triggeringItemID, &parentItemID,
			&record.Status, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("台帳履歴の読み取りに失敗しました: %w", err)
		}

		record.RecipientRef = nullStringValue(recipientRef)
		record.TriggeringItemID = nullStringValue(triggeringItemID)
		record.ParentItemID = nullStringValue(parentItemID)

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("台帳履歴の走査に失敗しました: %w", err)
	}

	return records, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ OutreachRepository = (*PostgresOutreachRepo)(nil)
