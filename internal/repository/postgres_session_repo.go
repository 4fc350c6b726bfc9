package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したSkoolセッションリポジトリ。
// Cookie列はJSONBの不透明ブロブとして保存する。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// FindByOwner は指定オーナーのセッションを取得する。見つからない場合はnilを返す。
// ロード直後のセッション状態は保存値にかかわらずUnknownを返す。
// プローブを通過するまでValidと見なしてはならないため。
func (r *PostgresSessionRepo) FindByOwner(ctx context.Context, ownerID string) (*model.SkoolSession, error) {
	session := &model.SkoolSession{}
	var cookiesJSON []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, cookies, established_at, last_validated_at, updated_at
		 FROM skool_sessions WHERE owner_id = $1`,
		ownerID,
	).Scan(
		&session.ID, &session.OwnerID, &cookiesJSON,
		&session.EstablishedAt, &session.LastValidatedAt, &session.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}

	if err := json.Unmarshal(cookiesJSON, &session.Cookies); err != nil {
		return nil, fmt.Errorf("Cookieブロブの解析に失敗しました: %w", err)
	}

	session.State = model.SessionStateUnknown

	return session, nil
}

// Upsert はセッションを保存する。既存行は上書きされる。
func (r *PostgresSessionRepo) Upsert(ctx context.Context, session *model.SkoolSession) error {
	cookiesJSON, err := json.Marshal(session.Cookies)
	if err != nil {
		return fmt.Errorf("Cookieブロブのシリアライズに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO skool_sessions (id, owner_id, cookies, state, established_at, last_validated_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (owner_id)
		 DO UPDATE SET id = EXCLUDED.id, cookies = EXCLUDED.cookies, state = EXCLUDED.state,
		               established_at = EXCLUDED.established_at,
		               last_validated_at = EXCLUDED.last_validated_at, updated_at = now()`,
		session.ID, session.OwnerID, cookiesJSON, session.State,
		session.EstablishedAt, session.LastValidatedAt,
	)
	if err != nil {
		return fmt.Errorf("セッションの保存に失敗しました: %w", err)
	}
	return nil
}

// DeleteByOwner は指定オーナーのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByOwner(ctx context.Context, ownerID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM skool_sessions WHERE owner_id = $1`,
		ownerID,
	)
	if err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
