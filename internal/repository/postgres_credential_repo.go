package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
)

// PostgresCredentialRepo はPostgreSQLを使用した認証情報リポジトリ。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// FindByOwner は指定オーナーの認証情報を取得する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByOwner(ctx context.Context, ownerID string) (*model.Credentials, error) {
	creds := &model.Credentials{}

	err := r.db.QueryRowContext(ctx,
		`SELECT owner_id, email, secret, updated_at
		 FROM skool_credentials WHERE owner_id = $1`,
		ownerID,
	).Scan(&creds.OwnerID, &creds.Email, &creds.Secret, &creds.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}

	return creds, nil
}

// Upsert は認証情報を冪等に保存する。
func (r *PostgresCredentialRepo) Upsert(ctx context.Context, creds *model.Credentials) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO skool_credentials (owner_id, email, secret, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (owner_id)
		 DO UPDATE SET email = EXCLUDED.email, secret = EXCLUDED.secret, updated_at = now()`,
		creds.OwnerID, creds.Email, creds.Secret,
	)
	if err != nil {
		return fmt.Errorf("認証情報の保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
