// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
)

// CredentialRepository はSkool認証情報の永続化インターフェース。
// エンジンは読み取りのみ行い、書き込みは接続操作（connect）に限られる。
type CredentialRepository interface {
	// FindByOwner は指定オーナーの認証情報を取得する。見つからない場合はnilを返す。
	FindByOwner(ctx context.Context, ownerID string) (*model.Credentials, error)

	// Upsert は認証情報を冪等に保存する。
	Upsert(ctx context.Context, creds *model.Credentials) error
}

// SessionRepository はSkoolセッション（Cookieブロブ）の永続化インターフェース。
// オーナーにつき1行。認証成功のたびに上書きされる。
type SessionRepository interface {
	// FindByOwner は指定オーナーのセッションを取得する。見つからない場合はnilを返す。
	// ロードされたセッションの状態は常にUnknownとして返す（プローブ前に
	// Validと見なしてはならない）。
	FindByOwner(ctx context.Context, ownerID string) (*model.SkoolSession, error)

	// Upsert はセッションを保存する。既存行は上書きされる。
	Upsert(ctx context.Context, session *model.SkoolSession) error

	// DeleteByOwner は指定オーナーのセッションを削除する。
	DeleteByOwner(ctx context.Context, ownerID string) error
}

// TargetRepository は監視対象設定の永続化インターフェース。
type TargetRepository interface {
	// FindByOwner は指定オーナーの監視対象を取得する。見つからない場合はnilを返す。
	FindByOwner(ctx context.Context, ownerID string) (*model.ScanTarget, error)

	// Upsert は監視対象設定を冪等に保存する。
	Upsert(ctx context.Context, target *model.ScanTarget) error

	// SetMonitoringEnabled は監視フラグのみを更新する。
	SetMonitoringEnabled(ctx context.Context, ownerID string, enabled bool) error

	// ListMonitoringEnabled は監視が有効な全対象を返す。
	// プロセス再起動時の監視再開に使用する。
	ListMonitoringEnabled(ctx context.Context) ([]*model.ScanTarget, error)
}

// OutreachRepository はアウトリーチ台帳の永続化インターフェース。
// レコードは削除されない（追記・更新のみ）。
type OutreachRepository interface {
	// FindByKey は (ownerID, recipientName, keyword) でレコードを検索する。
	// 見つからない場合はnilを返す。
	FindByKey(ctx context.Context, ownerID, recipientName, keyword string) (*model.OutreachRecord, error)

	// Create は新規レコードを作成する。
	// 同一キーの行が既に存在する場合はmodel.ErrLedgerConflictを返す。
	Create(ctx context.Context, record *model.OutreachRecord) error

	// UpdateStatus は指定レコードの状態を遷移させる。
	UpdateStatus(ctx context.Context, recordID string, status model.OutreachStatus) error

	// ListByOwner はオーナーの台帳履歴を作成日時降順で返す。
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.OutreachRecord, error)
}

// ActivityRepository はアクティビティイベントの永続化インターフェース。
type ActivityRepository interface {
	// Insert はイベントを追記する。
	Insert(ctx context.Context, event *model.ActivityEvent) error

	// ListByOwner はオーナーのイベントを作成日時降順で返す。
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.ActivityEvent, error)
}
