// Package model はドメインモデルを定義する。
package model

import "time"

// ScanTarget は監視対象コミュニティとアウトリーチ設定を表す。
// 外部コラボレータからの設定更新でのみ変更され、サイクル実行中は読み取り専用。
type ScanTarget struct {
	OwnerID           string
	CommunityURL      string
	Keywords          []string
	MessageTemplate   string
	TestMode          bool
	MonitoringEnabled bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ItemKind はコンテンツアイテムの種別を表す。
type ItemKind string

const (
	// ItemKindPost は投稿。
	ItemKindPost ItemKind = "post"
	// ItemKindComment は投稿に対するコメント。
	ItemKindComment ItemKind = "comment"
)

// ContentItem はスキャンで観測した投稿またはコメントを表す。
// サイクルごとに再構築される一時データであり、エンジンは永続化しない。
type ContentItem struct {
	ItemID     string
	Kind       ItemKind
	ParentID   string // Postの場合は空
	AuthorName string
	AuthorRef  string // 不透明な受信者識別子
	Body       string
	ObservedAt time.Time
}
