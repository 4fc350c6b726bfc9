// Package model はドメインモデルを定義する。
package model

import "time"

// OutreachStatus はアウトリーチレコードの状態を表す。
type OutreachStatus string

const (
	// OutreachStatusPending は予約済みで送信結果が未確定の状態。
	OutreachStatusPending OutreachStatus = "pending"
	// OutreachStatusSent はDM送信に成功した状態。
	OutreachStatusSent OutreachStatus = "sent"
	// OutreachStatusTested はテストモードで送信をスキップした状態。
	OutreachStatusTested OutreachStatus = "tested"
	// OutreachStatusSkipped は既存レコードにより送信を見送った状態。
	OutreachStatusSkipped OutreachStatus = "skipped"
	// OutreachStatusFailed は送信に失敗した終端状態。エンジンは再送しない。
	OutreachStatusFailed OutreachStatus = "failed"
)

// OutreachRecord は重複排除台帳の1行を表す。
// (OwnerID, RecipientName, Keyword) につき、Pending/Sent/Tested に到達する
// レコードは高々1つ。履歴は監査証跡のため削除されない（追記・更新のみ）。
type OutreachRecord struct {
	ID               string
	OwnerID          string
	RecipientRef     string
	RecipientName    string
	Keyword          string
	Message          string
	TriggeringItemID string
	ParentItemID     string
	Status           OutreachStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
