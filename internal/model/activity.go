// Package model はドメインモデルを定義する。
package model

import "time"

// ActivityStatus はアクティビティイベントの重要度を表す。
type ActivityStatus string

const (
	// ActivityStatusInfo は情報イベント。
	ActivityStatusInfo ActivityStatus = "info"
	// ActivityStatusSuccess は成功イベント。
	ActivityStatusSuccess ActivityStatus = "success"
	// ActivityStatusError はエラーイベント。
	ActivityStatusError ActivityStatus = "error"
)

// アクティビティのアクション名。
const (
	ActionLogin        = "login"
	ActionMonitorStart = "monitor_start"
	ActionMonitorStop  = "monitor_stop"
	ActionPostCheck    = "post_check"
	ActionCommentCheck = "comment_check"
	ActionDMSent       = "dm_sent"
	ActionDMTest       = "dm_test"
	ActionDMSkip       = "dm_skip"
	ActionDMError      = "dm_error"
	ActionPostError    = "post_error"
	ActionCommentError = "comment_error"
	ActionScanError    = "scan_error"
)

// ActivityEvent はオーナーごとの追記専用アクティビティイベントを表す。
// Activity Loggerのみが書き込み、発生順に記録される。
type ActivityEvent struct {
	ID        string
	OwnerID   string
	Action    string
	Status    ActivityStatus
	Details   string
	CreatedAt time.Time
}
