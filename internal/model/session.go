// Package model はドメインモデルを定義する。
package model

import "time"

// SessionState はSkoolセッションの検証状態を表す。
// ロード直後のセッションはUnknownであり、プローブを通過するまでValidにはならない。
type SessionState string

const (
	// SessionStateValid は直近の生存確認を通過した状態。
	SessionStateValid SessionState = "valid"
	// SessionStateUnknown はロード後に一度も検証されていない状態。
	SessionStateUnknown SessionState = "unknown"
)

// CookieRecord はSkoolサイトから取得した1件のCookieを表す。
// 値は不透明なデータとして扱い、エンジンは内容を解釈しない。
type CookieRecord struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
}

// SkoolSession はオーナーごとのSkool認証セッションを表す。
// Session Managerが排他的に所有し、オーナーにつき同時に1つだけ存在する。
// プロセス再起動後も再ログインなしで復元できるよう永続化される。
type SkoolSession struct {
	ID              string
	OwnerID         string
	Cookies         []CookieRecord
	State           SessionState
	EstablishedAt   time.Time
	LastValidatedAt time.Time
	UpdatedAt       time.Time
}

// Credentials はSkoolアカウントの認証情報を表す。
// Credential Storeが所有し、Session Managerは読み取りのみ行う。
type Credentials struct {
	OwnerID   string
	Email     string
	Secret    string
	UpdatedAt time.Time
}
