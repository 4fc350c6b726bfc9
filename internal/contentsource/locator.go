package contentsource

import (
	"fmt"
	"strings"
)

// Candidate は意味的ロケータの1候補を表す。
// マークアップの揺れに耐えるため、同じ意味を持つセレクタを
// 優先順に複数持ち、最初に解決したものを採用する。
type Candidate struct {
	Selector string
	Label    string
}

// LocatorExhaustedError はフィールドの候補ロケータを全て使い果たしたことを表す。
type LocatorExhaustedError struct {
	Field     string
	Attempted []string
}

// Error はerrorインターフェースを実装する。
func (e *LocatorExhaustedError) Error() string {
	return fmt.Sprintf("ロケータ候補を全て使い果たしました: field=%s attempted=[%s]",
		e.Field, strings.Join(e.Attempted, ", "))
}

// FirstResolved は候補を優先順に試し、最初に解決した値と採用候補を返す。
// 全候補が失敗した場合はLocatorExhaustedErrorを返す。
func FirstResolved[T any](field string, candidates []Candidate, resolve func(Candidate) (T, error)) (T, Candidate, error) {
	var zero T

	attempted := make([]string, 0, len(candidates))
	for _, c := range candidates {
		v, err := resolve(c)
		if err == nil {
			return v, c, nil
		}
		attempted = append(attempted, c.Selector)
	}

	return zero, Candidate{}, &LocatorExhaustedError{Field: field, Attempted: attempted}
}
