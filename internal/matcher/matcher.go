// Package matcher はキーワードマッチングの純粋関数を提供する。
// ネットワークにも永続化にも依存せず、決定的に動作する。
package matcher

import "strings"

// ParseKeywords はカンマ区切りのキーワード設定文字列を正規化する。
// 各要素をトリムして小文字化し、空要素と重複を取り除く。順序は入力順を保つ。
func ParseKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	keywords := make([]string, 0, len(parts))

	for _, p := range parts {
		k := strings.ToLower(strings.TrimSpace(p))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keywords = append(keywords, k)
	}

	return keywords
}

// Match はテキストに含まれるキーワードを返す。
// 大文字小文字を区別しない部分一致で判定する。
// テキストが空の場合はマッチなし。キーワードは正規化済み（ParseKeywords）を前提とする。
func Match(text string, keywords []string) []string {
	if text == "" || len(keywords) == 0 {
		return nil
	}

	lower := strings.ToLower(text)

	var matched []string
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if strings.Contains(lower, k) {
			matched = append(matched, k)
		}
	}

	return matched
}
