// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentTextService はスクレイピングで取得した投稿・コメントのHTML断片を
// キーワードマッチング用のプレーンテキストに正規化する。
// bluemondayの厳格ポリシーでタグと危険な属性を除去した上で、
// HTMLエンティティをデコードしたテキストを返す。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// ContentTextService はHTML断片からテキストを抽出するインターフェース。
// マッチング前の本文正規化に使用される。
type ContentTextService interface {
	// ExtractText はHTML断片からプレーンテキストを抽出する。
	// タグ・スクリプト・属性は全て除去され、テキストノードのみが
	// 空白1つで連結される。空入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	ExtractText(rawHTML string) string
}

// contentText はContentTextServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフに動作する。
type contentText struct {
	policy *bluemonday.Policy
}

// NewContentText はContentTextServiceの新しいインスタンスを生成する。
// StrictPolicyは全てのタグを除去し、テキストのみを通過させる。
func NewContentText() *contentText {
	return &contentText{
		policy: bluemonday.StrictPolicy(),
	}
}

// ExtractText はHTML断片からプレーンテキストを抽出する。
func (c *contentText) ExtractText(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}

	// タグを含まない入力はサニタイズとエンティティ解決のみ行う
	sanitized := c.policy.Sanitize(rawHTML)

	// StrictPolicyの出力はエンティティがエスケープされたままのため、
	// html.UnescapeStringで元のテキストへ戻す
	text := html.UnescapeString(sanitized)

	// 連続する空白を1つにまとめる
	return strings.Join(strings.Fields(text), " ")
}

// compile-time interface check
var _ ContentTextService = (*contentText)(nil)
