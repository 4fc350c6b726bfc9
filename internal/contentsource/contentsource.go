// Package contentsource はSkoolサイトへの読み書き操作を抽象化する。
// ログイン・セッション確認・投稿/コメントの取得・DM送信の各ケイパビリティを
// ContentSourceインターフェースとして公開し、具体的なDOM操作を隠蔽する。
package contentsource

import (
	"context"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/model"
)

// ContentSource はSkoolサイトとの対話を行うインターフェース。
// 実装はブラウザ自動化アダプタ（SkoolSource）と、テスト用のスタブ。
// ブラウザ資源は1つのPollerインスタンスが排他的に所有する。
type ContentSource interface {
	// Login は認証フローを実行し、取得したCookieセットを返す。
	// ログインフォームの各フィールドは候補ロケータを順に試し、
	// 全候補を使い果たした場合はAuthError(login_form_not_found)を返す。
	// 送信後はURLパターンまたはログイン後マーカーによる明示的な確認を行い、
	// 確認できない場合はAuthError(verify_failed)を返す。
	Login(ctx context.Context, email, secret string) ([]model.CookieRecord, error)

	// ProbeSession は保存済みCookieセットで認証済み状態が生きているかを確認する。
	// 認証済みであればnil、期限切れ・未認証であればエラーを返す。
	ProbeSession(ctx context.Context, cookies []model.CookieRecord) error

	// ListPosts はコミュニティページの現在の投稿一覧を返す。
	ListPosts(ctx context.Context, cookies []model.CookieRecord, communityURL string) ([]model.ContentItem, error)

	// ListComments は指定投稿のコメント一覧を返す。
	// 直前のListPostsと同一ページ内で解決される。
	ListComments(ctx context.Context, cookies []model.CookieRecord, post model.ContentItem) ([]model.ContentItem, error)

	// SendDirectMessage は受信者を解決してDMを送信する。
	// 失敗時はステージ名付きのSendErrorを返す。
	SendDirectMessage(ctx context.Context, cookies []model.CookieRecord, recipientName, message string) error

	// Close は保持しているブラウザ資源を解放する。
	Close() error
}
