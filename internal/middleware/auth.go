// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// ownerIDHeader は操作対象オーナーを指定するリクエストヘッダー。
const ownerIDHeader = "X-Owner-ID"

// defaultOwnerID はヘッダー省略時のオーナーID。単一コラボレータ構成向け。
const defaultOwnerID = "default"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// ownerIDContextKey はリクエストコンテキストにオーナーIDを格納するためのキー。
var ownerIDContextKey = contextKey("owner_id")

// NewAuthMiddleware はBearerトークンによる認証ミドルウェアを返す。
// トークンは定数時間比較で検証され、認証済みリクエストには
// オーナーIDがコンテキストに注入される。
func NewAuthMiddleware(apiToken string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(apiToken)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ownerID := r.Header.Get(ownerIDHeader)
			if ownerID == "" {
				ownerID = defaultOwnerID
			}

			ctx := context.WithValue(r.Context(), ownerIDContextKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerIDFromContext はリクエストコンテキストからオーナーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func OwnerIDFromContext(ctx context.Context) (string, error) {
	ownerID, ok := ctx.Value(ownerIDContextKey).(string)
	if !ok || ownerID == "" {
		return "", fmt.Errorf("owner ID not found in context")
	}
	return ownerID, nil
}

// ContextWithOwnerID はコンテキストにオーナーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDContextKey, ownerID)
}
