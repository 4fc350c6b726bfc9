package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	TestDMRate      rate.Limit    // テストDM送信のレート（req/sec）。10/60
	TestDMBurst     int           // テストDM送信のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/owner、テストDM送信 10 req/min/owner。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    120,
		TestDMRate:      rate.Limit(10.0 / 60.0), // ~0.167 req/sec
		TestDMBurst:     10,
		CleanupInterval: 5 * time.Minute,
	}
}

// ownerLimiter はオーナーごとのレートリミッターとアクセス時刻を保持する。
type ownerLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter はオーナーごとのレート制限を管理する。
// API全般のレート制限とテストDM送信のレート制限の2種類を提供する。
type RateLimiter struct {
	config RateLimiterConfig

	generalMu       sync.RWMutex
	generalLimiters map[string]*ownerLimiter

	testDMMu       sync.RWMutex
	testDMLimiters map[string]*ownerLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:          config,
		generalLimiters: make(map[string]*ownerLimiter),
		testDMLimiters:  make(map[string]*ownerLimiter),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストにオーナーIDが含まれている必要がある（AuthMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID, err := OwnerIDFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			limiter := rl.getOrCreateGeneralLimiter(ownerID)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("owner_id", ownerID),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TestDMMiddleware はテストDM送信専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) TestDMMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID, err := OwnerIDFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			limiter := rl.getOrCreateTestDMLimiter(ownerID)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.TestDMRate)
				slog.Warn("rate limit exceeded",
					slog.String("owner_id", ownerID),
					slog.String("limit_type", "test_dm"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	rl.generalMu.RLock()
	defer rl.generalMu.RUnlock()
	return len(rl.generalLimiters)
}

// TestDMLimiterCount は現在管理されているテストDMリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) TestDMLimiterCount() int {
	rl.testDMMu.RLock()
	defer rl.testDMMu.RUnlock()
	return len(rl.testDMLimiters)
}

// getOrCreateGeneralLimiter はオーナーのAPI全般リミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateGeneralLimiter(ownerID string) *rate.Limiter {
	rl.generalMu.RLock()
	ol, exists := rl.generalLimiters[ownerID]
	rl.generalMu.RUnlock()

	if exists {
		rl.generalMu.Lock()
		ol.lastAccess = time.Now()
		rl.generalMu.Unlock()
		return ol.limiter
	}

	rl.generalMu.Lock()
	defer rl.generalMu.Unlock()

	// ダブルチェック
	if ol, exists := rl.generalLimiters[ownerID]; exists {
		ol.lastAccess = time.Now()
		return ol.limiter
	}

	limiter := rate.NewLimiter(rl.config.GeneralRate, rl.config.GeneralBurst)
	rl.generalLimiters[ownerID] = &ownerLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// getOrCreateTestDMLimiter はオーナーのテストDMリミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateTestDMLimiter(ownerID string) *rate.Limiter {
	rl.testDMMu.RLock()
	ol, exists := rl.testDMLimiters[ownerID]
	rl.testDMMu.RUnlock()

	if exists {
		rl.testDMMu.Lock()
		ol.lastAccess = time.Now()
		rl.testDMMu.Unlock()
		return ol.limiter
	}

	rl.testDMMu.Lock()
	defer rl.testDMMu.Unlock()

	// ダブルチェック
	if ol, exists := rl.testDMLimiters[ownerID]; exists {
		ol.lastAccess = time.Now()
		return ol.limiter
	}

	limiter := rate.NewLimiter(rl.config.TestDMRate, rl.config.TestDMBurst)
	rl.testDMLimiters[ownerID] = &ownerLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2

	now := time.Now()

	rl.generalMu.Lock()
	for ownerID, ol := range rl.generalLimiters {
		if now.Sub(ol.lastAccess) > ttl {
			delete(rl.generalLimiters, ownerID)
		}
	}
	rl.generalMu.Unlock()

	rl.testDMMu.Lock()
	for ownerID, ol := range rl.testDMLimiters {
		if now.Sub(ol.lastAccess) > ttl {
			delete(rl.testDMLimiters, ownerID)
		}
	}
	rl.testDMMu.Unlock()
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]string{
		"code":     "rate_limit_exceeded",
		"message":  "Too many requests. Please try again later.",
		"category": "system",
		"action":   "Please wait and retry after the specified time.",
	})
}
