package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"app/internal/infra/sharedstore"
)

// 固定窓のスコープ定義
type Scope struct {
	Name   string
	Limit  int64
	Window time.Duration
}

var (
	// 一般API
	ScopeAPI = Scope{Name: "api", Limit: 100, Window: 60 * time.Second}
	// 認証系。失敗だけを数える。
	ScopeAuth = Scope{Name: "auth", Limit: 5, Window: 15 * time.Minute}
	// アップロード
	ScopeUpload = Scope{Name: "upload", Limit: 20, Window: time.Hour}
	// メッセージ送信
	ScopeSend = Scope{Name: "send", Limit: 30, Window: 60 * time.Second}
)

// Limiter は (scope, identity) ごとの固定窓カウンタ。
// 共有ストアが落ちていればFallbackStore側でプロセス内カウンタに
// 切り替わる（制限がインスタンス単位になる縮退）。
type Limiter struct {
	store sharedstore.Store
	now   func() time.Time
}

func NewLimiter(store sharedstore.Store) *Limiter {
	return &Limiter{
		store: store,
		now:   time.Now,
	}
}

// Allow はカウンタを進めて、窓内の上限以内かを返す。
func (l *Limiter) Allow(ctx context.Context, scope Scope, identity string) (bool, error) {
	n, err := l.store.Incr(ctx, l.key(scope, identity), scope.Window)
	if err != nil {
		return false, err
	}
	return n <= scope.Limit, nil
}

// Peek はカウンタを進めずに、まだ余裕があるかだけを見る。
// （認証スコープ：拒否判定は先に、カウントは失敗後に）
func (l *Limiter) Peek(ctx context.Context, scope Scope, identity string) (bool, error) {
	v, err := l.store.Get(ctx, l.key(scope, identity))
	if err != nil {
		if errors.Is(err, sharedstore.ErrMiss) {
			return true, nil
		}
		return false, err
	}

	n, _ := strconv.ParseInt(v, 10, 64)
	return n < scope.Limit, nil
}

// RecordFailure は失敗を1件数える（認証スコープ用）。
func (l *Limiter) RecordFailure(ctx context.Context, scope Scope, identity string) error {
	_, err := l.store.Incr(ctx, l.key(scope, identity), scope.Window)
	return err
}

// 窓の開始時刻をキーに含める固定窓方式
func (l *Limiter) key(scope Scope, identity string) string {
	window := l.now().Unix() / int64(scope.Window.Seconds())
	return fmt.Sprintf("ratelimit:%s:%s:%d", scope.Name, identity, window)
}
