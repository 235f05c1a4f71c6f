package ratelimit

import (
	"context"
	"testing"
	"time"

	"app/internal/infra/sharedstore"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_RejectsOverLimitAndRecoverNextWindow(t *testing.T) {
	ctx := context.Background()

	store := sharedstore.NewMemoryStore()
	l := NewLimiter(store)

	now := time.Now()
	l.now = func() time.Time { return now }

	scope := Scope{Name: "test", Limit: 3, Window: time.Minute}

	// 上限までは通る
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, scope, "u1")
		assert.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i+1)
	}

	// N+1件目は拒否
	ok, err := l.Allow(ctx, scope, "u1")
	assert.NoError(t, err)
	assert.False(t, ok)

	// 次の窓では通る
	now = now.Add(scope.Window + time.Second)
	ok, err = l.Allow(ctx, scope, "u1")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiter_IdentitiesAreIndependent(t *testing.T) {
	ctx := context.Background()

	l := NewLimiter(sharedstore.NewMemoryStore())
	scope := Scope{Name: "test", Limit: 1, Window: time.Minute}

	ok, _ := l.Allow(ctx, scope, "u1")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, scope, "u1")
	assert.False(t, ok)

	// 別identityは別カウンタ
	ok, _ = l.Allow(ctx, scope, "u2")
	assert.True(t, ok)
}

func TestLimiter_PeekDoesNotConsume(t *testing.T) {
	ctx := context.Background()

	l := NewLimiter(sharedstore.NewMemoryStore())
	scope := Scope{Name: "auth", Limit: 2, Window: time.Minute}

	// Peekは何回見てもカウントが進まない
	for i := 0; i < 5; i++ {
		ok, err := l.Peek(ctx, scope, "ip-1")
		assert.NoError(t, err)
		assert.True(t, ok)
	}

	// 失敗を上限まで記録すると弾かれる
	assert.NoError(t, l.RecordFailure(ctx, scope, "ip-1"))
	assert.NoError(t, l.RecordFailure(ctx, scope, "ip-1"))

	ok, err := l.Peek(ctx, scope, "ip-1")
	assert.NoError(t, err)
	assert.False(t, ok)
}
