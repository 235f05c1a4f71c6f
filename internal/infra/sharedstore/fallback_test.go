package sharedstore

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// 常に接続エラーを返すストア
type brokenStore struct{}

var errConnRefused = errors.New("connection refused")

func (b *brokenStore) Get(ctx context.Context, key string) (string, error) {
	return "", errConnRefused
}
func (b *brokenStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return errConnRefused
}
func (b *brokenStore) Del(ctx context.Context, keys ...string) (int64, error) {
	return 0, errConnRefused
}
func (b *brokenStore) DelPrefix(ctx context.Context, prefix string) (int64, error) {
	return 0, errConnRefused
}
func (b *brokenStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errConnRefused
}
func (b *brokenStore) Ping(ctx context.Context) error { return errConnRefused }
func (b *brokenStore) Close() error                   { return nil }

func TestFallbackStore_DegradesAndKeepsServing(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	s := NewFallbackStore(&brokenStore{}, NewMemoryStore(), log)
	assert.False(t, s.Degraded())

	// primaryが落ちていてもリクエストは失敗しない
	err := s.Set(ctx, "k", "v", 0)
	assert.NoError(t, err)
	assert.True(t, s.Degraded())

	v, err := s.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestFallbackStore_LogsOnce(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	s := NewFallbackStore(&brokenStore{}, NewMemoryStore(), log)

	// 何回呼んでも警告ログは1回だけ
	_ = s.Set(ctx, "a", "1", 0)
	_, _ = s.Get(ctx, "a")
	_, _ = s.Incr(ctx, "b", time.Minute)

	count := strings.Count(buf.String(), "falling back to in-process store")
	assert.Equal(t, 1, count)
}

func TestFallbackStore_MissIsNotDegradation(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	s := NewFallbackStore(NewMemoryStore(), NewMemoryStore(), log)

	// ErrMiss は正常系。縮退に入らない。
	_, err := s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrMiss)
	assert.False(t, s.Degraded())
}
