package sharedstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// FallbackStore は通常はprimary（Redis）へ委譲し、接続系エラーが出たら
// プロセス内ストアに切り替える。切り替えはログを1回だけ出し、
// リクエスト経路は絶対に落とさない。
// インスタンス間の伝播は失われる（縮退モード）。
type FallbackStore struct {
	primary  Store
	fallback Store
	log      *slog.Logger

	once     sync.Once
	mu       sync.RWMutex
	degraded bool
}

func NewFallbackStore(primary Store, fallback Store, log *slog.Logger) *FallbackStore {
	return &FallbackStore{
		primary:  primary,
		fallback: fallback,
		log:      log,
	}
}

var _ Store = (*FallbackStore)(nil)

// Degraded は縮退モードかどうかを返す。
func (s *FallbackStore) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *FallbackStore) Get(ctx context.Context, key string) (string, error) {
	if s.Degraded() {
		return s.fallback.Get(ctx, key)
	}
	v, err := s.primary.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrMiss) {
		s.degrade(err)
		return s.fallback.Get(ctx, key)
	}
	return v, err
}

func (s *FallbackStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if s.Degraded() {
		return s.fallback.Set(ctx, key, value, ttl)
	}
	if err := s.primary.Set(ctx, key, value, ttl); err != nil {
		s.degrade(err)
		return s.fallback.Set(ctx, key, value, ttl)
	}
	return nil
}

func (s *FallbackStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if s.Degraded() {
		return s.fallback.Del(ctx, keys...)
	}
	n, err := s.primary.Del(ctx, keys...)
	if err != nil {
		s.degrade(err)
		return s.fallback.Del(ctx, keys...)
	}
	return n, nil
}

func (s *FallbackStore) DelPrefix(ctx context.Context, prefix string) (int64, error) {
	if s.Degraded() {
		return s.fallback.DelPrefix(ctx, prefix)
	}
	n, err := s.primary.DelPrefix(ctx, prefix)
	if err != nil {
		s.degrade(err)
		return s.fallback.DelPrefix(ctx, prefix)
	}
	return n, nil
}

func (s *FallbackStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if s.Degraded() {
		return s.fallback.Incr(ctx, key, ttl)
	}
	n, err := s.primary.Incr(ctx, key, ttl)
	if err != nil {
		s.degrade(err)
		return s.fallback.Incr(ctx, key, ttl)
	}
	return n, nil
}

func (s *FallbackStore) Ping(ctx context.Context) error {
	if s.Degraded() {
		return s.fallback.Ping(ctx)
	}
	return s.primary.Ping(ctx)
}

func (s *FallbackStore) Close() error {
	err := s.primary.Close()
	if err2 := s.fallback.Close(); err == nil {
		err = err2
	}
	return err
}

// 縮退モードに入る。ログは初回だけ。
func (s *FallbackStore) degrade(cause error) {
	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()

	s.once.Do(func() {
		s.log.Warn("shared store unreachable, falling back to in-process store",
			"error", cause,
		)
	})
}
