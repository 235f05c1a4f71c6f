package sharedstore

import (
	"context"
	"errors"
	"time"
)

// キーが存在しない（期限切れ含む）ときのエラー
var ErrMiss = errors.New("sharedstore: miss")

// TTL付きKey-Value外部ストアの約束。
// セッション（refreshトークンのダイジェスト）とレート制限が使う。
// Redis実装とプロセス内実装を起動時に選んで差し替える。
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// ttlが0以下なら無期限
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	// prefixに一致するキーを全削除（revoke-allで使う）
	DelPrefix(ctx context.Context, prefix string) (int64, error)
	// カウンタを+1して現在値を返す。キー新規作成時だけttlを設定する。
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
