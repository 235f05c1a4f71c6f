package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// 複数インスタンス間でroomイベントを流すチャネル名
const backplaneChannel = "fanout:events"

// インスタンス間を流れる封筒
type envelope struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Backplane はRedis pub/subで全インスタンスにイベントを配る。
// nilのままなら単一インスタンスの縮退モード（ローカル配送のみ）。
type Backplane struct {
	client *redis.Client
	log    *slog.Logger
}

func NewBackplane(client *redis.Client, log *slog.Logger) *Backplane {
	return &Backplane{client: client, log: log}
}

// Publish はイベントを全インスタンスへ流す。
func (b *Backplane) Publish(ctx context.Context, room string, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env, err := json.Marshal(envelope{Room: room, Event: event, Payload: data})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, backplaneChannel, env).Err()
}

// Run は購読ループ。受け取ったイベントをローカルのhubに配る。
// 自分のPublishも購読で返ってくるので、配送経路は常にここ1本になる。
// ctxのキャンセルで止まる。
func (b *Backplane) Run(ctx context.Context, hub *Hub) {
	sub := b.client.Subscribe(ctx, backplaneChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("backplane: malformed envelope", "error", err)
				continue
			}
			hub.EmitLocal(env.Room, env.Event, env.Payload)
		}
	}
}
