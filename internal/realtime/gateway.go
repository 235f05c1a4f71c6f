package realtime

import (
	"context"
	"log/slog"
)

// Gateway はhubとバックプレーンをまとめた配送口。
// 書き込み経路はこれだけを見る。gatewayを先に組み立ててから注入する。
type Gateway struct {
	hub       *Hub
	backplane *Backplane // nilなら単一インスタンスモード
	log       *slog.Logger
}

func NewGateway(hub *Hub, backplane *Backplane, log *slog.Logger) *Gateway {
	return &Gateway{
		hub:       hub,
		backplane: backplane,
		log:       log,
	}
}

func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Emit はroomの全接続（全インスタンス）へイベントを配る。
// 配送失敗はログだけ残して握りつぶす。書き込みの成否には影響させない。
func (g *Gateway) Emit(ctx context.Context, room string, event string, payload any) {
	if g.backplane != nil {
		if err := g.backplane.Publish(ctx, room, event, payload); err != nil {
			g.log.Warn("fanout publish failed, delivering locally only",
				"room", room, "event", event, "error", err,
			)
			g.hub.EmitLocal(room, event, payload)
		}
		return
	}

	g.hub.EmitLocal(room, event, payload)
}
