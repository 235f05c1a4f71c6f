package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"app/internal/middleware"
	"app/internal/realtime"
	"app/internal/repository"
	auth "app/internal/usecase/auth_usecase"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// クライアントからの最大フレームサイズ
const maxFrameBytes = 4 * 1024

type WSHandler struct {
	authenticator middleware.Authenticator
	gateway       *realtime.Gateway
	teams         repository.TeamRepository
	upgrader      websocket.Upgrader
	log           *slog.Logger
}

// allowedOriginsが空なら全オリジン許可（非ブラウザクライアント含む）
func NewWSHandler(
	authenticator middleware.Authenticator,
	gateway *realtime.Gateway,
	teams repository.TeamRepository,
	allowedOrigins []string,
	log *slog.Logger,
) *WSHandler {
	allowAll := len(allowedOrigins) == 0
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		originSet[o] = true
	}

	return &WSHandler{
		authenticator: authenticator,
		gateway:       gateway,
		teams:         teams,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return originSet[origin]
			},
		},
		log: log,
	}
}

// ServeはGET /ws。接続時に1回だけcredentialを検証する
// （イベントごとの再検証はしない）。
func (h *WSHandler) Serve(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "missing credential"})
	}

	identity, err := h.authenticator.Authenticate(c.Request().Context(), token)
	if err != nil {
		// 拒否理由を明示する
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "credential expired"})
		case errors.Is(err, auth.ErrUserInactive):
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "user inactive"})
		default:
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid credential"})
		}
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil // upgraderが応答済み
	}

	conn := realtime.NewConnection(identity.UserID, ws)
	hub := h.gateway.Hub()

	hub.Attach(conn)
	// 自分宛イベント用のroomには自動で入る
	hub.Join(realtime.UserRoom(identity.UserID), conn)

	h.log.Info("ws connected", "user_id", identity.UserID, "conn_id", conn.ID)

	h.readLoop(c, conn, identity)

	// 切断したらroom所属ごと即座に破棄する
	rooms := hub.Rooms(conn)
	hub.Detach(conn)
	conn.Close(websocket.CloseNormalClosure, "bye")
	h.log.Info("ws disconnected",
		"user_id", identity.UserID, "conn_id", conn.ID, "rooms", rooms,
	)
	return nil
}

// client→server イベントのdata部
type roomEventData struct {
	ID string `json:"id"`
}

type typingEventData struct {
	SessionID string `json:"session_id"`
}

// server→client のtyping通知
type typingPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
}

func (h *WSHandler) readLoop(c echo.Context, conn *realtime.Connection, identity *auth.Identity) {
	conn.SetReadLimit(maxFrameBytes)

	hub := h.gateway.Hub()
	ctx := c.Request().Context()

	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame realtime.Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}

		switch frame.Event {
		case realtime.EventJoinClient:
			var d roomEventData
			if json.Unmarshal(frame.Data, &d) != nil || d.ID == "" {
				continue
			}
			// 会話roomは認証済みエージェントなら誰でも入れる（観測されている挙動）
			hub.Join(realtime.ClientRoom(d.ID), conn)

		case realtime.EventLeaveClient:
			var d roomEventData
			if json.Unmarshal(frame.Data, &d) != nil {
				continue
			}
			hub.Leave(realtime.ClientRoom(d.ID), conn)

		case realtime.EventJoinTeam:
			var d roomEventData
			if json.Unmarshal(frame.Data, &d) != nil || d.ID == "" {
				continue
			}
			// チームroomは所属確認が必要
			ok, err := h.teams.IsMember(ctx, d.ID, identity.UserID)
			if err != nil || !ok {
				h.log.Warn("join_team denied",
					"user_id", identity.UserID, "team_id", d.ID, "error", err,
				)
				continue
			}
			hub.Join(realtime.TeamRoom(d.ID), conn)

		case realtime.EventLeaveTeam:
			var d roomEventData
			if json.Unmarshal(frame.Data, &d) != nil {
				continue
			}
			hub.Leave(realtime.TeamRoom(d.ID), conn)

		case realtime.EventTypingStart:
			h.emitTyping(ctx, frame.Data, identity, realtime.EventUserTyping)

		case realtime.EventTypingStop:
			h.emitTyping(ctx, frame.Data, identity, realtime.EventUserStoppedTyping)
		}
	}
}

func (h *WSHandler) emitTyping(ctx context.Context, data json.RawMessage, identity *auth.Identity, event string) {
	var d typingEventData
	if json.Unmarshal(data, &d) != nil || d.SessionID == "" {
		return
	}
	h.gateway.Emit(ctx, realtime.ClientRoom(d.SessionID), event, typingPayload{
		SessionID: d.SessionID,
		UserID:    identity.UserID,
		Name:      identity.Name,
	})
}
