package agentclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"app/internal/domain/model"
	"app/internal/realtime"

	"github.com/gorilla/websocket"
)

// TypingEvent はuser_typing / user_stopped_typingの中身。
type TypingEvent struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Typing    bool   `json:"-"`
}

// Socket はライブイベントの受信経路。接続が切れたら自動で
// 繋ぎ直し、roomを入り直してから権威リストでギャップを埋める。
// イベント配送だけを正しさの根拠にはしない。
type Socket struct {
	client   *Client
	wsURL    string
	log      *slog.Logger
	onTyping func(TypingEvent)

	mu    sync.Mutex
	ws    *websocket.Conn
	teams []string // 接続のたびに入り直すチームroom
	done  chan struct{}
}

func NewSocket(client *Client, baseURL string, log *slog.Logger) *Socket {
	ws := strings.Replace(baseURL, "http", "ws", 1) + "/ws"
	return &Socket{
		client: client,
		wsURL:  ws,
		log:    log,
		done:   make(chan struct{}),
	}
}

// OnTyping はタイピング通知のコールバックを設定する。接続前に呼ぶ。
func (s *Socket) OnTyping(fn func(TypingEvent)) {
	s.onTyping = fn
}

// SetTeams はチームroomのキャッシュを設定する。通常はrejoinが
// サーバーから取り直して上書きし、取得に失敗したときの備えになる。
func (s *Socket) SetTeams(teamIDs []string) {
	s.mu.Lock()
	s.teams = teamIDs
	s.mu.Unlock()
}

// Run は接続を張って読み続ける。切断したらバックオフしつつ
// 繋ぎ直し、ctxが終わるまで止まらない。
func (s *Socket) Run(ctx context.Context) {
	defer close(s.done)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("live connection lost, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Done はRunの終了を待つためのチャネル。
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// JoinConversation は会話roomに入り、開いている会話として記録する。
func (s *Socket) JoinConversation(sessionID string) error {
	s.client.Threads().Open(sessionID)
	return s.send(realtime.EventJoinClient, map[string]string{"id": sessionID})
}

// LeaveConversation は会話roomを抜ける。
func (s *Socket) LeaveConversation(sessionID string) error {
	return s.send(realtime.EventLeaveClient, map[string]string{"id": sessionID})
}

// Typing はタイピング状態を会話に通知する。
func (s *Socket) Typing(sessionID string, typing bool) error {
	event := realtime.EventTypingStart
	if !typing {
		event = realtime.EventTypingStop
	}
	return s.send(event, map[string]string{"session_id": sessionID})
}

func (s *Socket) connectAndRead(ctx context.Context) error {
	token := s.client.accessToken()
	if token == "" {
		if err := s.client.Refresh(ctx); err != nil {
			return err
		}
		token = s.client.accessToken()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL+"?token="+url.QueryEscape(token), nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ws = ws
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.ws = nil
		s.mu.Unlock()
		ws.Close()
	}()

	// roomはサーバー側に残らない。毎回入り直して、その間の
	// 取りこぼしを権威リストで埋める
	if err := s.rejoin(ctx); err != nil {
		return err
	}

	// ctx終了で読み取りを解放する。接続が先に死んだら番人も終わる
	readerDone := make(chan struct{})
	defer close(readerDone)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-readerDone:
		}
	}()

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(payload)
	}
}

func (s *Socket) rejoin(ctx context.Context) error {
	// 所属はサーバーから取り直す。取れなければ前回のキャッシュで入る
	if teams, err := s.client.FetchTeams(ctx); err == nil {
		ids := make([]string, len(teams))
		for i, t := range teams {
			ids[i] = t.ID
		}
		s.SetTeams(ids)
	} else {
		s.log.Warn("team list fetch failed, rejoining cached rooms", "error", err)
	}

	s.mu.Lock()
	teams := make([]string, len(s.teams))
	copy(teams, s.teams)
	s.mu.Unlock()

	for _, teamID := range teams {
		if err := s.send(realtime.EventJoinTeam, map[string]string{"id": teamID}); err != nil {
			return err
		}
	}
	if open := s.client.Threads().OpenSession(); open != "" {
		if err := s.send(realtime.EventJoinClient, map[string]string{"id": open}); err != nil {
			return err
		}
	}
	return s.client.ResyncOpen(ctx)
}

func (s *Socket) dispatch(payload []byte) {
	var frame realtime.Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return
	}

	switch frame.Event {
	case realtime.EventNewMessage, realtime.EventTeamMessage:
		var msg model.Message
		if json.Unmarshal(frame.Data, &msg) != nil || msg.ID == "" {
			return
		}
		// 自分のsendのechoはApplyの中でidで弾かれる
		s.client.Threads().Apply(msg)

	case realtime.EventChatUpdated:
		// 会話一覧のプレビューはnew_message/team_message側で
		// 更新済み。ここでは何もしない

	case realtime.EventUserTyping, realtime.EventUserStoppedTyping:
		if s.onTyping == nil {
			return
		}
		var ev TypingEvent
		if json.Unmarshal(frame.Data, &ev) != nil {
			return
		}
		ev.Typing = frame.Event == realtime.EventUserTyping
		s.onTyping(ev)
	}
}

func (s *Socket) send(event string, payload any) error {
	data, err := realtime.EncodeFrame(event, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ws == nil {
		return nil // 未接続。次のrejoinで入り直す
	}
	return s.ws.WriteMessage(websocket.TextMessage, data)
}
