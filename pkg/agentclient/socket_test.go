package agentclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"app/internal/domain/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

// /teams と /ws だけ返すテストサーバ。wsは接続後すぐ切る。
func newClosingWSServer(t *testing.T) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/teams":
			json.NewEncoder(w).Encode([]model.Team{})
		case "/ws":
			ws, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			ws.Close()
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

// 接続が死んだら番人goroutineも終わる。再接続を繰り返しても
// goroutineが積み上がらない。
func TestSocket_ReconnectDoesNotLeakGoroutines(t *testing.T) {
	srv := newClosingWSServer(t)
	defer srv.Close()

	c := New(srv.URL)
	c.access = "tok"
	s := NewSocket(c, srv.URL, slog.New(slog.DiscardHandler))

	base := runtime.NumGoroutine()

	for i := 0; i < 5; i++ {
		// サーバが切るので必ずエラーで戻る
		assert.Error(t, s.connectAndRead(context.Background()))
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= base+4
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSocket_RejoinFetchesTeamsFromServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	joined := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/teams":
			json.NewEncoder(w).Encode([]model.Team{
				{ID: "t-1", Name: "sales"},
				{ID: "t-2", Name: "support"},
			})
		case "/ws":
			ws, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer ws.Close()
			for i := 0; i < 2; i++ {
				_, payload, err := ws.ReadMessage()
				if err != nil {
					return
				}
				var frame struct {
					Event string          `json:"event"`
					Data  json.RawMessage `json:"data"`
				}
				if json.Unmarshal(payload, &frame) != nil {
					return
				}
				joined <- frame.Event
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.access = "tok"
	s := NewSocket(c, srv.URL, slog.New(slog.DiscardHandler))

	// サーバが2件のjoinを受けたら切るので、connectAndReadは戻ってくる
	assert.Error(t, s.connectAndRead(context.Background()))

	assert.Equal(t, "join_team", <-joined)
	assert.Equal(t, "join_team", <-joined)

	s.mu.Lock()
	teams := s.teams
	s.mu.Unlock()
	assert.Equal(t, []string{"t-1", "t-2"}, teams)
}
