package agentclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"app/internal/domain/model"

	"github.com/stretchr/testify/assert"
)

func TestClient_SendMessageInsertsCanonicalRecord(t *testing.T) {
	canonical := model.Message{
		ID:        "m-1",
		SessionID: "c-1",
		Body:      "hello",
		Platform:  model.PlatformWeb,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(canonical)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.access = "tok"
	c.Threads().Open("c-1")

	msg, err := c.SendMessage(context.Background(), "c-1", "hello", nil)

	assert.NoError(t, err)
	assert.Equal(t, "m-1", msg.ID)
	// 同期レスポンスの時点でローカルに入っている
	assert.Len(t, c.Threads().Messages("c-1"), 1)

	// 後から届くfanoutのechoは二重にならない
	assert.False(t, c.Threads().Apply(canonical))
	assert.Len(t, c.Threads().Messages("c-1"), 1)
}

func TestClient_RefreshIsSingleFlight(t *testing.T) {
	var hits atomic.Int64
	gate := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/refresh", r.URL.Path)
		<-gate // 全goroutineが合流するまで最初の1回を待たせる
		n := hits.Add(1)
		// 毎回違うペアを返す。重複して呼ばれていたらhitsで分かる
		json.NewEncoder(w).Encode(tokenPair{
			AccessToken:  fmt.Sprintf("access-%d", n),
			RefreshToken: fmt.Sprintf("refresh-%d", n),
			ExpiresIn:    900,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.refresh = "refresh-0"

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Refresh(context.Background()))
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, "access-1", c.accessToken())
}

func TestClient_RetriesOnceAfterExpiredAccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			json.NewEncoder(w).Encode(tokenPair{AccessToken: "fresh", RefreshToken: "rotated"})
		case "/messages/c-1":
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode([]model.Message{{ID: "m-1", SessionID: "c-1"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.access = "stale"
	c.refresh = "refresh-0"

	msgs, err := c.FetchMessages(context.Background(), "c-1")

	assert.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, "rotated", c.refresh)
}

func TestClient_RefreshRejectionExpiresSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// ローテーション済みのtokenはサーバーが401で弾く
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.refresh = "already-rotated"

	err := c.Refresh(context.Background())

	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Empty(t, c.accessToken())
}

func TestClient_APIErrorCarriesResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"INTERNAL"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.access = "tok"

	_, err := c.FetchMessages(context.Background(), "c-1")

	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Contains(t, apiErr.Body, "INTERNAL")
}

func TestClient_FetchUnknownConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.access = "tok"

	_, err := c.FetchMessages(context.Background(), "nope")

	assert.ErrorIs(t, err, ErrNotFound)
}
