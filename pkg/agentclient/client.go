package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"app/internal/domain/model"

	"golang.org/x/sync/singleflight"
)

var (
	// 資格情報が無い・refreshも失敗した。再ログインが必要。
	ErrSessionExpired = errors.New("agentclient: session expired")
	ErrNotFound       = errors.New("agentclient: not found")
)

// APIError は2xx以外のレスポンス。
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agentclient: api error: status=%d body=%s", e.Status, e.Body)
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type loginResponse struct {
	User  model.User `json:"user"`
	Token tokenPair  `json:"token"`
}

// Client はエージェント側のRESTクライアント。
// トークンのローテーションはsingleflightで多重化を防ぐ。同時に
// 複数のリクエストが401を踏んでも、refreshは1回しか飛ばない。
type Client struct {
	baseURL string
	http    *http.Client
	threads *ThreadStore

	mu      sync.Mutex
	access  string
	refresh string
	user    model.User

	refreshGroup singleflight.Group
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		threads: NewThreadStore(),
	}
}

// Threads はローカルの会話状態。
func (c *Client) Threads() *ThreadStore {
	return c.threads
}

// User はログイン中のユーザー。
func (c *Client) User() model.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Login はトークンペアを取得して保持する。
func (c *Client) Login(ctx context.Context, email string, password string) error {
	var out loginResponse
	err := c.post(ctx, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &out, false)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.access = out.Token.AccessToken
	c.refresh = out.Token.RefreshToken
	c.user = out.User
	c.mu.Unlock()
	c.threads.SetSelf(out.User.ID)
	return nil
}

// Logout はサーバー側のrefreshを失効させてローカルを消す。
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refresh
	c.access, c.refresh = "", ""
	c.mu.Unlock()

	if refresh == "" {
		return nil
	}
	return c.post(ctx, "/auth/logout", map[string]string{"refresh_token": refresh}, nil, false)
}

// Refresh はトークンペアをローテーションする。同時呼び出しは
// 1回のHTTPリクエストに合流する。
func (c *Client) Refresh(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		c.mu.Lock()
		refresh := c.refresh
		c.mu.Unlock()
		if refresh == "" {
			return nil, ErrSessionExpired
		}

		var pair tokenPair
		err := c.post(ctx, "/auth/refresh", map[string]string{"refresh_token": refresh}, &pair, false)
		if err != nil {
			if errors.Is(err, ErrSessionExpired) {
				// ローテーション負け。持っているペアはもう使えない
				c.mu.Lock()
				c.access, c.refresh = "", ""
				c.mu.Unlock()
			}
			return nil, err
		}

		c.mu.Lock()
		c.access = pair.AccessToken
		c.refresh = pair.RefreshToken
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// SendMessage はメッセージを送信し、返ってきた正規レコードを
// 即座にローカルへ挿入する。後から届くroomのechoはidで弾かれる。
func (c *Client) SendMessage(ctx context.Context, sessionID string, text string, files []model.MessageFile) (*model.Message, error) {
	body := map[string]any{
		"session_id":   sessionID,
		"message":      text,
		"message_file": files,
		"platform":     model.PlatformWeb,
	}

	var msg model.Message
	if err := c.post(ctx, "/messages", body, &msg, true); err != nil {
		return nil, err
	}

	c.threads.Apply(msg)
	return &msg, nil
}

// FetchTeams はログイン中ユーザーの所属チーム一覧を取得する。
// 再接続時のroom再joinはこの結果を正とする。
func (c *Client) FetchTeams(ctx context.Context) ([]model.Team, error) {
	var teams []model.Team
	if err := c.do(ctx, http.MethodGet, "/teams", nil, &teams, true); err != nil {
		return nil, err
	}
	return teams, nil
}

// FetchMessages は会話の権威リストを取得する。
func (c *Client) FetchMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	var msgs []model.Message
	if err := c.do(ctx, http.MethodGet, "/messages/"+sessionID, nil, &msgs, true); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ResyncOpen は開いている会話の権威リストを取り直してマージする。
func (c *Client) ResyncOpen(ctx context.Context) error {
	open := c.threads.OpenSession()
	if open == "" {
		return nil
	}
	msgs, err := c.FetchMessages(ctx, open)
	if err != nil {
		return err
	}
	c.threads.Resync(open, msgs)
	return nil
}

// MarkRead は会話の未読受信を一括既読化する。
func (c *Client) MarkRead(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPatch, "/messages/"+sessionID+"/read", nil, nil, true)
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access
}

func (c *Client) post(ctx context.Context, path string, body any, out any, authed bool) error {
	return c.do(ctx, http.MethodPost, path, body, out, authed)
}

// do はリクエストを投げる。認証付きで401が返ったら1回だけ
// refreshして再試行する。
func (c *Client) do(ctx context.Context, method string, path string, body any, out any, authed bool) error {
	status, errBody, err := c.once(ctx, method, path, body, out, authed)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized && authed {
		if err := c.Refresh(ctx); err != nil {
			return err
		}
		status, errBody, err = c.once(ctx, method, path, body, out, authed)
		if err != nil {
			return err
		}
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized:
		return ErrSessionExpired
	default:
		return &APIError{Status: status, Body: errBody}
	}
}

func (c *Client) once(ctx context.Context, method string, path string, body any, out any, authed bool) (int, string, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, "", err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.accessToken())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, "", err
			}
		}
		return resp.StatusCode, "", nil
	}

	// エラーレスポンスの本文は診断用に持ち帰る（長すぎるものは切る）
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(data), nil
}
