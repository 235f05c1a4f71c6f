package agentclient

import (
	"sort"
	"sync"

	"app/internal/domain/model"
)

// ThreadStore は会話ごとのローカルメッセージ状態。
// 同期レスポンスとroomイベントの二重経路から同じメッセージが
// 届くので、正規idだけを一意性のキーにする。
type ThreadStore struct {
	mu      sync.Mutex
	threads map[string]*thread
	open    string // いま開いている会話。未読カウントの対象外
	self    string // ログイン中のユーザー。自分の送信は未読にしない
}

type thread struct {
	messages []model.Message // (created_at, id) 順
	seen     map[string]bool // 正規idの既出集合
	unread   int
	preview  string
}

func NewThreadStore() *ThreadStore {
	return &ThreadStore{threads: make(map[string]*thread)}
}

// Apply はメッセージを1件取り込む。既に同じidを持っていれば
// 何もせずfalseを返す（自分のsendのechoはここで落ちる）。
func (s *ThreadStore) Apply(msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	th := s.thread(msg.SessionID)
	if th.seen[msg.ID] {
		return false
	}
	th.seen[msg.ID] = true
	th.insert(msg)
	th.preview = th.messages[len(th.messages)-1].Body

	if msg.SessionID != s.open && !s.ownMessage(msg) {
		th.unread++
	}
	return true
}

// SetSelf はログイン中のユーザーidを設定する。
func (s *ThreadStore) SetSelf(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = userID
}

func (s *ThreadStore) ownMessage(msg model.Message) bool {
	return s.self != "" && msg.AuthorID != nil && *msg.AuthorID == s.self
}

// Resync は権威リスト（GET /messages/:clientId の結果）をマージして
// 切断中の取りこぼしを埋める。既存分は重複しない。
func (s *ThreadStore) Resync(sessionID string, msgs []model.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	th := s.thread(sessionID)
	added := 0
	for _, msg := range msgs {
		if th.seen[msg.ID] {
			continue
		}
		th.seen[msg.ID] = true
		th.insert(msg)
		added++
	}
	if n := len(th.messages); n > 0 {
		th.preview = th.messages[n-1].Body
	}
	return added
}

// Open は会話を開く。未読はリセットされ、開いている間は増えない。
func (s *ThreadStore) Open(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = sessionID
	s.thread(sessionID).unread = 0
}

// OpenSession はいま開いている会話idを返す。
func (s *ThreadStore) OpenSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Messages は会話のメッセージを正規順のコピーで返す。
func (s *ThreadStore) Messages(sessionID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[sessionID]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(th.messages))
	copy(out, th.messages)
	return out
}

// Unread は会話の未読件数。
func (s *ThreadStore) Unread(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[sessionID]
	if !ok {
		return 0
	}
	return th.unread
}

// Preview は会話一覧に出す最後のメッセージ本文。
func (s *ThreadStore) Preview(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[sessionID]
	if !ok {
		return ""
	}
	return th.preview
}

func (s *ThreadStore) thread(sessionID string) *thread {
	th, ok := s.threads[sessionID]
	if !ok {
		th = &thread{seen: make(map[string]bool)}
		s.threads[sessionID] = th
	}
	return th
}

// insert は (created_at, id) 順を保って挿入する。
// イベントは順不同で届きうる。
func (th *thread) insert(msg model.Message) {
	i := sort.Search(len(th.messages), func(i int) bool {
		m := th.messages[i]
		if !m.CreatedAt.Equal(msg.CreatedAt) {
			return m.CreatedAt.After(msg.CreatedAt)
		}
		return m.ID > msg.ID
	})
	th.messages = append(th.messages, model.Message{})
	copy(th.messages[i+1:], th.messages[i:])
	th.messages[i] = msg
}
