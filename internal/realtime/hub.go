package realtime

import (
	"sync"
)

// Hub はこのインスタンス上の接続とroomの所属を管理する。
// roomの所属は生きている接続の中だけに存在し、永続化しない。
// 再接続のたびにクライアントがjoinし直して作り直す。
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]*Connection            // connID -> connection
	rooms     map[string]map[string]*Connection // room -> connID -> connection
	connRooms map[string]map[string]struct{}    // connID -> 所属roomの集合
}

func NewHub() *Hub {
	return &Hub{
		conns:     make(map[string]*Connection),
		rooms:     make(map[string]map[string]*Connection),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// Attach は接続を登録してwriteLoopを起動する。
// 同一ユーザーの複数接続（マルチタブ・マルチ端末）はそのまま共存する。
func (h *Hub) Attach(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.connRooms[conn.ID] = make(map[string]struct{})
	h.mu.Unlock()

	conn.Start()
}

// Detach は接続と、その接続の全room所属を即座に落とす。
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	h.detachLocked(conn.ID)
	h.mu.Unlock()
}

// Join は接続をroomに入れる。未登録の接続は無視する。
func (h *Hub) Join(room string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[conn.ID]; !ok {
		return
	}

	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Connection)
		h.rooms[room] = members
	}
	members[conn.ID] = conn

	h.connRooms[conn.ID][room] = struct{}{}
}

// Leave はroomから抜ける。何度呼んでも安全。
func (h *Hub) Leave(room string, conn *Connection) {
	h.mu.Lock()
	h.leaveLocked(room, conn.ID)
	h.mu.Unlock()
}

// EmitLocal はこのインスタンス上でroomに入っている全接続へ配る。
// 送れなかった接続は無視する（配送保証なし、resyncで回復）。
// 配送できた件数を返す。
func (h *Hub) EmitLocal(room string, event string, payload any) int {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return 0
	}

	h.mu.RLock()
	members := h.rooms[room]
	conns := make([]*Connection, 0, len(members))
	for _, c := range members {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if err := c.Send(frame); err == nil {
			delivered++
		}
	}
	return delivered
}

// Rooms は接続が所属しているroom一覧を返す。
func (h *Hub) Rooms(conn *Connection) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var rooms []string
	for room := range h.connRooms[conn.ID] {
		rooms = append(rooms, room)
	}
	return rooms
}

// Close は全接続を終了する。
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Connection)
	h.rooms = make(map[string]map[string]*Connection)
	h.connRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(1001, "server shutdown")
	}
}

func (h *Hub) detachLocked(connID string) {
	if _, ok := h.conns[connID]; !ok {
		return
	}
	delete(h.conns, connID)

	for room := range h.connRooms[connID] {
		h.leaveLocked(room, connID)
	}
	delete(h.connRooms, connID)
}

func (h *Hub) leaveLocked(room string, connID string) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if set, ok := h.connRooms[connID]; ok {
		delete(set, room)
	}
}
