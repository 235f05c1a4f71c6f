package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

// writeLoopを起動せず、sendチャネルから直接フレームを吸い出す
func drainFrames(t *testing.T, c *Connection) []Frame {
	t.Helper()

	var frames []Frame
	for {
		select {
		case payload := <-c.send:
			var f Frame
			if err := json.Unmarshal(payload, &f); err != nil {
				t.Fatalf("bad frame: %v", err)
			}
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

// Attachの代わりに登録だけ行う（writeLoopにチャネルを食われないように）
func attachWithoutLoop(h *Hub, c *Connection) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.connRooms[c.ID] = make(map[string]struct{})
	h.mu.Unlock()
}

func TestHub_EmitReachesRoomMembersOnly(t *testing.T) {
	h := NewHub()

	inRoom := NewConnection("u1", nil)
	alsoIn := NewConnection("u2", nil)
	outside := NewConnection("u3", nil)

	attachWithoutLoop(h, inRoom)
	attachWithoutLoop(h, alsoIn)
	attachWithoutLoop(h, outside)

	room := ClientRoom("c1")
	h.Join(room, inRoom)
	h.Join(room, alsoIn)

	n := h.EmitLocal(room, EventNewMessage, map[string]string{"id": "42"})
	assert.Equal(t, 2, n)

	assert.Len(t, drainFrames(t, inRoom), 1)
	assert.Len(t, drainFrames(t, alsoIn), 1)
	assert.Empty(t, drainFrames(t, outside))
}

func TestHub_MultiTabSameUser(t *testing.T) {
	h := NewHub()

	// 同一ユーザーの2接続（マルチタブ）はどちらにも届く
	tab1 := NewConnection("u1", nil)
	tab2 := NewConnection("u1", nil)

	attachWithoutLoop(h, tab1)
	attachWithoutLoop(h, tab2)

	room := ClientRoom("c1")
	h.Join(room, tab1)
	h.Join(room, tab2)

	n := h.EmitLocal(room, EventNewMessage, map[string]string{"id": "42"})
	assert.Equal(t, 2, n)
}

func TestHub_DetachDropsAllMemberships(t *testing.T) {
	h := NewHub()

	c := NewConnection("u1", nil)
	attachWithoutLoop(h, c)

	h.Join(ClientRoom("c1"), c)
	h.Join(TeamRoom("t1"), c)
	h.Join(UserRoom("u1"), c)
	assert.Len(t, h.Rooms(c), 3)

	h.Detach(c)
	assert.Empty(t, h.Rooms(c))

	// 切断後はどのroomにも届かない
	assert.Equal(t, 0, h.EmitLocal(ClientRoom("c1"), EventNewMessage, nil))
	assert.Equal(t, 0, h.EmitLocal(TeamRoom("t1"), EventTeamMessage, nil))
}

func TestHub_LeaveIsIdempotent(t *testing.T) {
	h := NewHub()

	c := NewConnection("u1", nil)
	attachWithoutLoop(h, c)

	room := ClientRoom("c1")
	h.Join(room, c)

	h.Leave(room, c)
	h.Leave(room, c) // 2回呼んでも何も起きない
	h.Leave("never-joined", c)

	assert.Equal(t, 0, h.EmitLocal(room, EventNewMessage, nil))
}

func TestHub_JoinUnknownConnectionIgnored(t *testing.T) {
	h := NewHub()

	ghost := NewConnection("u1", nil)
	h.Join(ClientRoom("c1"), ghost)

	assert.Equal(t, 0, h.EmitLocal(ClientRoom("c1"), EventNewMessage, nil))
}

func TestConnection_SendAfterCloseFails(t *testing.T) {
	c := NewConnection("u1", nil)
	c.Close(1000, "bye")

	err := c.Send([]byte("{}"))
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestConnection_BufferOverflowClosesConnection(t *testing.T) {
	c := NewConnection("u1", nil)

	// writeLoopを起動しないのでバッファが溜まる一方になる
	for i := 0; i < sendBufferSize; i++ {
		assert.NoError(t, c.Send([]byte("{}")))
	}

	// 満杯の次のSendで接続ごと切られる
	err := c.Send([]byte("{}"))
	assert.ErrorIs(t, err, ErrConnClosed)

	select {
	case <-c.Closed():
	default:
		t.Fatal("connection should be closed after overflow")
	}
}
