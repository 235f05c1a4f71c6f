package agentclient

import (
	"fmt"
	"testing"
	"time"

	"app/internal/domain/model"

	"github.com/stretchr/testify/assert"
)

var threadBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testMessage(id string, sessionID string, offset time.Duration) model.Message {
	return model.Message{
		ID:        id,
		SessionID: sessionID,
		Body:      "body-" + id,
		Platform:  model.PlatformWeb,
		CreatedAt: threadBase.Add(offset),
	}
}

func idsOf(msgs []model.Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

// 同期レスポンスで入れた後、同じidのroomイベントが届いても1件のまま。
func TestThreadStore_SendEchoSingleInstance(t *testing.T) {
	s := NewThreadStore()
	s.Open("c-1")

	canonical := testMessage("m-1", "c-1", 0)

	assert.True(t, s.Apply(canonical))  // POST /messages のレスポンス
	assert.False(t, s.Apply(canonical)) // 後から届いたecho

	assert.Equal(t, []string{"m-1"}, idsOf(s.Messages("c-1")))
}

func TestThreadStore_InsertKeepsCanonicalOrder(t *testing.T) {
	s := NewThreadStore()

	// 順不同で届く
	s.Apply(testMessage("m-3", "c-1", 2*time.Second))
	s.Apply(testMessage("m-1", "c-1", 0))
	s.Apply(testMessage("m-2", "c-1", time.Second))
	// created_atが同時ならidで安定させる
	s.Apply(testMessage("m-5", "c-1", 3*time.Second))
	s.Apply(testMessage("m-4", "c-1", 3*time.Second))

	assert.Equal(t, []string{"m-1", "m-2", "m-3", "m-4", "m-5"}, idsOf(s.Messages("c-1")))
}

func TestThreadStore_UnreadOnlyForClosedConversations(t *testing.T) {
	s := NewThreadStore()
	s.Open("c-open")

	s.Apply(testMessage("m-1", "c-open", 0))
	s.Apply(testMessage("m-2", "c-other", time.Second))
	s.Apply(testMessage("m-3", "c-other", 2*time.Second))

	assert.Equal(t, 0, s.Unread("c-open"))
	assert.Equal(t, 2, s.Unread("c-other"))

	// 開いたらリセット
	s.Open("c-other")
	assert.Equal(t, 0, s.Unread("c-other"))
}

// 開いていない会話への自分の送信は未読にしない。
// 未読が増えるのは他者のメッセージがイベントで届いたときだけ。
func TestThreadStore_OwnSendIsNotUnread(t *testing.T) {
	s := NewThreadStore()
	s.SetSelf("u-me")
	s.Open("c-open")

	me := "u-me"
	other := "u-other"

	own := testMessage("m-1", "c-other", 0)
	own.AuthorID = &me
	theirs := testMessage("m-2", "c-other", time.Second)
	theirs.AuthorID = &other
	inbound := testMessage("m-3", "c-other", 2*time.Second) // AuthorIDなし=顧客

	s.Apply(own)
	s.Apply(theirs)
	s.Apply(inbound)

	assert.Equal(t, 2, s.Unread("c-other"))
}

// 切断していたクライアントがresyncすると、繋ぎっぱなしだった
// クライアントとid集合が一致する。
func TestThreadStore_ResyncConvergesWithConnectedPeer(t *testing.T) {
	connected := NewThreadStore()
	dropped := NewThreadStore()

	var authoritative []model.Message
	for i := 0; i < 6; i++ {
		msg := testMessage(fmt.Sprintf("m-%d", i), "c-1", time.Duration(i)*time.Second)
		authoritative = append(authoritative, msg)
		connected.Apply(msg)
		if i < 2 {
			// 切断前の2件だけ届いていた
			dropped.Apply(msg)
		}
	}

	added := dropped.Resync("c-1", authoritative)

	assert.Equal(t, 4, added)
	assert.Equal(t, idsOf(connected.Messages("c-1")), idsOf(dropped.Messages("c-1")))
}

func TestThreadStore_ResyncDoesNotDuplicate(t *testing.T) {
	s := NewThreadStore()
	msgs := []model.Message{
		testMessage("m-1", "c-1", 0),
		testMessage("m-2", "c-1", time.Second),
	}
	for _, m := range msgs {
		s.Apply(m)
	}

	assert.Equal(t, 0, s.Resync("c-1", msgs))
	assert.Len(t, s.Messages("c-1"), 2)
}

func TestThreadStore_PreviewTracksLatest(t *testing.T) {
	s := NewThreadStore()

	s.Apply(testMessage("m-2", "c-1", time.Second))
	assert.Equal(t, "body-m-2", s.Preview("c-1"))

	// 古いメッセージが遅れて届いてもプレビューは最新のまま
	s.Apply(testMessage("m-1", "c-1", 0))
	assert.Equal(t, "body-m-2", s.Preview("c-1"))
}
