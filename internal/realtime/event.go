package realtime

import "encoding/json"

// server→client のイベント名
const (
	EventNewMessage        = "new_message"
	EventTeamMessage       = "team_message"
	EventChatUpdated       = "chat_updated"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
)

// client→server のイベント名
const (
	EventJoinClient  = "join_client"
	EventLeaveClient = "leave_client"
	EventJoinTeam    = "join_team"
	EventLeaveTeam   = "leave_team"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
)

// websocket上を流れるJSONフレーム
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame はpayloadをJSONにしてフレームに包む。
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// roomのキー。会話・チーム・ユーザーの3種類。
func ClientRoom(clientID string) string { return "client:" + clientID }
func TeamRoom(teamID string) string     { return "team:" + teamID }
func UserRoom(userID string) string     { return "user:" + userID }
