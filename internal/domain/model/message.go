package model

import "time"

// 会話のメッセージ。id と created_at はinsert時に確定し、
// (created_at, id) が正規の並び順になる。
type Message struct {
	ID         string        `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID  string        `gorm:"type:uuid;not null;index" json:"session_id"`
	AuthorID   *string       `gorm:"type:uuid;index" json:"author_id"` // nullなら顧客からの受信
	AuthorName string        `json:"author_name"`
	Body       string        `json:"message"`
	Files      []MessageFile `gorm:"foreignKey:MessageID" json:"message_file"`
	Platform   Platform      `gorm:"type:varchar(20);not null" json:"platform"`
	ExternalID *string       `gorm:"uniqueIndex" json:"external_id,omitempty"`
	IsRead     bool          `gorm:"not null;default:false" json:"is_read"`
	CreatedAt  time.Time     `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

// 添付ファイル（実体は外部ストレージ、ここはURLだけ持つ）
type MessageFile struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID string    `gorm:"type:uuid;not null;index" json:"message_id"`
	URL       string    `gorm:"not null" json:"url"`
	Name      string    `json:"name"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
