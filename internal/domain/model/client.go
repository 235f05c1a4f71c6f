package model

import "time"

type Platform string

const (
	PlatformWeb      Platform = "web"
	PlatformTelegram Platform = "telegram"
	PlatformWhatsapp Platform = "whatsapp"
)

// CRMの顧客。1顧客 = 1会話（session_id は client.ID と同じ）
type Client struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	TeamID    string    `gorm:"type:uuid;not null;index" json:"team_id"`
	Name      string    `gorm:"not null" json:"name"`
	Platform  Platform  `gorm:"type:varchar(20);not null;default:'web'" json:"platform"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
