package model

import "time"

type Team struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// チームの所属（join_team の認可チェックで参照する）
type TeamMember struct {
	TeamID    string    `gorm:"type:uuid;primaryKey" json:"team_id"`
	UserID    string    `gorm:"type:uuid;primaryKey;index" json:"user_id"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
