package models

import "time"

// User is the customer account. Read-only for this service.
type User struct {
	ID                      int                     `gorm:"primary_key" json:"id"`
	Name                    string                  `gorm:"size:100;not null" json:"name"`
	Email                   string                  `gorm:"size:100" json:"email"`
	Phone                   *string                 `gorm:"size:20" json:"phone"`
	NotificationPreferences NotificationPreferences `gorm:"type:text;serializer:json" json:"notification_preferences"`
	CreatedAt               time.Time               `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time               `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return "Customer"
}
