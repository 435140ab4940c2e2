package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Appointment struct {
	ID          int       `gorm:"primary_key" json:"id"`
	UserId      int       `gorm:"index;not null" json:"user_id"`
	ServiceName string    `gorm:"size:100" json:"service_name"`
	StartsAt    time.Time `gorm:"not null" json:"starts_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AppointmentInvoice carries the deposit state gating confirmation notices.
type AppointmentInvoice struct {
	ID            int             `gorm:"primary_key" json:"id"`
	AppointmentId int             `gorm:"index;not null" json:"appointment_id"`
	DepositAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"deposit_amount"`
	DepositPaid   bool            `gorm:"not null;default:false" json:"deposit_paid"`
	DepositPaidAt *time.Time      `json:"deposit_paid_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type Review struct {
	ID            int       `gorm:"primary_key" json:"id"`
	UserId        int       `gorm:"index;not null" json:"user_id"`
	AppointmentId *int      `json:"appointment_id"`
	Rating        int       `gorm:"not null" json:"rating"`
	Comment       string    `gorm:"type:text" json:"comment"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BusinessSettings is the single settings row of the business.
type BusinessSettings struct {
	ID            int                     `gorm:"primary_key" json:"id"`
	BusinessName  string                  `gorm:"size:100" json:"business_name"`
	Timezone      string                  `gorm:"size:64" json:"timezone"`
	Notifications NotificationPreferences `gorm:"type:text;serializer:json" json:"notifications"`
	UpdatedAt     time.Time               `gorm:"autoUpdateTime" json:"updated_at"`
}

// Location resolves Timezone, falling back to UTC.
func (s *BusinessSettings) Location() *time.Location {
	if s == nil || s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
