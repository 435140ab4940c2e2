package models

import (
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/notification_backend/utils"
)

const (
	DispatchErrorCanceled         = "Delivery canceled"
	DispatchErrorFallbackNote     = "queue unavailable, used fallback"
	DispatchErrorQueueUnavailable = "queue unavailable"

	// DispatchErrorMaxLength bounds the stored error text in runes.
	DispatchErrorMaxLength = 2000
)

// NotificationDispatch is the durable record of one logical notification.
// Unique constraint: dedupe_key.
type NotificationDispatch struct {
	ID            int                 `gorm:"primary_key" json:"id"`
	DedupeKey     string              `gorm:"size:512;not null;uniqueIndex:uniq_notification_dispatch_dedupe" json:"dedupe_key"`
	Event         NotificationEvent   `gorm:"size:50;not null;index" json:"event"`
	Channel       NotificationChannel `gorm:"size:10;not null" json:"channel"`
	RecipientType RecipientType       `gorm:"size:10;not null" json:"recipient_type"`
	Recipient     string              `gorm:"size:255;not null" json:"recipient"`
	Status        DispatchStatus      `gorm:"size:20;not null;index" json:"status"`
	WorkId        *string             `gorm:"size:64" json:"work_id"`
	Error         *string             `gorm:"type:text" json:"error"`
	UserId        *int                `gorm:"index" json:"user_id"`
	AppointmentId *int                `gorm:"index" json:"appointment_id"`
	ReviewId      *int                `json:"review_id"`
	Transition    *string             `gorm:"size:100" json:"transition"`
	CreatedAt     time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (NotificationDispatch) TableName() string {
	return "notification_dispatches"
}

// DispatchCandidate is one (recipient type, channel) pair produced for an event occurrence.
type DispatchCandidate struct {
	Event         NotificationEvent
	Channel       NotificationChannel
	RecipientType RecipientType
	Recipient     string
	UserId        *int
	AppointmentId *int
	ReviewId      *int
	Transition    *string
}

func (c DispatchCandidate) DedupeKey() string {
	return BuildDedupeKey(c)
}

// NewDispatch builds the record for c in the given status.
func (c DispatchCandidate) NewDispatch(status DispatchStatus, errMsg *string) *NotificationDispatch {
	return &NotificationDispatch{
		DedupeKey:     c.DedupeKey(),
		Event:         c.Event,
		Channel:       c.Channel,
		RecipientType: c.RecipientType,
		Recipient:     c.Recipient,
		Status:        status,
		Error:         errMsg,
		UserId:        c.UserId,
		AppointmentId: c.AppointmentId,
		ReviewId:      c.ReviewId,
		Transition:    utils.OptionalString(utils.DereferencePtr(c.Transition, "")),
	}
}

// BuildDedupeKey joins the candidate identity in fixed order:
// event:channel:recipientType:recipient:userId:appointmentId:reviewId:transition
// with absent parts rendered as "none".
func BuildDedupeKey(c DispatchCandidate) string {
	return strings.Join([]string{
		string(c.Event),
		string(c.Channel),
		string(c.RecipientType),
		c.Recipient,
		utils.IntOrNone(c.UserId),
		utils.IntOrNone(c.AppointmentId),
		utils.IntOrNone(c.ReviewId),
		utils.StringOrNone(c.Transition),
	}, ":")
}

// DeliveryReport is what a transport returns for a single send.
type DeliveryReport struct {
	Delivered  bool   `json:"delivered"`
	Error      string `json:"error,omitempty"`
	ProviderId string `json:"provider_id,omitempty"`
}

// Err converts an undelivered report into an error carrying the transport's reason.
func (r DeliveryReport) Err() error {
	if r.Delivered {
		return nil
	}
	if strings.TrimSpace(r.Error) == "" {
		return errors.New("delivery not confirmed by transport")
	}
	return errors.New(r.Error)
}
