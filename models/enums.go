package models

import (
	"fmt"
	"strings"
)

type NotificationEvent string

const (
	NotificationEventNewCustomerOnboarded   NotificationEvent = "new_customer_onboarded"
	NotificationEventAppointmentConfirmed   NotificationEvent = "appointment_confirmed"
	NotificationEventAppointmentCancelled   NotificationEvent = "appointment_cancelled"
	NotificationEventAppointmentRescheduled NotificationEvent = "appointment_rescheduled"
	NotificationEventAppointmentStarted     NotificationEvent = "appointment_started"
	NotificationEventAppointmentCompleted   NotificationEvent = "appointment_completed"
	NotificationEventReviewSubmitted        NotificationEvent = "review_submitted"
)

// AllNotificationEvents lists every event the engine knows, in declaration order.
var AllNotificationEvents = []NotificationEvent{
	NotificationEventNewCustomerOnboarded,
	NotificationEventAppointmentConfirmed,
	NotificationEventAppointmentCancelled,
	NotificationEventAppointmentRescheduled,
	NotificationEventAppointmentStarted,
	NotificationEventAppointmentCompleted,
	NotificationEventReviewSubmitted,
}

func ParseNotificationEvent(s string) (NotificationEvent, error) {
	e := NotificationEvent(strings.TrimSpace(s))
	if !e.IsValid() {
		return "", fmt.Errorf("invalid notification event %q", s)
	}
	return e, nil
}

func (e NotificationEvent) IsValid() bool {
	for _, v := range AllNotificationEvents {
		if v == e {
			return true
		}
	}
	return false
}

// IsAdminOnly reports whether the event has no customer-facing variant.
func (e NotificationEvent) IsAdminOnly() bool {
	switch e {
	case NotificationEventNewCustomerOnboarded, NotificationEventReviewSubmitted:
		return true
	case NotificationEventAppointmentConfirmed,
		NotificationEventAppointmentCancelled,
		NotificationEventAppointmentRescheduled,
		NotificationEventAppointmentStarted,
		NotificationEventAppointmentCompleted:
		return false
	}
	return false
}

// AppointmentAction returns the lifecycle action behind an appointment event.
func (e NotificationEvent) AppointmentAction() (AppointmentAction, bool) {
	switch e {
	case NotificationEventAppointmentConfirmed:
		return AppointmentActionConfirmed, true
	case NotificationEventAppointmentCancelled:
		return AppointmentActionCancelled, true
	case NotificationEventAppointmentRescheduled:
		return AppointmentActionRescheduled, true
	case NotificationEventAppointmentStarted:
		return AppointmentActionStarted, true
	case NotificationEventAppointmentCompleted:
		return AppointmentActionCompleted, true
	case NotificationEventNewCustomerOnboarded, NotificationEventReviewSubmitted:
		return "", false
	}
	return "", false
}

type AppointmentAction string

const (
	AppointmentActionConfirmed   AppointmentAction = "confirmed"
	AppointmentActionCancelled   AppointmentAction = "cancelled"
	AppointmentActionRescheduled AppointmentAction = "rescheduled"
	AppointmentActionStarted     AppointmentAction = "started"
	AppointmentActionCompleted   AppointmentAction = "completed"
)

func ParseAppointmentAction(s string) (AppointmentAction, error) {
	a := AppointmentAction(strings.ToLower(strings.TrimSpace(s)))
	if _, err := a.Event(); err != nil {
		return "", err
	}
	return a, nil
}

func (a AppointmentAction) Event() (NotificationEvent, error) {
	switch a {
	case AppointmentActionConfirmed:
		return NotificationEventAppointmentConfirmed, nil
	case AppointmentActionCancelled:
		return NotificationEventAppointmentCancelled, nil
	case AppointmentActionRescheduled:
		return NotificationEventAppointmentRescheduled, nil
	case AppointmentActionStarted:
		return NotificationEventAppointmentStarted, nil
	case AppointmentActionCompleted:
		return NotificationEventAppointmentCompleted, nil
	}
	return "", fmt.Errorf("invalid appointment action %q", string(a))
}

// StatusLabel is the human wording used in messages for the action.
func (a AppointmentAction) StatusLabel() string {
	switch a {
	case AppointmentActionConfirmed:
		return "confirmed"
	case AppointmentActionCancelled:
		return "cancelled"
	case AppointmentActionRescheduled:
		return "rescheduled"
	case AppointmentActionStarted:
		return "in progress"
	case AppointmentActionCompleted:
		return "completed"
	}
	return string(a)
}

type NotificationChannel string

const (
	NotificationChannelEmail NotificationChannel = "email"
	NotificationChannelSms   NotificationChannel = "sms"
)

type RecipientType string

const (
	RecipientTypeAdmin    RecipientType = "admin"
	RecipientTypeCustomer RecipientType = "customer"
)

type DispatchStatus string

const (
	DispatchStatusQueued   DispatchStatus = "queued"
	DispatchStatusSent     DispatchStatus = "sent"
	DispatchStatusFailed   DispatchStatus = "failed"
	DispatchStatusCanceled DispatchStatus = "canceled"
)

func (s DispatchStatus) IsTerminal() bool {
	switch s {
	case DispatchStatusSent, DispatchStatusFailed, DispatchStatusCanceled:
		return true
	case DispatchStatusQueued:
		return false
	}
	return false
}
