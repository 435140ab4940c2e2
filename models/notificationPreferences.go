package models

import "fmt"

// EventToggle is the per-channel switch for one event. Nil means enabled.
type EventToggle struct {
	Email *bool `json:"email,omitempty"`
	Sms   *bool `json:"sms,omitempty"`
}

func (t EventToggle) Enabled(channel NotificationChannel) bool {
	var v *bool
	switch channel {
	case NotificationChannelEmail:
		v = t.Email
	case NotificationChannelSms:
		v = t.Sms
	default:
		return false
	}
	return v == nil || *v
}

// NotificationPreferences holds one toggle per event. It is used both for the
// business-wide admin settings and for a customer's own preferences.
type NotificationPreferences struct {
	NewCustomerOnboarded   EventToggle `json:"newCustomerOnboarded"`
	AppointmentConfirmed   EventToggle `json:"appointmentConfirmed"`
	AppointmentCancelled   EventToggle `json:"appointmentCancelled"`
	AppointmentRescheduled EventToggle `json:"appointmentRescheduled"`
	AppointmentStarted     EventToggle `json:"appointmentStarted"`
	AppointmentCompleted   EventToggle `json:"appointmentCompleted"`
	ReviewSubmitted        EventToggle `json:"reviewSubmitted"`
}

// ToggleFor maps every event to its settings field. Adding an event without
// extending this switch makes the mapping test fail.
func (p *NotificationPreferences) ToggleFor(event NotificationEvent) (EventToggle, error) {
	if p == nil {
		return EventToggle{}, nil
	}
	switch event {
	case NotificationEventNewCustomerOnboarded:
		return p.NewCustomerOnboarded, nil
	case NotificationEventAppointmentConfirmed:
		return p.AppointmentConfirmed, nil
	case NotificationEventAppointmentCancelled:
		return p.AppointmentCancelled, nil
	case NotificationEventAppointmentRescheduled:
		return p.AppointmentRescheduled, nil
	case NotificationEventAppointmentStarted:
		return p.AppointmentStarted, nil
	case NotificationEventAppointmentCompleted:
		return p.AppointmentCompleted, nil
	case NotificationEventReviewSubmitted:
		return p.ReviewSubmitted, nil
	}
	return EventToggle{}, fmt.Errorf("no notification preference for event %q", event)
}

// Allows reports whether event may be sent over channel. Unknown events are refused.
func (p *NotificationPreferences) Allows(event NotificationEvent, channel NotificationChannel) bool {
	toggle, err := p.ToggleFor(event)
	if err != nil {
		return false
	}
	return toggle.Enabled(channel)
}
