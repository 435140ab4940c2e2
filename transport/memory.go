package transport

import (
	"context"
	"strconv"
	"sync"

	"bitbucket.org/mmdatafocus/notification_backend/models"
)

// SentSms is one recorded SMS.
type SentSms struct {
	To   string
	Body string
}

// ResponseFunc decides the outcome of a send. Returning the zero report with a
// nil error means delivered.
type ResponseFunc func(channel models.NotificationChannel, to string) (models.DeliveryReport, error)

// MemorySender records every send attempt in memory for inspection/testing.
type MemorySender struct {
	mu      sync.Mutex
	emails  []EmailRequest
	sms     []SentSms
	respond ResponseFunc
	seq     int
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

// Respond installs fn as the outcome hook for subsequent sends.
func (m *MemorySender) Respond(fn ResponseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = fn
}

func (m *MemorySender) SendEmail(ctx context.Context, req EmailRequest) (models.DeliveryReport, error) {
	m.mu.Lock()
	m.emails = append(m.emails, req)
	m.mu.Unlock()
	return m.outcome(models.NotificationChannelEmail, req.To)
}

func (m *MemorySender) SendSms(ctx context.Context, to string, body string) (models.DeliveryReport, error) {
	m.mu.Lock()
	m.sms = append(m.sms, SentSms{To: to, Body: body})
	m.mu.Unlock()
	return m.outcome(models.NotificationChannelSms, to)
}

func (m *MemorySender) outcome(channel models.NotificationChannel, to string) (models.DeliveryReport, error) {
	m.mu.Lock()
	respond := m.respond
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	if respond != nil {
		report, err := respond(channel, to)
		if err != nil || report != (models.DeliveryReport{}) {
			return report, err
		}
	}
	return models.DeliveryReport{Delivered: true, ProviderId: "mem-" + strconv.Itoa(seq)}, nil
}

// Emails returns a copy of the email requests seen so far.
func (m *MemorySender) Emails() []EmailRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailRequest, len(m.emails))
	copy(out, m.emails)
	return out
}

// Sms returns a copy of the SMS sent so far.
func (m *MemorySender) Sms() []SentSms {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentSms, len(m.sms))
	copy(out, m.sms)
	return out
}
