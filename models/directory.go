package models

import (
	"context"

	"bitbucket.org/mmdatafocus/notification_backend/utils"
	"gorm.io/gorm"
)

// Directory is the read-only view of booking data. Every lookup returns
// nil, nil when the row does not exist.
type Directory interface {
	GetUser(ctx context.Context, id int) (*User, error)
	GetAppointment(ctx context.Context, id int) (*Appointment, error)
	GetReview(ctx context.Context, id int) (*Review, error)
	GetInvoiceByAppointment(ctx context.Context, appointmentId int) (*AppointmentInvoice, error)
	GetBusinessSettings(ctx context.Context) (*BusinessSettings, error)
}

type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) GetUser(ctx context.Context, id int) (*User, error) {
	return utils.FetchOptionalModel[User](ctx, d.db, "id = ?", id)
}

func (d *GormDirectory) GetAppointment(ctx context.Context, id int) (*Appointment, error) {
	return utils.FetchOptionalModel[Appointment](ctx, d.db, "id = ?", id)
}

func (d *GormDirectory) GetReview(ctx context.Context, id int) (*Review, error) {
	return utils.FetchOptionalModel[Review](ctx, d.db, "id = ?", id)
}

// GetInvoiceByAppointment returns the latest invoice of the appointment.
func (d *GormDirectory) GetInvoiceByAppointment(ctx context.Context, appointmentId int) (*AppointmentInvoice, error) {
	var rows []AppointmentInvoice
	err := d.db.WithContext(ctx).
		Where("appointment_id = ?", appointmentId).
		Order("id DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (d *GormDirectory) GetBusinessSettings(ctx context.Context) (*BusinessSettings, error) {
	return utils.FetchOptionalModel[BusinessSettings](ctx, d.db, "1 = 1")
}
