package models

import "gorm.io/gorm"

// MigrateTable creates the tables owned by this service.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(&NotificationDispatch{})
}

// MigrateDirectoryTables creates the booking tables read through Directory.
// Production shares them with the booking service; this is for local runs and tests.
func MigrateDirectoryTables(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Appointment{}, &AppointmentInvoice{}, &Review{}, &BusinessSettings{})
}
