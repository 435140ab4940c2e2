package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/notification_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var ErrDuplicateDispatch = errors.New("notification dispatch already exists")

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	// sqlite (tests) without error translation
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// DispatchRepository persists NotificationDispatch records.
type DispatchRepository struct {
	db *gorm.DB
}

func NewDispatchRepository(db *gorm.DB) *DispatchRepository {
	return &DispatchRepository{db: db}
}

// FindByDedupeKey returns nil, nil when no record carries key.
func (r *DispatchRepository) FindByDedupeKey(ctx context.Context, key string) (*NotificationDispatch, error) {
	var rec NotificationDispatch
	err := r.db.WithContext(ctx).Where("dedupe_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find dispatch by dedupe key: %w", err)
	}
	return &rec, nil
}

// Create inserts rec. A unique violation on dedupe_key yields ErrDuplicateDispatch.
func (r *DispatchRepository) Create(ctx context.Context, rec *NotificationDispatch) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return ErrDuplicateDispatch
		}
		return fmt.Errorf("create dispatch: %w", err)
	}
	return nil
}

// Get returns nil, nil when the record does not exist.
func (r *DispatchRepository) Get(ctx context.Context, id int) (*NotificationDispatch, error) {
	var rec NotificationDispatch
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dispatch %d: %w", id, err)
	}
	return &rec, nil
}

// MarkTerminal moves a queued record to status. It reports false when the
// record was missing or had already left queued.
func (r *DispatchRepository) MarkTerminal(ctx context.Context, id int, status DispatchStatus, errMsg *string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("mark dispatch %d: %q is not a terminal status", id, status)
	}
	if errMsg != nil {
		errMsg = utils.NewString(utils.Truncate(*errMsg, DispatchErrorMaxLength))
	}
	res := r.db.WithContext(ctx).
		Model(&NotificationDispatch{}).
		Where("id = ? AND status = ?", id, DispatchStatusQueued).
		Updates(map[string]interface{}{
			"status":     status,
			"error":      errMsg,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark dispatch %d %s: %w", id, status, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SetWorkId records the queue handle. It does not touch status, so it is
// allowed even when the job already completed.
func (r *DispatchRepository) SetWorkId(ctx context.Context, id int, workId string) error {
	ctx = utils.SetSkipDispatchGuardInContext(ctx, true)
	err := r.db.WithContext(ctx).
		Model(&NotificationDispatch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"work_id":    workId,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("set work id on dispatch %d: %w", id, err)
	}
	return nil
}

// SetNote stores msg in error while the record is still queued.
func (r *DispatchRepository) SetNote(ctx context.Context, id int, msg string) error {
	err := r.db.WithContext(ctx).
		Model(&NotificationDispatch{}).
		Where("id = ? AND status = ?", id, DispatchStatusQueued).
		Updates(map[string]interface{}{
			"error":      msg,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("set note on dispatch %d: %w", id, err)
	}
	return nil
}

// ListStaleQueued returns queued records not touched since before, oldest first.
// When fallbackOnly is set only records that never got a work id are returned.
func (r *DispatchRepository) ListStaleQueued(ctx context.Context, before time.Time, fallbackOnly bool, limit int) ([]*NotificationDispatch, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", DispatchStatusQueued, before)
	if fallbackOnly {
		q = q.Where("work_id IS NULL")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []*NotificationDispatch
	if err := q.Order("id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list stale queued dispatches: %w", err)
	}
	return recs, nil
}

// ListCreatedBetween returns records created in [from, to), ordered by id.
func (r *DispatchRepository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*NotificationDispatch, error) {
	var recs []*NotificationDispatch
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list dispatches between %s and %s: %w", from.Format(time.RFC3339), to.Format(time.RFC3339), err)
	}
	return recs, nil
}

// DispatchStatusCount is one row of CountByStatus.
type DispatchStatusCount struct {
	Event  NotificationEvent
	Status DispatchStatus
	Total  int64
}

func (r *DispatchRepository) CountByStatus(ctx context.Context, from, to time.Time) ([]DispatchStatusCount, error) {
	var rows []DispatchStatusCount
	err := r.db.WithContext(ctx).
		Model(&NotificationDispatch{}).
		Select("event, status, COUNT(*) AS total").
		Where("created_at >= ? AND created_at < ?", from, to).
		Group("event, status").
		Order("event, status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count dispatches by status: %w", err)
	}
	return rows, nil
}
