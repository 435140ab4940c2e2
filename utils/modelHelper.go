package utils

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

/* DB fetching */

// fetch a single model matching query
// (returns ErrorRecordNotFound when nothing matches)
func FetchSingleModel[T any](ctx context.Context, db *gorm.DB, query string, args ...interface{}) (*T, error) {
	var result T
	err := db.WithContext(ctx).Where(query, args...).Take(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// fetch a single model matching query, nil when nothing matches
func FetchOptionalModel[T any](ctx context.Context, db *gorm.DB, query string, args ...interface{}) (*T, error) {
	result, err := FetchSingleModel[T](ctx, db, query, args...)
	if errors.Is(err, ErrorRecordNotFound) {
		return nil, nil
	}
	return result, err
}
