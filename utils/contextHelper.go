package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/notification_backend/appctx"
	"github.com/google/uuid"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyCorrelationId     = appctx.ContextKeyCorrelationId
	ContextKeyDispatchId        = appctx.ContextKeyDispatchId
	ContextKeyWorkId            = appctx.ContextKeyWorkId
	ContextKeySkipDispatchGuard = appctx.ContextKeySkipDispatchGuard
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

// CorrelationIdFromContextOrNew returns the request correlation id, minting one when absent.
func CorrelationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func GetDispatchIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyDispatchId)
}

func SetDispatchIdInContext(ctx context.Context, dispatchId int) context.Context {
	return appctx.Set(ctx, ContextKeyDispatchId, dispatchId)
}

func GetWorkIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyWorkId)
}

func SetWorkIdInContext(ctx context.Context, workId string) context.Context {
	return appctx.Set(ctx, ContextKeyWorkId, workId)
}

func GetSkipDispatchGuardFromContext(ctx context.Context) (bool, bool) {
	return appctx.GetBool(ctx, ContextKeySkipDispatchGuard)
}

func SetSkipDispatchGuardInContext(ctx context.Context, skip bool) context.Context {
	return appctx.Set(ctx, ContextKeySkipDispatchGuard, skip)
}
