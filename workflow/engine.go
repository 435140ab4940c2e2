package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/notification_backend/models"
	"bitbucket.org/mmdatafocus/notification_backend/utils"
	"bitbucket.org/mmdatafocus/notification_backend/workpool"
	"github.com/sirupsen/logrus"
)

const defaultLockTTL = 10 * time.Second

// DispatchStore is the persistence the engine needs for dispatch records.
type DispatchStore interface {
	FindByDedupeKey(ctx context.Context, key string) (*models.NotificationDispatch, error)
	Create(ctx context.Context, rec *models.NotificationDispatch) error
	Get(ctx context.Context, id int) (*models.NotificationDispatch, error)
	MarkTerminal(ctx context.Context, id int, status models.DispatchStatus, errMsg *string) (bool, error)
	SetWorkId(ctx context.Context, id int, workId string) error
	SetNote(ctx context.Context, id int, msg string) error
}

// Queue accepts delivery jobs. *workpool.Pool is the production implementation.
type Queue interface {
	Enqueue(ctx context.Context, job workpool.Job, policy workpool.RetryPolicy, cc workpool.CompletionContext, onComplete workpool.OnComplete) (string, error)
}

// Deliverer performs one delivery attempt for a dispatch record.
type Deliverer interface {
	Deliver(ctx context.Context, rec *models.NotificationDispatch) (models.DeliveryReport, error)
}

type EngineDeps struct {
	Store     DispatchStore
	Directory models.Directory
	Queue     Queue
	Deliverer Deliverer
	// Locker is optional; without Redis dedupe relies on the unique index alone.
	Locker  *utils.KeyLocker
	Logger  *logrus.Logger
	Metrics *Metrics
}

type EngineConfig struct {
	AdminEmailTo string
	// AdminSmsTo blank disables admin SMS.
	AdminSmsTo string
	// OfflineMode fails records whose enqueue failed instead of using the fallback.
	OfflineMode bool
	RetryPolicy workpool.RetryPolicy
	LockTTL     time.Duration
	// FallbackParallelism caps concurrent fallback deliveries; zero uses workpool.DefaultParallelism.
	FallbackParallelism int
}

// Engine turns business events into deduplicated, queued notification dispatches
// and reconciles their delivery outcome.
type Engine struct {
	store     DispatchStore
	directory models.Directory
	queue     Queue
	deliverer Deliverer
	locker    *utils.KeyLocker
	logger    *logrus.Logger
	metrics   *Metrics
	fallback  *FallbackScheduler
	cfg       EngineConfig
}

func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.RetryPolicy.IsZero() {
		cfg.RetryPolicy = workpool.DefaultRetryPolicy
	}
	return &Engine{
		store:     deps.Store,
		directory: deps.Directory,
		queue:     deps.Queue,
		deliverer: deps.Deliverer,
		locker:    deps.Locker,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		fallback:  NewFallbackScheduler(deps.Store, deps.Logger, deps.Metrics, cfg.FallbackParallelism),
		cfg:       cfg,
	}
}

// Wait blocks until every fallback delivery started so far has recorded its outcome.
func (e *Engine) Wait() {
	e.fallback.Wait()
}

// GetDispatch returns nil, nil for an unknown id.
func (e *Engine) GetDispatch(ctx context.Context, id int) (*models.NotificationDispatch, error) {
	return e.store.Get(ctx, id)
}
