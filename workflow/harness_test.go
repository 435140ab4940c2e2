package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/notification_backend/config"
	"bitbucket.org/mmdatafocus/notification_backend/models"
	"bitbucket.org/mmdatafocus/notification_backend/transport"
	"bitbucket.org/mmdatafocus/notification_backend/utils"
	"bitbucket.org/mmdatafocus/notification_backend/workpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	testAdminEmail = "owner@studio.test"
	testAdminSms   = "+15015559999"
	testPhone      = "+15015550100"
)

var testRetry = workpool.RetryPolicy{MaxAttempts: 4, InitialBackoff: time.Millisecond, Base: 2, MaxBackoff: 5 * time.Millisecond}

type harness struct {
	db          *gorm.DB
	repo        *models.DispatchRepository
	sender      *transport.MemorySender
	pool        *workpool.Pool
	metrics     *Metrics
	engine      *Engine
	user        *models.User
	appointment *models.Appointment
	settings    *models.BusinessSettings
}

type harnessOption func(*EngineDeps, *EngineConfig)

func withQueue(q Queue) harnessOption {
	return func(d *EngineDeps, _ *EngineConfig) { d.Queue = q }
}

func withOnlineMode() harnessOption {
	return func(_ *EngineDeps, c *EngineConfig) { c.OfflineMode = false }
}

func withLocker(l *utils.KeyLocker) harnessOption {
	return func(d *EngineDeps, _ *EngineConfig) { d.Locker = l }
}

func withDeliverer(d Deliverer) harnessOption {
	return func(deps *EngineDeps, _ *EngineConfig) { deps.Deliverer = d }
}

func withFallbackParallelism(n int) harnessOption {
	return func(_ *EngineDeps, c *EngineConfig) { c.FallbackParallelism = n }
}

func withoutAdminSms() harnessOption {
	return func(_ *EngineDeps, c *EngineConfig) { c.AdminSmsTo = "" }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	name := strings.NewReplacer("/", "_", ".", "_").Replace(t.Name())
	db, err := config.OpenSQLite(name)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := models.MigrateDirectoryTables(db); err != nil {
		t.Fatalf("migrate directory: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	h := &harness{
		db:      db,
		repo:    models.NewDispatchRepository(db),
		sender:  transport.NewMemorySender(),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	h.pool = workpool.New(workpool.Config{Parallelism: 4, RetryByDefault: true, DefaultRetry: testRetry, Logger: logger})
	h.pool.Start()

	directory := models.NewGormDirectory(db)
	deps := EngineDeps{
		Store:     h.repo,
		Directory: directory,
		Queue:     h.pool,
		Deliverer: NewExecutor(directory, transport.NewEmailer(h.sender), h.sender, "Studio", logger),
		Logger:    logger,
		Metrics:   h.metrics,
	}
	cfg := EngineConfig{
		AdminEmailTo: testAdminEmail,
		AdminSmsTo:   testAdminSms,
		OfflineMode:  true,
		RetryPolicy:  testRetry,
	}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}
	h.engine = NewEngine(deps, cfg)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.pool.Shutdown(ctx)
		h.engine.Wait()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	h.seed(t)
	return h
}

func (h *harness) seed(t *testing.T) {
	t.Helper()
	h.settings = &models.BusinessSettings{BusinessName: "Glow Studio", Timezone: "UTC"}
	h.user = &models.User{Name: "Ada", Email: "ada@example.com", Phone: utils.NewString(testPhone)}
	if err := h.db.Create(h.settings).Error; err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	if err := h.db.Create(h.user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	h.appointment = &models.Appointment{
		UserId:      h.user.ID,
		ServiceName: "Facial",
		StartsAt:    time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC),
	}
	if err := h.db.Create(h.appointment).Error; err != nil {
		t.Fatalf("seed appointment: %v", err)
	}
}

func (h *harness) addInvoice(t *testing.T, paid bool, amount string) {
	t.Helper()
	inv := &models.AppointmentInvoice{
		AppointmentId: h.appointment.ID,
		DepositAmount: decimal.RequireFromString(amount),
		DepositPaid:   paid,
	}
	if paid {
		now := time.Now()
		inv.DepositPaidAt = &now
	}
	if err := h.db.Create(inv).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
}

func (h *harness) updateSettings(t *testing.T, prefs models.NotificationPreferences) {
	t.Helper()
	h.settings.Notifications = prefs
	if err := h.db.Save(h.settings).Error; err != nil {
		t.Fatalf("update settings: %v", err)
	}
}

func (h *harness) dispatches(t *testing.T) []models.NotificationDispatch {
	t.Helper()
	var recs []models.NotificationDispatch
	if err := h.db.Order("id ASC").Find(&recs).Error; err != nil {
		t.Fatalf("list dispatches: %v", err)
	}
	return recs
}

// waitTerminal polls until every dispatch left queued.
func (h *harness) waitTerminal(t *testing.T) []models.NotificationDispatch {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		recs := h.dispatches(t)
		done := true
		for _, r := range recs {
			if !r.Status.IsTerminal() {
				done = false
				break
			}
		}
		if done {
			return recs
		}
		if time.Now().After(deadline) {
			t.Fatalf("dispatches still queued after deadline: %+v", recs)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func findDispatch(recs []models.NotificationDispatch, recipientType models.RecipientType, channel models.NotificationChannel) *models.NotificationDispatch {
	for i := range recs {
		if recs[i].RecipientType == recipientType && recs[i].Channel == channel {
			return &recs[i]
		}
	}
	return nil
}

type refusingQueue struct {
	err error
}

func (q refusingQueue) Enqueue(context.Context, workpool.Job, workpool.RetryPolicy, workpool.CompletionContext, workpool.OnComplete) (string, error) {
	return "", q.err
}

var errQueueDown = errors.New("queue backend unreachable")

// gatedDeliverer blocks every delivery until release is closed and records
// the highest number of deliveries running at once.
type gatedDeliverer struct {
	release chan struct{}

	mu       sync.Mutex
	inFlight int
	peak     int
}

func newGatedDeliverer() *gatedDeliverer {
	return &gatedDeliverer{release: make(chan struct{})}
}

func (d *gatedDeliverer) Deliver(ctx context.Context, rec *models.NotificationDispatch) (models.DeliveryReport, error) {
	d.mu.Lock()
	d.inFlight++
	if d.inFlight > d.peak {
		d.peak = d.inFlight
	}
	d.mu.Unlock()

	<-d.release

	d.mu.Lock()
	d.inFlight--
	d.mu.Unlock()
	return models.DeliveryReport{}, nil
}

func (d *gatedDeliverer) counts() (inFlight, peak int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight, d.peak
}
