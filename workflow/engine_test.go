package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/notification_backend/models"
	"bitbucket.org/mmdatafocus/notification_backend/utils"
	"bitbucket.org/mmdatafocus/notification_backend/workpool"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func TestAppointmentCancelledEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	summary, err := h.engine.QueueAppointmentLifecycleEvent(ctx, h.appointment.ID, models.AppointmentActionCancelled, "booked->cancelled")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if summary.Suppressed != "" || len(summary.Results) != 4 {
		t.Fatalf("expected 4 results, got %+v", summary)
	}

	recs := h.waitTerminal(t)
	if len(recs) != 4 {
		t.Fatalf("expected 4 dispatch records, got %d", len(recs))
	}
	for _, pair := range []struct {
		rt models.RecipientType
		ch models.NotificationChannel
		to string
	}{
		{models.RecipientTypeAdmin, models.NotificationChannelEmail, testAdminEmail},
		{models.RecipientTypeAdmin, models.NotificationChannelSms, testAdminSms},
		{models.RecipientTypeCustomer, models.NotificationChannelEmail, "ada@example.com"},
		{models.RecipientTypeCustomer, models.NotificationChannelSms, testPhone},
	} {
		rec := findDispatch(recs, pair.rt, pair.ch)
		if rec == nil {
			t.Fatalf("missing %s/%s dispatch", pair.rt, pair.ch)
		}
		if rec.Status != models.DispatchStatusSent || rec.Error != nil {
			t.Fatalf("%s/%s: expected sent without error, got %s %v", pair.rt, pair.ch, rec.Status, rec.Error)
		}
		if rec.Recipient != pair.to {
			t.Fatalf("%s/%s: recipient %q want %q", pair.rt, pair.ch, rec.Recipient, pair.to)
		}
		if rec.WorkId == nil {
			t.Fatalf("%s/%s: expected work id", pair.rt, pair.ch)
		}
		if rec.Event != models.NotificationEventAppointmentCancelled {
			t.Fatalf("unexpected event %s", rec.Event)
		}
	}

	sms := h.sender.Sms()
	if len(sms) != 2 {
		t.Fatalf("expected 2 sms sends, got %d", len(sms))
	}
	bodies := map[string]string{}
	for _, s := range sms {
		bodies[s.To] = s.Body
	}
	if got, want := bodies[testPhone], "Glow Studio: Hi Ada, your appointment on Sat, Mar 14 at 3:30 PM is cancelled."; got != want {
		t.Fatalf("customer sms\n got: %s\nwant: %s", got, want)
	}
	if got, want := bodies[testAdminSms], "Glow Studio: Ada's appointment on Sat, Mar 14 at 3:30 PM is cancelled."; got != want {
		t.Fatalf("admin sms\n got: %s\nwant: %s", got, want)
	}
	if len(h.sender.Emails()) != 2 {
		t.Fatalf("expected 2 email sends, got %d", len(h.sender.Emails()))
	}
	if got := testutil.ToFloat64(h.metrics.completedTotal.WithLabelValues(string(models.DispatchStatusSent))); got != 4 {
		t.Fatalf("expected 4 sent completions in metrics, got %v", got)
	}
}

func TestQueueingSameEventTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.QueueAppointmentLifecycleEvent(ctx, h.appointment.ID, models.AppointmentActionRescheduled, "r1")
	if err != nil {
		t.Fatalf("first queue: %v", err)
	}
	second, err := h.engine.QueueAppointmentLifecycleEvent(ctx, h.appointment.ID, models.AppointmentActionRescheduled, "r1")
	if err != nil {
		t.Fatalf("second queue: %v", err)
	}
	for i, r := range second.Results {
		if r.Created {
			t.Fatalf("second run created dispatch %d", r.DispatchId)
		}
		if r.DispatchId != first.Results[i].DispatchId {
			t.Fatalf("second run points at %d, want %d", r.DispatchId, first.Results[i].DispatchId)
		}
	}
	if recs := h.waitTerminal(t); len(recs) != 4 {
		t.Fatalf("expected 4 records after duplicate event, got %d", len(recs))
	}

	// a different transition is a different logical notification
	if _, err := h.engine.QueueAppointmentLifecycleEvent(ctx, h.appointment.ID, models.AppointmentActionRescheduled, "r2"); err != nil {
		t.Fatalf("third queue: %v", err)
	}
	if recs := h.waitTerminal(t); len(recs) != 8 {
		t.Fatalf("expected 8 records after new transition, got %d", len(recs))
	}
}

func TestInvalidRecipientIsFailedWithoutDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.engine.ensureQueued(ctx, models.DispatchCandidate{
		Event:         models.NotificationEventAppointmentCompleted,
		Channel:       models.NotificationChannelSms,
		RecipientType: models.RecipientTypeCustomer,
		Recipient:     "not-a-number",
		UserId:        &h.user.ID,
		AppointmentId: &h.appointment.ID,
	})
	if err != nil {
		t.Fatalf("ensureQueued: %v", err)
	}
	if !res.Created || res.Status != models.DispatchStatusFailed {
		t.Fatalf("expected a created failed record, got %+v", res)
	}

	rec, err := h.repo.Get(ctx, res.DispatchId)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != models.DispatchStatusFailed || rec.WorkId != nil {
		t.Fatalf("expected failed record without work id, got %+v", rec)
	}
	if rec.Error == nil || !strings.Contains(*rec.Error, "not-a-number") {
		t.Fatalf("expected descriptive error, got %v", rec.Error)
	}
	if len(h.sender.Sms()) != 0 {
		t.Fatal("invalid recipient must never reach the transport")
	}
}

func TestBlankCustomerEmailIsRecordedAsFailed(t *testing.T) {
	h := newHarness(t, withoutAdminSms())
	ctx := context.Background()
	if err := h.db.Model(h.user).Update("email", "").Error; err != nil {
		t.Fatalf("clear email: %v", err)
	}

	if _, err := h.engine.QueueAppointmentLifecycleEvent(ctx, h.appointment.ID, models.AppointmentActionStarted, ""); err != nil {
		t.Fatalf("queue: %v", err)
	}
	recs := h.waitTerminal(t)
	rec := findDispatch(recs, models.RecipientTypeCustomer, models.NotificationChannelEmail)
	if rec == nil || rec.Status != models.DispatchStatusFailed || rec.WorkId != nil {
		t.Fatalf("expected failed customer email record, got %+v", rec)
	}
	if findDispatch(recs, models.RecipientTypeAdmin, models.NotificationChannelSms) != nil {
		t.Fatal("admin sms must be skipped without a configured number")
	}
}

func TestDeliveryFailureEventuallyFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sender.Respond(func(channel models.NotificationChannel, to string) (models.DeliveryReport, error) {
		if to == "ada@example.com" {
			return models.DeliveryReport{Delivered: false, Error: "mailbox unavailable"}, nil
		}
		if to == testPhone {
			return models.DeliveryReport{}, errors.New("sms gateway timeout")
		}
		return models.DeliveryReport{}, nil
	})

	if _, err := h.engine.QueueAppointmentLifecycleEvent(ctx, h.appointment.ID, models.AppointmentActionCompleted, ""); err != nil {
		t.Fatalf("queue: %v", err)
	}
	recs := h.waitTerminal(t)

	email := findDispatch(recs, models.RecipientTypeCustomer, models.NotificationChannelEmail)
	if email.Status != models.DispatchStatusFailed || utils.DereferencePtr(email.Error, "") != "mailbox unavailable" {
		t.Fatalf("customer email: got %s %v", email.Status, email.Error)
	}
	sms := findDispatch(recs, models.RecipientTypeCustomer, models.NotificationChannelSms)
	if sms.Status != models.DispatchStatusFailed || utils.DereferencePtr(sms.Error, "") != "sms gateway timeout" {
		t.Fatalf("customer sms: got %s %v", sms.Status, sms.Error)
	}
	admin := findDispatch(recs, models.RecipientTypeAdmin, models.NotificationChannelEmail)
	if admin.Status != models.DispatchStatusSent {
		t.Fatalf("admin email should be unaffected, got %s", admin.Status)
	}

	attempts := 0
	for _, e := range h.sender.Emails() {
		if e.To == "ada@example.com" {
			attempts++
		}
	}
	if attempts != testRetry.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", testRetry.MaxAttempts, attempts)
	}
}

func TestHandleCompletionOutcomes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	newQueued := func(recipient string) *models.NotificationDispatch {
		rec := models.DispatchCandidate{
			Event:         models.NotificationEventReviewSubmitted,
			Channel:       models.NotificationChannelEmail,
			RecipientType: models.RecipientTypeAdmin,
			Recipient:     recipient,
			ReviewId:      utils.NewInt(1),
		}.NewDispatch(models.DispatchStatusQueued, nil)
		if err := h.repo.Create(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
		return rec
	}

	tests := []struct {
		name       string
		result     workpool.Result
		wantStatus models.DispatchStatus
		wantError  string
	}{
		{"success", workpool.Result{Kind: workpool.ResultSuccess}, models.DispatchStatusSent, ""},
		{"canceled", workpool.Result{Kind: workpool.ResultCanceled}, models.DispatchStatusCanceled, "Delivery canceled"},
		{"failed", workpool.Result{Kind: workpool.ResultFailed, Err: errors.New("X")}, models.DispatchStatusFailed, "X"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newQueued("admin" + string(rune('a'+i)) + "@studio.test")
			stale := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
			if err := h.db.Exec("UPDATE notification_dispatches SET updated_at = ? WHERE id = ?", stale, rec.ID).Error; err != nil {
				t.Fatalf("age record: %v", err)
			}
			before := time.Now().Truncate(time.Second)
			if err := h.engine.HandleCompletion(ctx, workpool.CompletionContext{DispatchId: rec.ID}, tt.result); err != nil {
				t.Fatalf("handle completion: %v", err)
			}
			got, _ := h.repo.Get(ctx, rec.ID)
			if got.Status != tt.wantStatus || utils.DereferencePtr(got.Error, "") != tt.wantError {
				t.Fatalf("got %s %q, want %s %q", got.Status, utils.DereferencePtr(got.Error, ""), tt.wantStatus, tt.wantError)
			}
			if got.UpdatedAt.Before(before) {
				t.Fatalf("updated_at = %s, want at or after %s", got.UpdatedAt, before)
			}

			// a repeated notification must not revisit the terminal state
			if err := h.engine.HandleCompletion(ctx, workpool.CompletionContext{DispatchId: rec.ID}, workpool.Result{Kind: workpool.ResultSuccess}); err != nil {
				t.Fatalf("repeat completion: %v", err)
			}
			again, _ := h.repo.Get(ctx, rec.ID)
			if again.Status != tt.wantStatus {
				t.Fatalf("terminal status changed from %s to %s", tt.wantStatus, again.Status)
			}
		})
	}

	if err := h.engine.HandleCompletion(ctx, workpool.CompletionContext{DispatchId: 999999}, workpool.Result{Kind: workpool.ResultSuccess}); err != nil {
		t.Fatalf("missing record should be ignored, got %v", err)
	}
}

func TestPreferenceGatingSkipsDisabledAdminEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addInvoice(t, true, "25")
	h.updateSettings(t, models.NotificationPreferences{
		AppointmentConfirmed: models.EventToggle{Email: utils.NewFalse()},
	})

	if _, err := h.engine.QueueAppointmentLifecycleEvent(ctx, h.appointment.ID, models.AppointmentActionConfirmed, ""); err != nil {
		t.Fatalf("queue: %v", err)
	}
	recs := h.waitTerminal(t)
	if findDispatch(recs, models.RecipientTypeAdmin, models.NotificationChannelEmail) != nil {
		t.Fatal("admin email is disabled for confirmations")
	}
	for _, want := range []struct {
		rt models.RecipientType
		ch models.NotificationChannel
	}{
		{models.RecipientTypeAdmin, models.NotificationChannelSms},
		{models.RecipientTypeCustomer, models.NotificationChannelEmail},
		{models.RecipientTypeCustomer, models.NotificationChannelSms},
	} {
		if findDispatch(recs, want.rt, want.ch) == nil {
			t.Fatalf("expected %s/%s dispatch", want.rt, want.ch)
		}
	}

	var confirmation bool
	for _, e := range h.sender.Emails() {
		if e.Template == "appointment_confirmation" && e.To == "ada@example.com" {
			confirmation = true
		}
	}
	if !confirmation {
		t.Fatal("expected customer confirmation email template")
	}
	for _, s := range h.sender.Sms() {
		if s.To == testPhone && !strings.HasSuffix(s.Body, "is confirmed. Deposit of 25.00 received.") {
			t.Fatalf("unexpected customer confirmation sms: %s", s.Body)
		}
	}
}

func TestCustomerPreferencesGateCustomerChannels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user.NotificationPreferences = models.NotificationPreferences{
		AppointmentCancelled: models.EventToggle{Sms: utils.NewFalse()},
	}
	if err := h.db.Save(h.user).Error; err != nil {
		t.Fatalf("save user: %v", err)
	}

	if _, err := h.engine.QueueAppointmentLifecycleEvent(ctx, h.appointment.ID, models.AppointmentActionCancelled, ""); err != nil {
		t.Fatalf("queue: %v", err)
	}
	recs := h.waitTerminal(t)
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if findDispatch(recs, models.RecipientTypeCustomer, models.NotificationChannelSms) != nil {
		t.Fatal("customer opted out of cancellation sms")
	}
}

func TestDepositGateSuppressesConfirmation(t *testing.T) {
	tests := []struct {
		name    string
		invoice bool
	}{
		{"unpaid invoice", true},
		{"no invoice", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.invoice {
				h.addInvoice(t, false, "25")
			}

			summary, err := h.engine.QueueAppointmentLifecycleEvent(context.Background(), h.appointment.ID, models.AppointmentActionConfirmed, "")
			if err != nil {
				t.Fatalf("queue: %v", err)
			}
			if summary.Suppressed != SuppressedDepositNotPaid {
				t.Fatalf("expected deposit suppression, got %+v", summary)
			}
			if recs := h.dispatches(t); len(recs) != 0 {
				t.Fatalf("expected zero dispatch records, got %d", len(recs))
			}
			if got := testutil.ToFloat64(h.metrics.suppressedTotal.WithLabelValues(string(models.NotificationEventAppointmentConfirmed), SuppressedDepositNotPaid)); got != 1 {
				t.Fatalf("expected suppression metric, got %v", got)
			}
		})
	}
}

func TestAdminOnlyEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	review := &models.Review{UserId: h.user.ID, Rating: 5, Comment: "Lovely"}
	if err := h.db.Create(review).Error; err != nil {
		t.Fatalf("seed review: %v", err)
	}

	if _, err := h.engine.QueueNewCustomerOnboarded(ctx, h.user.ID, ""); err != nil {
		t.Fatalf("queue onboarding: %v", err)
	}
	if _, err := h.engine.QueueReviewSubmitted(ctx, review.ID, ""); err != nil {
		t.Fatalf("queue review: %v", err)
	}
	recs := h.waitTerminal(t)
	if len(recs) != 4 {
		t.Fatalf("expected admin email+sms for both events, got %d", len(recs))
	}
	for _, r := range recs {
		if r.RecipientType != models.RecipientTypeAdmin {
			t.Fatalf("unexpected customer dispatch for %s", r.Event)
		}
		if r.Status != models.DispatchStatusSent {
			t.Fatalf("%s/%s not sent: %s %v", r.Event, r.Channel, r.Status, r.Error)
		}
	}

	bodies := map[string]bool{}
	for _, s := range h.sender.Sms() {
		bodies[s.Body] = true
	}
	for _, want := range []string{
		"Glow Studio: New customer Ada (ada@example.com) just signed up.",
		"Glow Studio: Ada left a 5-star review.",
	} {
		if !bodies[want] {
			t.Fatalf("missing sms %q in %v", want, bodies)
		}
	}
}

func TestMissingSubjectQueuesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.engine.QueueAppointmentLifecycleEvent(ctx, 404, models.AppointmentActionCancelled, "")
	if err != nil || s.Suppressed != SuppressedAppointmentNotFound {
		t.Fatalf("appointment: %+v, %v", s, err)
	}
	s, err = h.engine.QueueNewCustomerOnboarded(ctx, 404, "")
	if err != nil || s.Suppressed != SuppressedUserNotFound {
		t.Fatalf("user: %+v, %v", s, err)
	}
	s, err = h.engine.QueueReviewSubmitted(ctx, 404, "")
	if err != nil || s.Suppressed != SuppressedReviewNotFound {
		t.Fatalf("review: %+v, %v", s, err)
	}
	if len(h.dispatches(t)) != 0 {
		t.Fatal("expected no dispatch records")
	}
	if _, err := h.engine.QueueAppointmentLifecycleEvent(ctx, h.appointment.ID, models.AppointmentAction("exploded"), ""); err == nil {
		t.Fatal("expected invalid action to be rejected")
	}
}

func TestOfflineModeFailsOnEnqueueError(t *testing.T) {
	h := newHarness(t, withQueue(refusingQueue{err: errQueueDown}))

	if _, err := h.engine.QueueNewCustomerOnboarded(context.Background(), h.user.ID, ""); err != nil {
		t.Fatalf("queue: %v", err)
	}
	h.engine.Wait()
	recs := h.dispatches(t)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	for _, r := range recs {
		if r.Status != models.DispatchStatusFailed {
			t.Fatalf("expected failed, got %s", r.Status)
		}
		if got := utils.DereferencePtr(r.Error, ""); got != "queue unavailable: queue backend unreachable" {
			t.Fatalf("unexpected error %q", got)
		}
	}
	if len(h.sender.Emails())+len(h.sender.Sms()) != 0 {
		t.Fatal("offline mode must not deliver in the background")
	}
}

func TestFallbackDeliversOnceWhenQueueRefuses(t *testing.T) {
	h := newHarness(t, withQueue(refusingQueue{err: errQueueDown}), withOnlineMode())
	h.sender.Respond(func(channel models.NotificationChannel, to string) (models.DeliveryReport, error) {
		if channel == models.NotificationChannelSms {
			return models.DeliveryReport{}, errors.New("sms gateway timeout")
		}
		return models.DeliveryReport{}, nil
	})

	if _, err := h.engine.QueueNewCustomerOnboarded(context.Background(), h.user.ID, ""); err != nil {
		t.Fatalf("queue: %v", err)
	}
	h.engine.Wait()
	recs := h.dispatches(t)

	email := findDispatch(recs, models.RecipientTypeAdmin, models.NotificationChannelEmail)
	if email.Status != models.DispatchStatusSent || utils.DereferencePtr(email.Error, "") != models.DispatchErrorFallbackNote {
		t.Fatalf("email: got %s %v", email.Status, email.Error)
	}
	if email.WorkId != nil {
		t.Fatal("fallback records carry no work id")
	}
	sms := findDispatch(recs, models.RecipientTypeAdmin, models.NotificationChannelSms)
	if sms.Status != models.DispatchStatusFailed || utils.DereferencePtr(sms.Error, "") != "queue unavailable, used fallback: sms gateway timeout" {
		t.Fatalf("sms: got %s %v", sms.Status, sms.Error)
	}
	if n := len(h.sender.Sms()); n != 1 {
		t.Fatalf("fallback must not retry, got %d sms attempts", n)
	}
}

func TestFallbackRespectsParallelism(t *testing.T) {
	deliverer := newGatedDeliverer()
	h := newHarness(t,
		withQueue(refusingQueue{err: workpool.ErrQueueFull}),
		withOnlineMode(),
		withDeliverer(deliverer),
		withFallbackParallelism(2),
	)
	released := false
	release := func() {
		if !released {
			released = true
			close(deliverer.release)
		}
	}
	t.Cleanup(release)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if _, err := h.engine.QueueNewCustomerOnboarded(ctx, h.user.ID, fmt.Sprintf("burst-%d", i)); err != nil {
			t.Fatalf("queue %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if inFlight, _ := deliverer.counts(); inFlight == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("fallback deliveries never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if _, peak := deliverer.counts(); peak != 2 {
		t.Fatalf("expected at most 2 concurrent fallback deliveries, observed %d", peak)
	}

	release()
	h.engine.Wait()
	recs := h.dispatches(t)
	if len(recs) != 40 {
		t.Fatalf("expected 40 records, got %d", len(recs))
	}
	for _, r := range recs {
		if r.Status != models.DispatchStatusSent {
			t.Fatalf("dispatch %d: got %s %v", r.ID, r.Status, r.Error)
		}
	}
	if _, peak := deliverer.counts(); peak != 2 {
		t.Fatalf("peak concurrency grew to %d after release", peak)
	}
}

func TestRedisLockedQueueing(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locker := utils.NewKeyLocker(client, logrus.New(), "notification:dedupe:")

	h := newHarness(t, withLocker(locker))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := h.engine.QueueAppointmentLifecycleEvent(ctx, h.appointment.ID, models.AppointmentActionStarted, "t1"); err != nil {
			t.Fatalf("queue %d: %v", i, err)
		}
	}
	if recs := h.waitTerminal(t); len(recs) != 4 {
		t.Fatalf("expected 4 records, got %d", len(recs))
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected locks to be released, still held: %v", keys)
	}
}
