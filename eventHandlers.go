package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/notification_backend/config"
	"bitbucket.org/mmdatafocus/notification_backend/models"
	"bitbucket.org/mmdatafocus/notification_backend/utils"
	"bitbucket.org/mmdatafocus/notification_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// EventQueuer is what the HTTP surface needs from the notification engine.
type EventQueuer interface {
	QueueNewCustomerOnboarded(ctx context.Context, userId int, transition string) (workflow.QueueSummary, error)
	QueueAppointmentLifecycleEvent(ctx context.Context, appointmentId int, action models.AppointmentAction, transition string) (workflow.QueueSummary, error)
	QueueReviewSubmitted(ctx context.Context, reviewId int, transition string) (workflow.QueueSummary, error)
	GetDispatch(ctx context.Context, id int) (*models.NotificationDispatch, error)
}

type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type newCustomerOnboardedRequest struct {
	UserId     int    `json:"user_id" binding:"required,gt=0"`
	Transition string `json:"transition" binding:"max=100"`
}

type appointmentLifecycleRequest struct {
	AppointmentId int    `json:"appointment_id" binding:"required,gt=0"`
	Action        string `json:"action" binding:"required,oneof=confirmed cancelled rescheduled started completed"`
	Transition    string `json:"transition" binding:"max=100"`
}

type reviewSubmittedRequest struct {
	ReviewId   int    `json:"review_id" binding:"required,gt=0"`
	Transition string `json:"transition" binding:"max=100"`
}

var errMalformedEvent = errors.New("malformed notification event")

func newCustomerOnboardedHandler(q EventQueuer, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req newCustomerOnboardedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		summary, err := q.QueueNewCustomerOnboarded(c.Request.Context(), req.UserId, req.Transition)
		respondQueued(c, logger, "newCustomerOnboardedHandler", req, summary, err)
	}
}

func appointmentLifecycleHandler(q EventQueuer, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req appointmentLifecycleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		action, err := models.ParseAppointmentAction(req.Action)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": map[string]string{"Action": err.Error()}})
			return
		}
		summary, err := q.QueueAppointmentLifecycleEvent(c.Request.Context(), req.AppointmentId, action, req.Transition)
		respondQueued(c, logger, "appointmentLifecycleHandler", req, summary, err)
	}
}

func reviewSubmittedHandler(q EventQueuer, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reviewSubmittedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		summary, err := q.QueueReviewSubmitted(c.Request.Context(), req.ReviewId, req.Transition)
		respondQueued(c, logger, "reviewSubmittedHandler", req, summary, err)
	}
}

// respondQueued answers 202 once the event has been turned into dispatch records.
// Delivery happens afterwards and never changes the response.
func respondQueued(c *gin.Context, logger *logrus.Logger, funcName string, req any, summary workflow.QueueSummary, err error) {
	if err != nil {
		config.LogError(logger, "eventHandlers.go", funcName, "queue notification event", req, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue notifications"})
		return
	}
	c.JSON(http.StatusAccepted, summary)
}

// notificationEventPubSubHandler handles Pub/Sub push deliveries of NotificationEventMessage.
// Malformed payloads are acked (204) so Pub/Sub does not redeliver them forever;
// processing errors return 500 so the message is retried.
func notificationEventPubSubHandler(q EventQueuer, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "eventHandlers.go", "notificationEventPubSubHandler", "read body", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		var m PubSubMessage
		if err := json.Unmarshal(body, &m); err != nil {
			config.LogError(logger, "eventHandlers.go", "notificationEventPubSubHandler", "unmarshal envelope", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		var msg config.NotificationEventMessage
		if err := json.Unmarshal(m.Message.Data, &msg); err != nil {
			config.LogError(logger, "eventHandlers.go", "notificationEventPubSubHandler", "unmarshal event", m.Message.ID, err)
			c.Status(http.StatusNoContent)
			return
		}

		ctx := c.Request.Context()
		cid := msg.CorrelationId
		if cid == "" {
			cid = m.Message.ID
		}
		if cid != "" {
			ctx = utils.SetCorrelationIdInContext(ctx, cid)
		}

		summary, err := queueEventMessage(ctx, q, msg)
		if errors.Is(err, errMalformedEvent) {
			config.LogError(logger, "eventHandlers.go", "notificationEventPubSubHandler", "validate event", msg, err)
			c.Status(http.StatusNoContent)
			return
		}
		if err != nil {
			config.LogError(logger, "eventHandlers.go", "notificationEventPubSubHandler", "queue notification event", msg, err)
			c.Status(http.StatusInternalServerError)
			return
		}

		logger.WithFields(logrus.Fields{
			"field":          "pubsub",
			"message_id":     m.Message.ID,
			"event":          summary.Event,
			"correlation_id": summary.CorrelationId,
			"dispatches":     len(summary.Results),
			"suppressed":     summary.Suppressed,
		}).Info("notification event processed")
		c.Status(http.StatusNoContent)
	}
}

// queueEventMessage routes one decoded event to the matching engine operation.
func queueEventMessage(ctx context.Context, q EventQueuer, msg config.NotificationEventMessage) (workflow.QueueSummary, error) {
	if err := utils.ValidateStruct(msg); err != nil {
		return workflow.QueueSummary{}, fmt.Errorf("%w: %v", errMalformedEvent, utils.ProcessValidationErrors(err))
	}
	event, err := models.ParseNotificationEvent(msg.Event)
	if err != nil {
		return workflow.QueueSummary{}, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}

	switch event {
	case models.NotificationEventNewCustomerOnboarded:
		if msg.UserId <= 0 {
			return workflow.QueueSummary{}, fmt.Errorf("%w: user_id is required for %s", errMalformedEvent, event)
		}
		return q.QueueNewCustomerOnboarded(ctx, msg.UserId, msg.Transition)
	case models.NotificationEventReviewSubmitted:
		if msg.ReviewId <= 0 {
			return workflow.QueueSummary{}, fmt.Errorf("%w: review_id is required for %s", errMalformedEvent, event)
		}
		return q.QueueReviewSubmitted(ctx, msg.ReviewId, msg.Transition)
	}

	action, ok := event.AppointmentAction()
	if !ok {
		return workflow.QueueSummary{}, fmt.Errorf("%w: unsupported event %s", errMalformedEvent, event)
	}
	if msg.AppointmentId <= 0 {
		return workflow.QueueSummary{}, fmt.Errorf("%w: appointment_id is required for %s", errMalformedEvent, event)
	}
	return q.QueueAppointmentLifecycleEvent(ctx, msg.AppointmentId, action, msg.Transition)
}

func getDispatchHandler(q EventQueuer, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dispatch id"})
			return
		}
		rec, err := q.GetDispatch(c.Request.Context(), id)
		if err != nil {
			config.LogError(logger, "eventHandlers.go", "getDispatchHandler", "load dispatch", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dispatch"})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "dispatch not found"})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}
