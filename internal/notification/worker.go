package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"attendance-kiosk/internal/model"
	"attendance-kiosk/internal/retryqueue"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool tells operators about scans the retry queue gave up on.
type WorkerPool struct {
	size    int
	jobs    chan retryqueue.Abandoned
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	log     logrus.FieldLogger
}

// NewWorkerPool creates a new worker pool. With nil webpushOptions abandoned
// scans are only logged.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, log logrus.FieldLogger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan retryqueue.Abandoned, size*16),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log.WithField("component", "notification"),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log := wp.log.WithField("worker", id)
	log.Debug("worker started")
	for {
		select {
		case job := <-wp.jobs:
			wp.notify(ctx, job)
		case <-ctx.Done():
			log.Debug("worker shutting down")
			return
		}
	}
}

// Dispatch queues an abandoned scan for notification. It never blocks the
// caller: when the pool is saturated the event is logged and dropped.
func (wp *WorkerPool) Dispatch(a retryqueue.Abandoned) {
	select {
	case wp.jobs <- a:
	default:
		wp.log.WithField("tag", a.Operation.Tag).Warn("notification pool saturated, dropping abandoned scan alert")
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan retryqueue.Abandoned {
	return wp.jobs
}

// Message is the push payload sent for an abandoned scan.
func Message(a retryqueue.Abandoned) string {
	return fmt.Sprintf("Scan for tag %s could not be synced", a.Operation.Tag)
}

func (wp *WorkerPool) notify(ctx context.Context, a retryqueue.Abandoned) {
	log := wp.log.WithFields(logrus.Fields{
		"tag":          a.Operation.Tag,
		"operation_id": a.Operation.ID,
		"retry_count":  a.Operation.RetryCount,
	})
	if a.Err != nil {
		log = log.WithError(a.Err)
	}
	if wp.webpush == nil {
		log.Warn("scan abandoned, push notifications are not configured")
		return
	}

	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		log.WithError(err).Error("failed to fetch push subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		log.Warn("scan abandoned, no operator is subscribed")
		return
	}

	log.WithField("subscriptions", len(subscriptions)).Info("notifying operators of abandoned scan")
	payload := []byte(Message(a))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.WithError(err).WithField("endpoint", sub.Endpoint).Error("failed to send notification")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		wp.log.WithField("endpoint", sub.Endpoint).Info("subscription expired, deleting it")
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.log.WithError(err).WithField("endpoint", sub.Endpoint).Error("failed to delete expired subscription")
		}
	}
}
