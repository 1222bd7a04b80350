package notification

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"wash-queue-backend/internal/model"
	"wash-queue-backend/internal/sched"
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

// WorkerPool delivers pre-start notifications to the target user's
// browser push subscriptions.
type WorkerPool struct {
	size    int
	jobs    chan sched.PreNotify
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan sched.PreNotify, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case ev := <-wp.jobs:
			wp.sendNotificationsForUser(ctx, ev)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Dispatch sends a job to the worker pool.
func (wp *WorkerPool) Dispatch(ev sched.PreNotify) {
	wp.jobs <- ev
}

// sendNotificationsForUser fetches the user's subscriptions and pushes
// the event to each of them.
func (wp *WorkerPool) sendNotificationsForUser(ctx context.Context, ev sched.PreNotify) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Where("user_id = ?", ev.UserID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for user %d: %v", ev.UserID, err)
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Error marshaling notification for user %d: %v", ev.UserID, err)
		return
	}

	log.Printf("Sending %d push notifications to user %d for machine %d", len(subscriptions), ev.UserID, ev.MachineID)
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
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
