package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"socialzAPI/internal/notification"
)

type PushNotificationProvider interface {
	SendPush(ctx context.Context, tokens []notification.DeviceToken, title, body string, data map[string]any) error
}

// PushDispatcher drains milestone jobs through a small worker pool so streak
// updates never wait on FCM round trips.
type PushDispatcher struct {
	notifications *NotificationService
	pushProvider  PushNotificationProvider
	workers       int
	jobQueue      chan *MilestoneJob
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

type MilestoneJob struct {
	UserID       string
	StreakLength int
}

func NewPushDispatcher(notifications *NotificationService) *PushDispatcher {
	dispatcher := &PushDispatcher{
		notifications: notifications,
		workers:       3,
		jobQueue:      make(chan *MilestoneJob, 100),
		stopChan:      make(chan struct{}),
	}

	dispatcher.startWorkers()
	return dispatcher
}

// Allow injecting the real FCM provider from main.go
func (d *PushDispatcher) SetPushProvider(provider PushNotificationProvider) {
	d.pushProvider = provider
}

func (d *PushDispatcher) startWorkers() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *PushDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.jobQueue:
			d.processJob(job)
		case <-d.stopChan:
			return
		}
	}
}

// Enqueue queues a milestone push. Drops the job if the queue stays full,
// milestone pushes are best-effort.
func (d *PushDispatcher) Enqueue(job *MilestoneJob) {
	select {
	case d.jobQueue <- job:
	case <-time.After(5 * time.Second):
		log.Printf("Failed to queue milestone push for user %s: queue full", job.UserID)
	}
}

func (d *PushDispatcher) processJob(job *MilestoneJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if d.pushProvider == nil {
		log.Printf("Skipping milestone push for user %s: no provider set", job.UserID)
		return
	}

	tokens, err := d.notifications.GetDeviceTokens(ctx, job.UserID)
	if err != nil {
		log.Printf("Milestone push: failed to load device tokens for user %s: %v", job.UserID, err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	title, body := milestoneCopy(job.StreakLength)
	data := map[string]any{
		"type":   "streak_milestone",
		"streak": fmt.Sprintf("%d", job.StreakLength),
	}

	if err := d.pushProvider.SendPush(ctx, tokens, title, body, data); err != nil {
		log.Printf("Milestone push failed for user %s: %v", job.UserID, err)
	}
}

func milestoneCopy(streakLength int) (title, body string) {
	switch streakLength {
	case 7:
		return "One week strong 🔥", "7 days in a row. Keep the streak alive!"
	case 14:
		return "Two weeks! 🔥🔥", "14 straight days of showing up."
	case 30:
		return "30-day streak! 🏆", "A full month without missing a day."
	case 100:
		return "100 DAYS 💯", "Triple digits. You are unstoppable."
	case 365:
		return "One. Whole. Year. 👑", "365 consecutive days. Legendary."
	default:
		return fmt.Sprintf("%d-day streak! 🔥", streakLength),
			fmt.Sprintf("You've been active %d days in a row.", streakLength)
	}
}

// Stop the dispatcher gracefully
func (d *PushDispatcher) Stop() {
	close(d.stopChan)
	d.wg.Wait()
}

// MockPushProvider logs instead of sending. Used in tests.
type MockPushProvider struct{}

func (m *MockPushProvider) SendPush(ctx context.Context, tokens []notification.DeviceToken, title, body string, data map[string]any) error {
	log.Printf("MOCK PUSH: Sending to %d devices: %s - %s", len(tokens), title, body)
	return nil
}
