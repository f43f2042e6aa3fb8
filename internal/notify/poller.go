// Package notify polls the backend notification feed while the user
// has active subscriptions and surfaces bird sightings as transient
// notifications with an audible cue.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wingsight/wingsight-agent/internal/pkg/ctxlog"
)

// State is the poller lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Config contains poller configuration.
type Config struct {
	// Interval between feed polls.
	Interval time.Duration
	// DisplayWindow is how long a surfaced notification stays
	// visible. Independent of the poll interval.
	DisplayWindow time.Duration
}

// DefaultConfig returns default poller configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      6 * time.Second,
		DisplayWindow: 5 * time.Second,
	}
}

// FeedEvent is one pending sighting reported by the feed. The url is
// the audio clip to play for the sighting; its presence is what makes
// the response positive.
type FeedEvent struct {
	AudioURL string `json:"url"`
	Message  string `json:"message"`
}

// Feed fetches the pending notification. A nil event means nothing is
// waiting.
type Feed interface {
	Fetch(ctx context.Context) (*FeedEvent, error)
}

// SubscriptionSet reports how many streams are being tracked. Polling
// is suppressed while the set is empty.
type SubscriptionSet interface {
	Len() int
}

// Notification is a sighting currently visible to the user.
type Notification struct {
	ID         string    `json:"id"`
	AudioURL   string    `json:"audio_url"`
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}

// Poller drives the notification loop. Feed failures are logged and
// the loop continues; only Stop or context cancellation ends it.
type Poller struct {
	config Config
	feed   Feed
	subs   SubscriptionSet
	player Player

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	current   *Notification
	hideTimer *time.Timer
}

// NewPoller creates a stopped poller.
func NewPoller(config Config, feed Feed, subs SubscriptionSet, player Player) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.DisplayWindow <= 0 {
		config.DisplayWindow = DefaultConfig().DisplayWindow
	}
	return &Poller{
		config: config,
		feed:   feed,
		subs:   subs,
		player: player,
	}
}

// Start launches the poll loop. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})

	ctxlog.FromContext(ctx).Info("notification poller started",
		"interval", p.config.Interval,
		"display_window", p.config.DisplayWindow,
	)

	p.wg.Add(1)
	go p.run(ctx, p.stopCh)
}

// Stop ends the poll loop and waits for it to drain. A visible
// notification keeps its display timer; only polling stops.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return StateRunning
	}
	return StateStopped
}

// Current returns the visible notification, or nil when the display
// window has elapsed.
func (p *Poller) Current() *Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	n := *p.current
	return &n
}

func (p *Poller) run(ctx context.Context, stopCh <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if p.subs.Len() == 0 {
		recordPollTick("skipped_empty")
		return
	}

	event, err := p.feed.Fetch(ctx)
	if err != nil {
		ctxlog.FromContext(ctx).Error("notification feed poll failed", "error", err)
		recordPollTick("error")
		return
	}

	if event == nil || event.AudioURL == "" {
		recordPollTick("empty")
		return
	}

	recordPollTick("notification")
	p.display(ctx, event)
}

func (p *Poller) display(ctx context.Context, event *FeedEvent) {
	notification := &Notification{
		ID:         uuid.NewString(),
		AudioURL:   event.AudioURL,
		Message:    event.Message,
		ReceivedAt: time.Now(),
	}

	p.mu.Lock()
	if p.hideTimer != nil {
		p.hideTimer.Stop()
	}
	p.current = notification
	p.hideTimer = time.AfterFunc(p.config.DisplayWindow, func() {
		p.hide(notification.ID)
	})
	p.mu.Unlock()

	recordDisplayed()
	p.player.Play(notification.AudioURL)

	ctxlog.FromContext(ctx).Info("notification displayed",
		"notification_id", notification.ID,
		"audio_url", notification.AudioURL,
	)
}

// hide clears the visible notification unless a newer one has since
// replaced it.
func (p *Poller) hide(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.ID == id {
		p.current = nil
	}
}
