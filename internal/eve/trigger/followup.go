package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evebot/eve/internal/eve/chat"
)

// SendFunc delivers a scheduled reply to a channel.
type SendFunc func(ctx context.Context, channel string, reply chat.Reply) error

// Scheduler runs delayed follow-up replies (a timed second message after a
// trigger) without blocking the message handler. Each follow-up has its own
// timer goroutine; pending follow-ups for a channel can be cancelled when
// the conversation there ends, and Stop cancels everything on shutdown.
type Scheduler struct {
	mu      sync.Mutex
	send    SendFunc
	logger  *slog.Logger
	nextID  int
	pending map[int]*pendingFollowUp
	stopped bool
}

type pendingFollowUp struct {
	channel string
	timer   *time.Timer
}

// sendTimeout bounds the delivery of a fired follow-up.
const sendTimeout = 10 * time.Second

// NewScheduler creates a Scheduler delivering through send.
// If logger is nil, the default slog logger is used.
func NewScheduler(send SendFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		send:    send,
		logger:  logger,
		pending: make(map[int]*pendingFollowUp),
	}
}

// Schedule queues reply for delivery to channel after delay. It returns
// immediately; delivery happens on the timer's goroutine.
func (s *Scheduler) Schedule(channel string, delay time.Duration, reply chat.Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	id := s.nextID
	s.nextID++

	p := &pendingFollowUp{channel: channel}
	p.timer = time.AfterFunc(delay, func() { s.fire(id, channel, reply) })
	s.pending[id] = p
}

func (s *Scheduler) fire(id int, channel string, reply chat.Reply) {
	s.mu.Lock()
	if _, ok := s.pending[id]; !ok {
		// Cancelled between firing and acquiring the lock.
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := s.send(ctx, channel, reply); err != nil {
		s.logger.Warn("trigger: deliver follow-up", "channel", channel, "err", err)
	}
}

// Cancel drops all pending follow-ups for the given channel.
func (s *Scheduler) Cancel(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pending {
		if p.channel == channel {
			p.timer.Stop()
			delete(s.pending, id)
		}
	}
}

// Stop cancels every pending follow-up and rejects new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
}
