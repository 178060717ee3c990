package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fastprodman/typingpool/internal/notify"
)

// inflight counts background deliveries. add may run while a caller waits on
// drained.
type inflight struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)

	return ch
}()

func (f *inflight) add() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.n--
	if f.n == 0 {
		close(f.idle)
	}
}

// drained returns a channel closed once no delivery is running.
func (f *inflight) drained() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.n == 0 {
		return closedCh
	}

	return f.idle
}

// dispatch delivers win notifications in the background. Each winner is
// attempted independently; failures are logged and counted only. Payouts of
// zero are not announced.
func (s *Service) dispatch(log *slog.Logger, payouts []Payout) {
	if s.notifier == nil {
		return
	}

	due := make([]Payout, 0, len(payouts))
	for _, p := range payouts {
		if p.Amount.IsPositive() {
			due = append(due, p)
		}
	}

	if len(due) == 0 {
		return
	}

	s.inflight.add()

	go func() {
		defer s.inflight.done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
		defer cancel()

		failed := 0
		for _, p := range due {
			err := s.notifyOne(ctx, p)
			if err != nil {
				failed++
				s.metrics.NotificationFailures.Inc()
				log.Warn("win notification failed", "user_id", p.UserID, "error", err)

				continue
			}

			s.metrics.NotificationsSent.Inc()
		}

		log.Debug("settlement "+string(StateNotified), "delivered", len(due)-failed, "failed", failed)
	}()
}

func (s *Service) notifyOne(ctx context.Context, p Payout) (err error) {
	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrNotificationFailure, r)
		}
	}()

	err = s.notifier.Notify(ctx, p.UserID, notify.Payload{
		Endpoint: p.Endpoint,
		MatchID:  p.Message.MatchID,
		Title:    p.Message.Title,
		Body:     p.Message.Body,
		Amount:   p.Amount,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationFailure, err)
	}

	return nil
}

// Wait blocks until no background notification is running or ctx is done.
// Settlements committed while waiting extend the wait.
func (s *Service) Wait(ctx context.Context) error {
	select {
	case <-s.inflight.drained():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for notifications: %w", ctx.Err())
	}
}
