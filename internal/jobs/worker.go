package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/store-scraper/internal/models"
	"golang.org/x/sync/errgroup"
)

// StartWorker runs to-do requests until ctx is cancelled. Pending requests
// left over from a previous run are resumed on start. New ones are picked up
// when Submit wakes the worker or on the next poll. At most MaxRequests run
// at once. On shutdown the worker stops taking requests and waits for the
// ones in flight, which run detached from ctx and are bounded by the request
// timeout.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started",
		"max_requests", m.opts.MaxRequests,
		"poll_interval", m.opts.PollInterval)

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	var g errgroup.Group
	slots := make(chan struct{}, m.opts.MaxRequests)
	runCtx := context.WithoutCancel(ctx)

	m.dispatch(ctx, runCtx, &g, slots)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("job worker stopping", "in_flight", m.inflightIDs())
			g.Wait()
			m.logger.Info("job worker stopped")
			return
		case <-ticker.C:
			m.dispatch(ctx, runCtx, &g, slots)
		case <-m.wake:
			m.dispatch(ctx, runCtx, &g, slots)
		}
	}
}

// dispatch starts pending requests while slots are free. One row more than
// can be started is loaded so that a longer queue is noticed and the next
// finished request wakes the worker again. A slot is released before the
// request is marked finished so the wake-up it triggers can reuse it.
func (m *Manager) dispatch(ctx, runCtx context.Context, g *errgroup.Group, slots chan struct{}) {
	limit := m.opts.MaxRequests + len(m.inflightIDs()) + 1
	pending, err := m.repo.PendingRequests(ctx, limit)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Error("failed to load pending requests", "error", err)
		}
		return
	}

	started := 0
	for _, req := range pending {
		if !m.claim(req.ID, slots) {
			continue
		}
		started++

		g.Go(func() error {
			progressed := true
			defer func() { m.finished(req.ID, progressed) }()
			defer func() { <-slots }()

			if err := m.Run(runCtx, req); err != nil {
				if errors.Is(err, models.ErrNoStores) {
					progressed = false
					m.logger.Warn("request waiting for a store catalog", "request_id", req.ID)
				} else {
					m.logger.Error("request failed", "request_id", req.ID, "error", err)
				}
			}
			return nil
		})
	}

	if len(pending) == limit {
		m.mu.Lock()
		m.backlog = true
		m.mu.Unlock()
		m.logger.Debug("pending requests exceed free slots", "started", started)
	}
}

// claim marks id in flight and takes a slot for it. It returns false when
// id is already running or no slot is free; in the latter case the next
// finished request wakes the worker.
func (m *Manager) claim(id uuid.UUID, slots chan struct{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.inflight[id]; ok {
		return false
	}
	select {
	case slots <- struct{}{}:
	default:
		m.backlog = true
		return false
	}
	m.inflight[id] = struct{}{}
	return true
}

// finished releases id and wakes the worker if requests were left waiting
// for a free slot. A request that made no progress leaves the backlog for the
// next poll or the next request that does finish.
func (m *Manager) finished(id uuid.UUID, progressed bool) {
	m.mu.Lock()
	delete(m.inflight, id)
	backlog := m.backlog && progressed
	if backlog {
		m.backlog = false
	}
	m.mu.Unlock()

	if backlog {
		m.notify()
	}
}
