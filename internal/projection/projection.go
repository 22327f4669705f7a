package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/aevon-lab/eventkernel/internal/core/storage"
	"github.com/aevon-lab/eventkernel/internal/registry"
)

var nowFn = func() time.Time { return time.Now().UTC() }

// Projection runs a Handler under the lifecycle state machine:
// NOT_INITIALIZED -> INITIALIZING -> RUNNING <-> PAUSED, RUNNING/PAUSED -> STOPPED,
// and RUNNING/INITIALIZING -> ERROR once failures accumulate. Only Rebuild
// leaves STOPPED or ERROR.
type Projection struct {
	handler    Handler
	source     storage.EventStreamer
	opts       Options
	subscribed map[string]struct{}

	// handleMu serialises handler calls so one projection sees its events in order.
	handleMu sync.Mutex
	// rebuiltThrough holds, per stream, the last version folded by Rebuild.
	// Live deliveries at or below it are duplicates. Guarded by handleMu.
	rebuiltThrough map[string]int64

	mu     sync.RWMutex
	status RuntimeStatus

	sleep func(ctx context.Context, d time.Duration) error
}

// New wraps handler. source may be nil, in which case Rebuild fails with ErrNoEventSource.
func New(handler Handler, source storage.EventStreamer, opts Options) *Projection {
	subscribed := make(map[string]struct{}, len(handler.SubscribedEvents()))
	for _, t := range handler.SubscribedEvents() {
		subscribed[t] = struct{}{}
	}
	now := nowFn()
	return &Projection{
		handler:    handler,
		source:     source,
		opts:       opts.withDefaults(),
		subscribed: subscribed,
		status: RuntimeStatus{
			Name:      handler.Name(),
			Status:    StatusNotInitialized,
			CreatedAt: now,
			UpdatedAt: now,
		},
		sleep: sleepCtx,
	}
}

func (p *Projection) Name() string {
	return p.handler.Name()
}

// SubscribedEvents returns the handled event types, sorted.
func (p *Projection) SubscribedEvents() []string {
	out := make([]string, 0, len(p.subscribed))
	for t := range p.subscribed {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (p *Projection) Subscribes(eventType string) bool {
	_, ok := p.subscribed[eventType]
	return ok
}

// Status returns a copy of the runtime report.
func (p *Projection) Status() RuntimeStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.status
	if s.LastProcessedAt != nil {
		t := *s.LastProcessedAt
		s.LastProcessedAt = &t
	}
	if s.LastErrorAt != nil {
		t := *s.LastErrorAt
		s.LastErrorAt = &t
	}
	return s
}

func (p *Projection) State() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status.Status
}

// Handle applies one live event. Unsubscribed events, events the last Rebuild
// already folded, and events arriving while PAUSED or STOPPED are ignored. After MaxRetries failed attempts the error is
// returned; the projection only flips to ERROR once the cumulative error count
// reaches MaxRetries*3.
func (p *Projection) Handle(ctx context.Context, e event.StoredEvent) error {
	if !p.Subscribes(e.EventType) {
		return nil
	}

	p.handleMu.Lock()
	defer p.handleMu.Unlock()

	key := e.Key().String()
	if through, ok := p.rebuiltThrough[key]; ok {
		if e.Version <= through {
			return nil
		}
		delete(p.rebuiltThrough, key)
	}

	p.mu.Lock()
	switch p.status.Status {
	case StatusPaused, StatusStopped:
		p.mu.Unlock()
		return nil
	case StatusError:
		p.mu.Unlock()
		return fmt.Errorf("projection %s: %w", p.Name(), ErrProjectionFailed)
	}
	p.status.Status = StatusRunning
	p.status.UpdatedAt = nowFn()
	p.mu.Unlock()

	e, skip, err := p.upcast(e)
	if skip {
		return nil
	}
	if err == nil {
		err = p.handleWithRetry(ctx, e)
	}
	if err != nil {
		p.recordFailure(err)
		return fmt.Errorf("projection %s: handle %s v%d of %s: %w", p.Name(), e.EventType, e.Version, e.Key(), err)
	}

	p.recordSuccess(e)
	return nil
}

func (p *Projection) handleWithRetry(ctx context.Context, e event.StoredEvent) error {
	var err error
	for attempt := 1; attempt <= p.opts.MaxRetries; attempt++ {
		if err = p.handler.HandleEvent(ctx, e); err == nil {
			return nil
		}
		slog.Debug("[Projection] Handler attempt failed",
			"projection", p.Name(),
			"event_id", e.ID,
			"attempt", attempt,
			"error", err)
		if attempt == p.opts.MaxRetries {
			break
		}
		if serr := p.sleep(ctx, p.opts.RetryDelay*time.Duration(attempt)); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return err
}

// upcast returns skip=true for event types the registry does not know.
func (p *Projection) upcast(e event.StoredEvent) (event.StoredEvent, bool, error) {
	if p.opts.Upcaster == nil {
		return e, false, nil
	}
	up, err := p.opts.Upcaster.Upcast(e)
	if errors.Is(err, registry.ErrUnknownEventType) {
		slog.Warn("[Projection] Skipping unknown event type",
			"projection", p.Name(),
			"event_type", e.EventType,
			"event_id", e.ID)
		return e, true, nil
	}
	if err != nil {
		return e, false, fmt.Errorf("upcast: %w", err)
	}
	return up, false, nil
}

func (p *Projection) recordSuccess(e event.StoredEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := nowFn()
	p.status.ProcessedEventCount++
	p.status.LastProcessedEventID = e.ID
	p.status.LastProcessedEventVersion = e.Version
	p.status.LastProcessedAt = &now
	p.status.UpdatedAt = now
}

func (p *Projection) recordFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := nowFn()
	p.status.ErrorCount++
	p.status.LastError = err.Error()
	p.status.LastErrorAt = &now
	p.status.UpdatedAt = now

	threshold := int64(p.opts.MaxRetries * 3)
	if p.status.ErrorCount >= threshold && p.status.Status != StatusError {
		p.status.Status = StatusError
		slog.Error("[Projection] Error threshold reached",
			"projection", p.status.Name,
			"error_count", p.status.ErrorCount,
			"error", err)
	}
}

func (p *Projection) setStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Status = s
	p.status.UpdatedAt = nowFn()
}

// Rebuild clears the read model and folds every subscribed event in the log.
// There is no per-event retry; any failure leaves the projection in ERROR.
func (p *Projection) Rebuild(ctx context.Context) error {
	if p.source == nil {
		return fmt.Errorf("projection %s: %w", p.Name(), ErrNoEventSource)
	}

	p.handleMu.Lock()
	defer p.handleMu.Unlock()
	p.rebuiltThrough = make(map[string]int64)

	p.mu.Lock()
	now := nowFn()
	p.status = RuntimeStatus{
		Name:      p.status.Name,
		Status:    StatusInitializing,
		CreatedAt: p.status.CreatedAt,
		UpdatedAt: now,
	}
	p.mu.Unlock()

	slog.Info("[Projection] Rebuild started", "projection", p.Name())
	started := time.Now()

	if err := p.handler.ClearReadModels(ctx); err != nil {
		return p.failRebuild(fmt.Errorf("clear read models: %w", err))
	}

	types := p.SubscribedEvents()
	if len(types) > 0 {
		cursor := p.source.StreamAllEvents(event.Filter{EventTypes: types}, event.ReadOptions{BatchSize: p.opts.RebuildBatchSize})
		err := cursor.ForEach(ctx, func(e event.StoredEvent) error {
			if key := e.Key().String(); e.Version > p.rebuiltThrough[key] {
				p.rebuiltThrough[key] = e.Version
			}
			e, skip, err := p.upcast(e)
			if skip {
				return nil
			}
			if err != nil {
				return err
			}
			if err := p.handler.HandleEvent(ctx, e); err != nil {
				return fmt.Errorf("handle %s v%d of %s: %w", e.EventType, e.Version, e.Key(), err)
			}
			p.recordSuccess(e)
			return nil
		})
		if err != nil {
			return p.failRebuild(err)
		}
	}

	p.setStatus(StatusRunning)
	status := p.Status()
	slog.Info("[Projection] Rebuild complete",
		"projection", p.Name(),
		"processed", status.ProcessedEventCount,
		"duration", time.Since(started))
	return nil
}

func (p *Projection) failRebuild(err error) error {
	p.mu.Lock()
	now := nowFn()
	p.status.Status = StatusError
	p.status.ErrorCount++
	p.status.LastError = err.Error()
	p.status.LastErrorAt = &now
	p.status.UpdatedAt = now
	p.mu.Unlock()

	slog.Error("[Projection] Rebuild failed", "projection", p.Name(), "error", err)
	return fmt.Errorf("projection %s: rebuild: %w", p.Name(), err)
}

// Pause stops event handling until Resume. It has no effect once STOPPED or in ERROR.
func (p *Projection) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.status.Status {
	case StatusStopped, StatusError, StatusPaused:
		return
	}
	p.status.Status = StatusPaused
	p.status.UpdatedAt = nowFn()
	slog.Info("[Projection] Paused", "projection", p.status.Name)
}

// Resume only has effect from PAUSED.
func (p *Projection) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.Status != StatusPaused {
		return
	}
	p.status.Status = StatusRunning
	p.status.UpdatedAt = nowFn()
	slog.Info("[Projection] Resumed", "projection", p.status.Name)
}

// Stop ends event handling. A stopped projection is restarted only by Rebuild.
func (p *Projection) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.status.Status {
	case StatusStopped, StatusError:
		return
	}
	p.status.Status = StatusStopped
	p.status.UpdatedAt = nowFn()
	slog.Info("[Projection] Stopped", "projection", p.status.Name)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
