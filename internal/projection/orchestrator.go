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
	"golang.org/x/sync/errgroup"
)

// DispatchMode selects how one event is fanned out to its projections.
type DispatchMode string

const (
	// DispatchSequential hands the event to each projection in registration order.
	DispatchSequential DispatchMode = "sequential"
	// DispatchParallel runs every projection concurrently and waits for all of them.
	DispatchParallel DispatchMode = "parallel"
)

type OrchestratorOptions struct {
	Mode DispatchMode
	// DispatchRetryCount is the number of dispatch attempts per projection (minimum 1).
	DispatchRetryCount int
	// DispatchRetryDelay is multiplied by the attempt number between attempts.
	DispatchRetryDelay time.Duration
	// RebuildOnStart makes StartRealtimeSync run RebuildAll before subscribing.
	RebuildOnStart bool
}

// Orchestrator owns the registered projections, routes live events to them
// and exposes the admin operations.
type Orchestrator struct {
	store storage.EventStore
	opts  OrchestratorOptions

	mu          sync.RWMutex
	projections map[string]*Projection
	order       []string

	subMu sync.Mutex
	sub   storage.Subscription

	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator builds an orchestrator. store supplies the live feed for
// StartRealtimeSync and may be nil when only DispatchEvent is used.
func NewOrchestrator(store storage.EventStore, opts OrchestratorOptions) *Orchestrator {
	if opts.Mode == "" {
		opts.Mode = DispatchSequential
	}
	if opts.DispatchRetryCount <= 0 {
		opts.DispatchRetryCount = 1
	}
	return &Orchestrator{
		store:       store,
		opts:        opts,
		projections: make(map[string]*Projection),
		sleep:       sleepCtx,
	}
}

// RegisterProjection adds p under its name. A second registration with the
// same name replaces the first.
func (o *Orchestrator) RegisterProjection(p *Projection) {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := p.Name()
	if _, exists := o.projections[name]; exists {
		slog.Warn("[Orchestrator] Projection re-registered, replacing previous instance", "projection", name)
	} else {
		o.order = append(o.order, name)
	}
	o.projections[name] = p
	slog.Info("[Orchestrator] Projection registered",
		"projection", name,
		"subscribed_events", p.SubscribedEvents())
}

func (o *Orchestrator) RegisterProjections(ps ...*Projection) {
	for _, p := range ps {
		o.RegisterProjection(p)
	}
}

// Projection looks up a registered projection by name.
func (o *Orchestrator) Projection(name string) (*Projection, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.projections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectionNotFound, name)
	}
	return p, nil
}

func (o *Orchestrator) registered() []*Projection {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Projection, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, o.projections[name])
	}
	return out
}

func (o *Orchestrator) targets(eventType string) []*Projection {
	var out []*Projection
	for _, p := range o.registered() {
		if p.Subscribes(eventType) {
			out = append(out, p)
		}
	}
	return out
}

// DispatchEvent delivers e to every projection subscribed to its type. Every
// target runs even when another one fails; failures come back joined.
func (o *Orchestrator) DispatchEvent(ctx context.Context, e event.StoredEvent) error {
	targets := o.targets(e.EventType)
	if len(targets) == 0 {
		return nil
	}

	if o.opts.Mode == DispatchParallel && len(targets) > 1 {
		return o.dispatchParallel(ctx, targets, e)
	}

	var errs []error
	for _, p := range targets {
		if err := o.dispatchTo(ctx, p, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) dispatchParallel(ctx context.Context, targets []*Projection, e event.StoredEvent) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, p := range targets {
		g.Go(func() error {
			// Errors are collected instead of returned so siblings keep running.
			if err := o.dispatchTo(ctx, p, e); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (o *Orchestrator) dispatchTo(ctx context.Context, p *Projection, e event.StoredEvent) error {
	var err error
	for attempt := 1; attempt <= o.opts.DispatchRetryCount; attempt++ {
		if err = p.Handle(ctx, e); err == nil {
			return nil
		}
		if errors.Is(err, ErrProjectionFailed) || attempt == o.opts.DispatchRetryCount {
			break
		}
		slog.Warn("[Orchestrator] Dispatch failed, retrying",
			"projection", p.Name(),
			"event_id", e.ID,
			"attempt", attempt,
			"error", err)
		if serr := o.sleep(ctx, o.opts.DispatchRetryDelay*time.Duration(attempt)); serr != nil {
			err = errors.Join(err, serr)
			break
		}
	}
	slog.Error("[Orchestrator] Dispatch failed",
		"projection", p.Name(),
		"event_type", e.EventType,
		"event_id", e.ID,
		"stream", e.Key().String(),
		"error", err)
	return err
}

// StartRealtimeSync subscribes to the store's live feed and dispatches every
// delivered event. With RebuildOnStart the projections are rebuilt once the
// subscription is live. It fails with storage.ErrSubscriptionUnsupported when the
// store has no feed.
func (o *Orchestrator) StartRealtimeSync(ctx context.Context) error {
	subscriber, ok := o.store.(storage.Subscriber)
	if !ok {
		return storage.ErrSubscriptionUnsupported
	}

	o.subMu.Lock()
	defer o.subMu.Unlock()
	if o.sub != nil {
		return nil
	}

	// Subscribe before rebuilding so nothing committed mid-rebuild is missed.
	// Deliveries the rebuild already folded are dropped by each projection.
	sub, err := subscriber.Subscribe(ctx, func(ctx context.Context, e event.StoredEvent) {
		// Failures are already logged per projection.
		_ = o.DispatchEvent(ctx, e)
	})
	if err != nil {
		return fmt.Errorf("start realtime sync: %w", err)
	}
	o.sub = sub

	if o.opts.RebuildOnStart {
		summary := o.RebuildAll(ctx)
		if len(summary.Failed) > 0 {
			slog.Warn("[Orchestrator] Some projections failed to rebuild", "failed", summary.Failed)
		}
	}
	slog.Info("[Orchestrator] Realtime sync started", "mode", o.opts.Mode)
	return nil
}

func (o *Orchestrator) StopRealtimeSync() error {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if o.sub == nil {
		return nil
	}
	err := o.sub.Close()
	o.sub = nil
	slog.Info("[Orchestrator] Realtime sync stopped")
	return err
}

// RebuildAll rebuilds every projection in registration order. A failure is
// recorded in the summary and does not stop the remaining rebuilds.
func (o *Orchestrator) RebuildAll(ctx context.Context) RebuildSummary {
	summary := RebuildSummary{Rebuilt: []string{}, Failed: map[string]string{}}
	for _, p := range o.registered() {
		if err := p.Rebuild(ctx); err != nil {
			summary.Failed[p.Name()] = err.Error()
			continue
		}
		summary.Rebuilt = append(summary.Rebuilt, p.Name())
	}
	slog.Info("[Orchestrator] Rebuild finished",
		"rebuilt", len(summary.Rebuilt),
		"failed", len(summary.Failed))
	return summary
}

// GetAllProjectionStatuses returns every status sorted by name.
func (o *Orchestrator) GetAllProjectionStatuses() []RuntimeStatus {
	ps := o.registered()
	out := make([]RuntimeStatus, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (o *Orchestrator) GetProjectionStatus(name string) (RuntimeStatus, error) {
	p, err := o.Projection(name)
	if err != nil {
		return RuntimeStatus{}, err
	}
	return p.Status(), nil
}

func (o *Orchestrator) PauseProjection(name string) error {
	p, err := o.Projection(name)
	if err != nil {
		return err
	}
	p.Pause()
	return nil
}

func (o *Orchestrator) ResumeProjection(name string) error {
	p, err := o.Projection(name)
	if err != nil {
		return err
	}
	p.Resume()
	return nil
}

func (o *Orchestrator) StopProjection(name string) error {
	p, err := o.Projection(name)
	if err != nil {
		return err
	}
	p.Stop()
	return nil
}

func (o *Orchestrator) RebuildProjection(ctx context.Context, name string) error {
	p, err := o.Projection(name)
	if err != nil {
		return err
	}
	return p.Rebuild(ctx)
}
