package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aevon-lab/eventkernel/internal/contract"
	"github.com/aevon-lab/eventkernel/internal/core/event"
)

var (
	ErrAlreadyRegistered  = errors.New("event type already registered")
	ErrUnknownEventType   = errors.New("unknown event type")
	ErrUnsupportedVersion = errors.New("unsupported schema version")
)

// Constructor builds the typed payload of an event from its (upgraded) data.
type Constructor func(data map[string]interface{}) (interface{}, error)

// Upgrader turns a payload of version N into version N+1. It receives a copy
// and may mutate it.
type Upgrader func(data map[string]interface{}) (map[string]interface{}, error)

// Entry describes one event type.
type Entry struct {
	EventType string

	// Constructor is optional; Decode returns the raw payload without it.
	Constructor Constructor

	// SupportedVersions lists accepted schema versions. Empty means version 1 only.
	SupportedVersions []int

	// Upgraders is keyed by source version.
	Upgraders map[int]Upgrader

	// Contracts holds payload contracts by version, if any.
	Contracts map[int]*contract.Contract
}

// CurrentVersion is the highest supported version.
func (e Entry) CurrentVersion() int {
	current := 1
	for _, v := range e.SupportedVersions {
		if v > current {
			current = v
		}
	}
	return current
}

func (e Entry) Supports(version int) bool {
	if len(e.SupportedVersions) == 0 {
		return version == 1
	}
	for _, v := range e.SupportedVersions {
		if v == version {
			return true
		}
	}
	return false
}

// PayloadValidator checks a payload against a contract.
type PayloadValidator interface {
	ValidateData(ctx context.Context, c *contract.Contract, data map[string]interface{}) error
}

// Registry maps event types to their constructors, versions, upgraders and
// contracts. Entries are added once during startup.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	validator PayloadValidator
}

// New creates an empty registry. validator may be nil, in which case
// contracts are not enforced.
func New(validator PayloadValidator) *Registry {
	return &Registry{
		entries:   make(map[string]Entry),
		validator: validator,
	}
}

// Register adds an entry. Registering the same event type twice fails.
func (r *Registry) Register(entry Entry) error {
	if entry.EventType == "" {
		return fmt.Errorf("event type is required")
	}
	for v := range entry.Upgraders {
		if v < 1 {
			return fmt.Errorf("%s: upgrader source version must be >= 1, got %d", entry.EventType, v)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[entry.EventType]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, entry.EventType)
	}
	r.entries[entry.EventType] = entry
	return nil
}

// Get returns the constructor of an event type.
func (r *Registry) Get(eventType string) (Constructor, bool) {
	entry, ok := r.GetEntry(eventType)
	if !ok {
		return nil, false
	}
	return entry.Constructor, entry.Constructor != nil
}

func (r *Registry) GetEntry(eventType string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[eventType]
	return entry, ok
}

// CurrentVersion returns the highest supported version of an event type.
func (r *Registry) CurrentVersion(eventType string) (int, bool) {
	entry, ok := r.GetEntry(eventType)
	if !ok {
		return 0, false
	}
	return entry.CurrentVersion(), true
}

// EventTypes returns all registered types, sorted.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// UpgradeEventData walks the upgrader chain from fromVersion to toVersion.
// Steps without an upgrader pass the data through unchanged. The input map
// is never mutated.
func (r *Registry) UpgradeEventData(eventType string, data map[string]interface{}, fromVersion, toVersion int) (map[string]interface{}, error) {
	entry, ok := r.GetEntry(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	out := event.CopyData(data)
	for v := fromVersion; v < toVersion; v++ {
		upgrade, ok := entry.Upgraders[v]
		if !ok {
			continue
		}
		upgraded, err := upgrade(event.CopyData(out))
		if err != nil {
			return nil, fmt.Errorf("upgrade %s v%d->v%d: %w", eventType, v, v+1, err)
		}
		out = upgraded
	}
	return out, nil
}

// Upcast brings a stored event to the current schema version of its type.
func (r *Registry) Upcast(e event.StoredEvent) (event.StoredEvent, error) {
	entry, ok := r.GetEntry(e.EventType)
	if !ok {
		return e, fmt.Errorf("%w: %s", ErrUnknownEventType, e.EventType)
	}

	current := entry.CurrentVersion()
	if e.SchemaVersion >= current {
		return e, nil
	}

	data, err := r.UpgradeEventData(e.EventType, e.EventData, e.SchemaVersion, current)
	if err != nil {
		return e, err
	}

	slog.Debug("[Registry] Upcast event",
		"event_type", e.EventType,
		"event_id", e.ID,
		"from_version", e.SchemaVersion,
		"to_version", current)

	e.EventData = data
	e.SchemaVersion = current
	return e, nil
}

// Decode upcasts e and builds its typed payload. Without a constructor the
// upgraded payload map is returned.
func (r *Registry) Decode(e event.StoredEvent) (interface{}, error) {
	upcast, err := r.Upcast(e)
	if err != nil {
		return nil, err
	}
	entry, _ := r.GetEntry(e.EventType)
	if entry.Constructor == nil {
		return upcast.EventData, nil
	}
	payload, err := entry.Constructor(upcast.EventData)
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", e.EventType, err)
	}
	return payload, nil
}

// Validate checks that e's type is registered, its version is supported and
// its payload satisfies the contract for that version, when one exists.
func (r *Registry) Validate(ctx context.Context, e event.DomainEvent) error {
	entry, ok := r.GetEntry(e.EventType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, e.EventType)
	}
	if !entry.Supports(e.SchemaVersion) {
		return fmt.Errorf("%w: %s v%d", ErrUnsupportedVersion, e.EventType, e.SchemaVersion)
	}

	c := entry.Contracts[e.SchemaVersion]
	if c == nil || r.validator == nil {
		return nil
	}
	return r.validator.ValidateData(ctx, c, e.EventData)
}

// RegisterCatalog registers one entry per event type in the catalog.
// Declared upgrade steps of version N become the upgrader from N-1.
// constructors is optional and keyed by event type.
func (r *Registry) RegisterCatalog(catalog *contract.Catalog, constructors map[string]Constructor) error {
	for _, eventType := range catalog.EventTypes() {
		entry := Entry{
			EventType:   eventType,
			Constructor: constructors[eventType],
			Upgraders:   make(map[int]Upgrader),
			Contracts:   make(map[int]*contract.Contract),
		}
		for _, ct := range catalog.Versions(eventType) {
			entry.SupportedVersions = append(entry.SupportedVersions, ct.Version)
			entry.Contracts[ct.Version] = ct
			if len(ct.Upgrade) > 0 && ct.Version > 1 {
				steps := ct.Upgrade
				entry.Upgraders[ct.Version-1] = func(data map[string]interface{}) (map[string]interface{}, error) {
					return contract.ApplyUpgrade(steps, data), nil
				}
			}
		}
		if err := r.Register(entry); err != nil {
			return err
		}
		slog.Info("[Registry] Registered event type",
			"event_type", eventType,
			"versions", entry.SupportedVersions,
			"upgraders", len(entry.Upgraders))
	}
	return nil
}
