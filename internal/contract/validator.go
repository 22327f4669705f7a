package contract

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Validator checks payloads against contracts, compiling each contract once.
type Validator struct {
	formats *FormatRegistry

	mu           sync.RWMutex
	compiled     map[string]*Compiled
	compileGroup singleflight.Group
}

func NewValidator(formats *FormatRegistry) *Validator {
	return &Validator{
		formats:  formats,
		compiled: make(map[string]*Compiled),
	}
}

// cacheKey includes the fingerprint so an edited definition never hits a stale entry.
func cacheKey(c *Contract) string {
	return fmt.Sprintf("%s:%d:%s:%s", c.EventType, c.Version, c.Format, c.Fingerprint)
}

// ValidateData validates data against c.
func (v *Validator) ValidateData(ctx context.Context, c *Contract, data map[string]interface{}) error {
	compiled, err := v.Compile(ctx, c)
	if err != nil {
		return err
	}

	validator, err := v.formats.GetValidator(c.Format)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return validator.ValidateData(ctx, compiled, data)
}

// Compile returns the cached compiled form of c, compiling it on first use.
// Concurrent callers for the same contract share one compilation.
func (v *Validator) Compile(ctx context.Context, c *Contract) (*Compiled, error) {
	key := cacheKey(c)

	v.mu.RLock()
	if compiled, ok := v.compiled[key]; ok {
		v.mu.RUnlock()
		return compiled, nil
	}
	v.mu.RUnlock()

	result, err, _ := v.compileGroup.Do(key, func() (interface{}, error) {
		v.mu.RLock()
		if compiled, ok := v.compiled[key]; ok {
			v.mu.RUnlock()
			return compiled, nil
		}
		v.mu.RUnlock()

		compiler, err := v.formats.GetCompiler(c.Format)
		if err != nil {
			return nil, fmt.Errorf("compilation failed: %w", err)
		}

		compiled, err := compiler.Compile(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", c.Key(), err)
		}

		v.mu.Lock()
		v.compiled[key] = compiled
		v.mu.Unlock()

		return compiled, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*Compiled), nil
}

// Invalidate drops the compiled form of c.
func (v *Validator) Invalidate(c *Contract) {
	v.mu.Lock()
	delete(v.compiled, cacheKey(c))
	v.mu.Unlock()
}
