package contract

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// FormatCompiler turns a contract definition into its runtime form.
type FormatCompiler interface {
	Compile(ctx context.Context, c *Contract) (*Compiled, error)
}

// FormatValidator checks payloads against a compiled contract.
type FormatValidator interface {
	ValidateData(ctx context.Context, compiled *Compiled, data map[string]interface{}) error
}

// FormatRegistry holds the compiler and validator for each supported format.
// Format packages import this one, so registration happens in the startup routine.
type FormatRegistry struct {
	mu         sync.RWMutex
	compilers  map[Format]FormatCompiler
	validators map[Format]FormatValidator
}

func NewFormatRegistry() *FormatRegistry {
	return &FormatRegistry{
		compilers:  make(map[Format]FormatCompiler),
		validators: make(map[Format]FormatValidator),
	}
}

func (r *FormatRegistry) RegisterFormat(format Format, compiler FormatCompiler, validator FormatValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.compilers[format] = compiler
	r.validators[format] = validator
}

func (r *FormatRegistry) GetCompiler(format Format) (FormatCompiler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	compiler, exists := r.compilers[format]
	if !exists {
		return nil, fmt.Errorf("unsupported contract format: %s", format)
	}
	return compiler, nil
}

func (r *FormatRegistry) GetValidator(format Format) (FormatValidator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	validator, exists := r.validators[format]
	if !exists {
		return nil, fmt.Errorf("unsupported contract format: %s", format)
	}
	return validator, nil
}

// SupportedFormats returns the registered formats in name order.
func (r *FormatRegistry) SupportedFormats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()

	formats := make([]Format, 0, len(r.compilers))
	for format := range r.compilers {
		formats = append(formats, format)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })
	return formats
}
