package yaml

import (
	"context"
	"fmt"

	"github.com/aevon-lab/eventkernel/internal/contract"
	"gopkg.in/yaml.v3"
)

// Compiler compiles YAML contract definitions.
type Compiler struct{}

func NewCompiler() *Compiler {
	return &Compiler{}
}

func (c *Compiler) Compile(ctx context.Context, ct *contract.Contract) (*contract.Compiled, error) {
	if ct.Format != contract.FormatYaml {
		return nil, fmt.Errorf("expected yaml format, got %s", ct.Format)
	}

	var spec Spec
	if err := yaml.Unmarshal(ct.Definition, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse YAML contract: %w", err)
	}

	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid YAML contract: %w", err)
	}

	if spec.Event != ct.EventType {
		return nil, fmt.Errorf("contract event type %q does not match %q", spec.Event, ct.EventType)
	}
	if spec.Version != ct.Version {
		return nil, fmt.Errorf("contract version %d does not match %d", spec.Version, ct.Version)
	}

	return &contract.Compiled{
		EventType:  ct.EventType,
		Version:    ct.Version,
		Format:     contract.FormatYaml,
		StrictMode: ct.StrictMode || spec.StrictMode,
		YAMLSpec:   &spec,
	}, nil
}
