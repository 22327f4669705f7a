package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Format is the language a contract definition is written in.
type Format string

const (
	FormatProtobuf Format = "protobuf"
	FormatYaml     Format = "yaml"
)

// Contract describes the payload shape of one (event type, schema version).
type Contract struct {
	// EventType is the event the contract applies to (e.g. "UserRegistered").
	EventType string `json:"event_type"`

	// Version is the payload schema version (1, 2, 3...).
	Version int `json:"version"`

	Format Format `json:"format"`

	// Definition is the raw contract source.
	Definition []byte `json:"definition"`

	// Fingerprint is the SHA-256 of Definition; compiled forms are cached by it.
	Fingerprint string `json:"fingerprint"`

	// StrictMode rejects payload fields the contract does not declare.
	StrictMode bool `json:"strict_mode"`

	// Upgrade lists the steps turning a Version-1 payload into this version.
	// Only YAML contracts can declare them.
	Upgrade []UpgradeStep `json:"upgrade,omitempty"`
}

// New builds a contract and computes its fingerprint.
func New(eventType string, version int, format Format, definition []byte) *Contract {
	return &Contract{
		EventType:   eventType,
		Version:     version,
		Format:      format,
		Definition:  definition,
		Fingerprint: ComputeFingerprint(definition),
		StrictMode:  true,
	}
}

// ComputeFingerprint calculates SHA-256 hash of the definition.
func ComputeFingerprint(definition []byte) string {
	hash := sha256.Sum256(definition)
	return hex.EncodeToString(hash[:])
}

// Key uniquely identifies a contract.
type Key struct {
	EventType string
	Version   int
}

func (c *Contract) Key() Key {
	return Key{EventType: c.EventType, Version: c.Version}
}

func (k Key) String() string {
	return fmt.Sprintf("%s@v%d", k.EventType, k.Version)
}

// Compiled is a contract ready for validation. Exactly one of ProtoDescriptor
// or YAMLSpec is set, selected by Format.
type Compiled struct {
	EventType  string
	Version    int
	Format     Format
	StrictMode bool

	ProtoDescriptor protoreflect.MessageDescriptor
	YAMLSpec        interface{}
}

// GetProtoDescriptor returns the message descriptor of a protobuf contract.
func (c *Compiled) GetProtoDescriptor() (protoreflect.MessageDescriptor, error) {
	if c.Format != FormatProtobuf || c.ProtoDescriptor == nil {
		return nil, fmt.Errorf("not a protobuf contract (format: %s)", c.Format)
	}
	return c.ProtoDescriptor, nil
}

// GetYAMLSpec returns the spec of a YAML contract; callers type-assert it to *yaml.Spec.
func (c *Compiled) GetYAMLSpec() (interface{}, error) {
	if c.Format != FormatYaml || c.YAMLSpec == nil {
		return nil, fmt.Errorf("not a YAML contract (format: %s)", c.Format)
	}
	return c.YAMLSpec, nil
}
