// Package playbook parses and validates the declarative YAML documents that
// describe a workflow DAG: inputs, keychain entries, and steps with
// conditional transitions.
package playbook

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Sentinel errors matching the InvalidPlaybook / MissingPath taxonomy.
// Wrapped with more context via fmt.Errorf("...: %w", ...).
var (
	ErrInvalidPlaybook = errors.New("playbook: invalid playbook")
	ErrMissingPath      = errors.New("playbook: missing metadata.path")
	ErrMissingStart     = errors.New("playbook: no start step")
	ErrCycle            = errors.New("playbook: workflow contains a cycle")
)

// Actionable step types. A step of one of these types is dispatched to a
// worker; anything else (start, end, route, or an empty type) is
// control-flow only.
var actionableTypes = map[string]bool{
	"http":      true,
	"python":    true,
	"duckdb":    true,
	"postgres":  true,
	"snowflake": true,
	"secrets":   true,
	"workbook":  true,
	"playbook":  true,
	"save":      true,
	"iterator":  true,
}

// Metadata holds the playbook's identifying fields.
type Metadata struct {
	Path string `yaml:"path"`
	Name string `yaml:"name"`
}

// Transition is one entry in a step's `next:` list.
type Transition struct {
	Step    string                 `yaml:"step"`
	When    string                 `yaml:"when,omitempty"`
	With    map[string]interface{} `yaml:"with,omitempty"`
	Payload map[string]interface{} `yaml:"payload,omitempty"`
	Input   map[string]interface{} `yaml:"input,omitempty"`
	Data    map[string]interface{} `yaml:"data,omitempty"`
}

// Step is one node of the workflow DAG. Only the fields every caller needs
// to route on (Name, Next, Type) are promoted to named fields; every other
// allowlisted attribute (code, url, collection, retry, ...) lives in Fields
// and is picked apart by internal/transition when materializing a task.
type Step struct {
	Name   string
	Next   []Transition
	Fields map[string]interface{}
}

// Type returns the step's `type:` field, or "" for control steps.
func (s Step) Type() string {
	t, _ := s.Fields["type"].(string)
	return t
}

// Field returns a raw field value by key, and whether it was present.
func (s Step) Field(key string) (interface{}, bool) {
	v, ok := s.Fields[key]
	return v, ok
}

// IsActionable reports whether a step is worker-dispatchable. Python steps
// additionally require a non-empty `code:` field.
func (s Step) IsActionable() bool {
	t := s.Type()
	if !actionableTypes[t] {
		return false
	}
	if t == "python" {
		code, _ := s.Fields["code"].(string)
		return code != ""
	}
	return true
}

// UnmarshalYAML implements custom decoding so unknown/allowlisted step
// fields land in Fields rather than requiring a field for every attribute
// a step type might carry.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	raw := map[string]interface{}{}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	name, _ := raw["step"].(string)
	if name == "" {
		return fmt.Errorf("%w: workflow step missing required 'step' key", ErrInvalidPlaybook)
	}
	delete(raw, "step")

	var next []Transition
	if rawNext, ok := raw["next"]; ok {
		var node yaml.Node
		b, err := yaml.Marshal(rawNext)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(b, &node); err != nil {
			return err
		}
		if err := node.Decode(&next); err != nil {
			return fmt.Errorf("%w: step %q has an invalid 'next' list: %v", ErrInvalidPlaybook, name, err)
		}
		delete(raw, "next")
	}

	s.Name = name
	s.Next = next
	s.Fields = raw
	return nil
}

// KeychainEntry is one credential resolution request from the `keychain:`
// block. Kind-specific fields (token, endpoint, map, auth, key, ref, ...)
// live in Fields, resolved by internal/keychain.
type KeychainEntry struct {
	Name   string
	Kind   string
	Fields map[string]interface{}
}

// UnmarshalYAML decodes a keychain entry the same way Step does: named
// routing fields promoted, everything else kept raw.
func (k *KeychainEntry) UnmarshalYAML(value *yaml.Node) error {
	raw := map[string]interface{}{}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	name, _ := raw["name"].(string)
	kind, _ := raw["kind"].(string)
	if name == "" || kind == "" {
		return fmt.Errorf("%w: keychain entry missing 'name' or 'kind'", ErrInvalidPlaybook)
	}
	delete(raw, "name")
	delete(raw, "kind")

	k.Name = name
	k.Kind = kind
	k.Fields = raw
	return nil
}

// Playbook is the parsed form of a registered YAML document.
type Playbook struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   Metadata               `yaml:"metadata"`
	Workload   map[string]interface{} `yaml:"workload"`
	Keychain   []KeychainEntry        `yaml:"keychain"`
	Workflow   []Step                 `yaml:"workflow"`
}

// Parse decodes raw playbook YAML and validates structural invariants
// (a 'start' step, no next-transition cycles). It derives Path from
// metadata.path, falling back to metadata.name.
func Parse(content []byte) (*Playbook, error) {
	var pb Playbook
	if err := yaml.Unmarshal(content, &pb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlaybook, err)
	}

	if pb.Metadata.Path == "" {
		pb.Metadata.Path = pb.Metadata.Name
	}
	if pb.Metadata.Path == "" {
		return nil, ErrMissingPath
	}

	if err := Validate(&pb); err != nil {
		return nil, err
	}

	return &pb, nil
}

// StepByName indexes the workflow by step name.
func (p *Playbook) StepByName() map[string]*Step {
	index := make(map[string]*Step, len(p.Workflow))
	for i := range p.Workflow {
		index[p.Workflow[i].Name] = &p.Workflow[i]
	}
	return index
}

// ActionableSteps returns the subset of steps dispatchable to a worker.
func (p *Playbook) ActionableSteps() []*Step {
	var out []*Step
	for i := range p.Workflow {
		if p.Workflow[i].IsActionable() {
			out = append(out, &p.Workflow[i])
		}
	}
	return out
}
