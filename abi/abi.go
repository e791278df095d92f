// Package abi holds contract manifests, the raw declarations supplied with
// contract code at deployment, and the classifier that turns them into
// immutable descriptors.
package abi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/govm-net/cvm/core"
)

// Manifest is the raw declaration of a contract as produced by the deploy
// pipeline.
type Manifest struct {
	Name      string     `json:"name,omitempty"`
	Runtime   string     `json:"runtime"`
	Functions []Function `json:"functions,omitempty"`
	Fields    []Field    `json:"fields,omitempty"`
	Events    []Event    `json:"events,omitempty"`
}

// Function is a declared method with its class markers.
type Function struct {
	Name    string      `json:"name"`
	Markers []string    `json:"markers,omitempty"`
	Inputs  []Parameter `json:"inputs,omitempty"`
}

// Field is a declared state field.
type Field struct {
	Name    string   `json:"name"`
	Markers []string `json:"markers,omitempty"`
	Initial any      `json:"initial,omitempty"`
}

// Event declares an event name the contract may emit.
type Event struct {
	Name       string      `json:"name"`
	Parameters []Parameter `json:"parameters,omitempty"`
}

// Parameter is a named, typed input.
type Parameter struct {
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// ParseManifest decodes a JSON manifest. Unknown keys are refused.
func ParseManifest(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, core.NewDeploymentError("", "malformed manifest: %v", err)
	}
	return &m, nil
}

// Descriptor is the classified, immutable view of a deployed contract.
type Descriptor struct {
	Name     string                      `json:"name,omitempty"`
	Runtime  string                      `json:"runtime"`
	Methods  map[string]*Method          `json:"methods"`
	Fields   map[string]*FieldDescriptor `json:"fields"`
	Events   map[string]bool             `json:"events,omitempty"` // nil when the manifest declares none
	Address  core.Address                `json:"address"`
	Deployer core.Address                `json:"deployer"`
	CodeHash core.Hash                   `json:"code_hash"`
	Height   uint64                      `json:"height"`
}

// Method is a classified method.
type Method struct {
	Name   string      `json:"name"`
	Class  core.Class  `json:"class"`
	Inputs []Parameter `json:"inputs,omitempty"`
}

// FieldDescriptor is a classified state field. Transient fields live for
// one invocation only.
type FieldDescriptor struct {
	Name       string          `json:"name"`
	Persistent bool            `json:"persistent"`
	Visibility core.Visibility `json:"visibility"`
	Initial    any             `json:"initial,omitempty"`
}

// Method looks up a method by name.
func (d *Descriptor) Method(name string) (*Method, bool) {
	m, ok := d.Methods[name]
	return m, ok
}

// Field looks up a field by name.
func (d *Descriptor) Field(name string) (*FieldDescriptor, bool) {
	f, ok := d.Fields[name]
	return f, ok
}

// PersistentFields returns persistent field names in sorted order.
func (d *Descriptor) PersistentFields() []string {
	names := make([]string, 0, len(d.Fields))
	for name, f := range d.Fields {
		if f.Persistent {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ExternalMethods returns externally callable method names in sorted order.
func (d *Descriptor) ExternalMethods() []string {
	names := make([]string, 0, len(d.Methods))
	for name, m := range d.Methods {
		if m.Class.External() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// AllowsEvent reports whether name may be emitted.
func (d *Descriptor) AllowsEvent(name string) bool {
	if d.Events == nil {
		return true
	}
	return d.Events[name]
}

// CheckArgs validates top-level argument count and kinds and returns the
// normalized arguments. Nested shapes are not inspected.
func (m *Method) CheckArgs(args []any) ([]any, error) {
	if len(args) != len(m.Inputs) {
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d",
			core.ErrInvalidArgumentType, m.Name, len(m.Inputs), len(args))
	}
	out := make([]any, len(args))
	for i, arg := range args {
		v, err := core.Normalize(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", core.ErrInvalidArgumentType, i, err)
		}
		want := m.Inputs[i].Type
		if want != "" && want != TypeAny && core.KindOf(v) != want {
			return nil, fmt.Errorf("%w: argument %q wants %s, got %s",
				core.ErrInvalidArgumentType, m.Inputs[i].Name, want, core.KindOf(v))
		}
		out[i] = v
	}
	return out, nil
}
