package abi

import (
	"unicode"

	"github.com/govm-net/cvm/core"
	"golang.org/x/text/unicode/norm"
)

// Field markers.
const (
	MarkerState = "state"
	MarkerView  = "view"
)

// Parameter types accepted in manifests.
const (
	TypeAny     = "any"
	TypeNumber  = core.KindNumber
	TypeString  = core.KindString
	TypeBoolean = core.KindBoolean
	TypeObject  = core.KindObject
	TypeArray   = core.KindArray
)

const maxNameLength = 64

var paramTypes = map[string]bool{
	"":          true,
	TypeAny:     true,
	TypeNumber:  true,
	TypeString:  true,
	TypeBoolean: true,
	TypeObject:  true,
	TypeArray:   true,
}

// Classify resolves every declared method and field of m to its class and
// visibility. Any ambiguity refuses the whole contract with a
// *core.DeploymentError.
func Classify(m *Manifest) (*Descriptor, error) {
	if m == nil {
		return nil, core.NewDeploymentError("", "manifest is missing")
	}
	if m.Runtime == "" {
		return nil, core.NewDeploymentError("", "runtime kind is missing")
	}

	d := &Descriptor{
		Name:    m.Name,
		Runtime: m.Runtime,
		Methods: make(map[string]*Method, len(m.Functions)),
		Fields:  make(map[string]*FieldDescriptor, len(m.Fields)),
	}

	for _, fn := range m.Functions {
		method, err := classifyMethod(fn)
		if err != nil {
			return nil, err
		}
		if _, dup := d.Methods[method.Name]; dup {
			return nil, core.NewDeploymentError(method.Name, "method declared twice")
		}
		d.Methods[method.Name] = method
	}

	for _, f := range m.Fields {
		field, err := classifyField(f)
		if err != nil {
			return nil, err
		}
		if _, dup := d.Fields[field.Name]; dup {
			return nil, core.NewDeploymentError(field.Name, "field declared twice")
		}
		if _, clash := d.Methods[field.Name]; clash {
			return nil, core.NewDeploymentError(field.Name, "name used by both a method and a field")
		}
		d.Fields[field.Name] = field
	}

	if len(m.Events) > 0 {
		d.Events = make(map[string]bool, len(m.Events))
		for _, ev := range m.Events {
			if err := checkName(ev.Name); err != nil {
				return nil, core.NewDeploymentError(ev.Name, "event %v", err)
			}
			if d.Events[ev.Name] {
				return nil, core.NewDeploymentError(ev.Name, "event declared twice")
			}
			d.Events[ev.Name] = true
		}
	}
	return d, nil
}

func classifyMethod(fn Function) (*Method, error) {
	if err := checkName(fn.Name); err != nil {
		return nil, core.NewDeploymentError(fn.Name, "method %v", err)
	}

	class := core.ClassInternal
	seen := make(map[string]bool, len(fn.Markers))
	for _, marker := range fn.Markers {
		if seen[marker] {
			return nil, core.NewDeploymentError(fn.Name, "marker %q repeated", marker)
		}
		seen[marker] = true

		c, ok := core.ParseClass(marker)
		if !ok {
			return nil, core.NewDeploymentError(fn.Name, "marker %q is not a method class", marker)
		}
		if class != core.ClassInternal {
			return nil, core.NewDeploymentError(fn.Name, "conflicting markers %q and %q", class, marker)
		}
		class = c
	}

	inputs := make([]Parameter, len(fn.Inputs))
	names := make(map[string]bool, len(fn.Inputs))
	for i, p := range fn.Inputs {
		if !paramTypes[p.Type] {
			return nil, core.NewDeploymentError(fn.Name, "parameter %q has unknown type %q", p.Name, p.Type)
		}
		if p.Name != "" {
			if err := checkName(p.Name); err != nil {
				return nil, core.NewDeploymentError(fn.Name, "parameter %v", err)
			}
			if names[p.Name] {
				return nil, core.NewDeploymentError(fn.Name, "parameter %q repeated", p.Name)
			}
			names[p.Name] = true
		}
		inputs[i] = p
		if inputs[i].Type == "" {
			inputs[i].Type = TypeAny
		}
	}

	return &Method{Name: fn.Name, Class: class, Inputs: inputs}, nil
}

func classifyField(f Field) (*FieldDescriptor, error) {
	if err := checkName(f.Name); err != nil {
		return nil, core.NewDeploymentError(f.Name, "field %v", err)
	}

	field := &FieldDescriptor{Name: f.Name}
	seen := make(map[string]bool, len(f.Markers))
	for _, marker := range f.Markers {
		if seen[marker] {
			return nil, core.NewDeploymentError(f.Name, "marker %q repeated", marker)
		}
		seen[marker] = true

		switch marker {
		case MarkerState:
			field.Persistent = true
		case MarkerView:
			field.Visibility = core.VisibilityView
		default:
			if _, isClass := core.ParseClass(marker); isClass {
				return nil, core.NewDeploymentError(f.Name, "marker %q cannot apply to a field", marker)
			}
			return nil, core.NewDeploymentError(f.Name, "unknown marker %q", marker)
		}
	}

	initial, err := core.Normalize(f.Initial)
	if err != nil {
		return nil, core.NewDeploymentError(f.Name, "initial value: %v", err)
	}
	field.Initial = initial
	return field, nil
}

// checkName accepts identifiers in NFC form: a letter, '_' or '$' followed
// by letters, digits, '_' or '$'.
func checkName(name string) error {
	if name == "" {
		return errName("name is empty")
	}
	if len(name) > maxNameLength {
		return errName("name longer than 64 bytes")
	}
	if !norm.NFC.IsNormalString(name) {
		return errName("name " + name + " is not NFC normalized")
	}
	for i, r := range name {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return errName("name " + name + " is not an identifier")
		}
	}
	return nil
}

type errName string

func (e errName) Error() string { return string(e) }
