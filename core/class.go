package core

import "fmt"

// Class is the access class a method is tagged with at deployment.
type Class uint8

const (
	ClassInternal Class = iota
	ClassPure
	ClassView
	ClassTransaction
	ClassPayable
)

var classNames = map[Class]string{
	ClassInternal:    "internal",
	ClassPure:        "pure",
	ClassView:        "view",
	ClassTransaction: "transaction",
	ClassPayable:     "payable",
}

func (c Class) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// ParseClass maps a marker name to its class. internal has no marker.
func ParseClass(s string) (Class, bool) {
	switch s {
	case "pure":
		return ClassPure, true
	case "view":
		return ClassView, true
	case "transaction":
		return ClassTransaction, true
	case "payable":
		return ClassPayable, true
	}
	return ClassInternal, false
}

// External reports whether the method may be invoked from outside the contract.
func (c Class) External() bool {
	return c != ClassInternal
}

// Mutating reports whether the class may commit writes, transfers and events.
func (c Class) Mutating() bool {
	return c == ClassTransaction || c == ClassPayable
}

// ReadOnly is true for pure and view.
func (c Class) ReadOnly() bool {
	return c == ClassPure || c == ClassView
}

func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Class) UnmarshalText(text []byte) error {
	if string(text) == "internal" {
		*c = ClassInternal
		return nil
	}
	v, ok := ParseClass(string(text))
	if !ok {
		return fmt.Errorf("%w: unknown class %q", ErrInvalidArgument, text)
	}
	*c = v
	return nil
}

// Visibility of a state field.
type Visibility uint8

const (
	VisibilityInternal Visibility = iota
	VisibilityView
)

func (v Visibility) String() string {
	if v == VisibilityView {
		return "view"
	}
	return "internal"
}

func (v Visibility) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Visibility) UnmarshalText(text []byte) error {
	switch string(text) {
	case "view":
		*v = VisibilityView
	case "internal", "":
		*v = VisibilityInternal
	default:
		return fmt.Errorf("%w: unknown visibility %q", ErrInvalidArgument, text)
	}
	return nil
}
