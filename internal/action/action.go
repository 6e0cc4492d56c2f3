// Package action holds the declarative action configurations that routes
// aggregate: leaves bound to a handler kind, and sequence or parallel
// composites of named children.
package action

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidName is returned for an empty name or one containing '/'.
	ErrInvalidName = errors.New("invalid action name")
	// ErrDuplicateName is returned when two siblings share a name.
	ErrDuplicateName = errors.New("duplicate action name")
	// ErrMissingKind is returned for a leaf that names no handler kind.
	ErrMissingKind = errors.New("leaf action has no kind")
)

// PathSeparator separates action names in an override path.
const PathSeparator = "/"

// Configuration is a named unit of work in a route.
type Configuration interface {
	Name() string
	// Clone returns a copy that can be modified without affecting the
	// receiver. Composite clones are shallow: children are shared.
	Clone() Configuration
	// Validate returns every structural problem found under this
	// configuration, or nil.
	Validate(routeName string) error
	// CheckValidity reports whether Validate finds no problem.
	CheckValidity(routeName string) bool
}

// ValidName reports whether name can be used for an action or a sub-route.
func ValidName(name string) bool {
	return name != "" && !strings.Contains(name, PathSeparator)
}

// Leaf is a terminal action instantiated as one handler.
type Leaf struct {
	name string
	// Kind selects the handler constructor in the handler registry.
	Kind string
	// Options is the kind-specific settings value.
	Options any
}

// NewLeaf creates a leaf action.
func NewLeaf(name, kind string, options any) *Leaf {
	return &Leaf{name: name, Kind: kind, Options: options}
}

func (l *Leaf) Name() string { return l.name }

func (l *Leaf) Clone() Configuration {
	c := *l
	return &c
}

func (l *Leaf) Validate(routeName string) error {
	var errs []error
	if !ValidName(l.name) {
		errs = append(errs, fmt.Errorf("route %q: leaf %q: %w", routeName, l.name, ErrInvalidName))
	}
	if l.Kind == "" {
		errs = append(errs, fmt.Errorf("route %q: leaf %q: %w", routeName, l.name, ErrMissingKind))
	}
	return errors.Join(errs...)
}

func (l *Leaf) CheckValidity(routeName string) bool {
	return l.Validate(routeName) == nil
}

// Composite is an ordered list of named children executed either one after
// the other (sequence) or concurrently (parallel).
type Composite struct {
	name     string
	parallel bool
	children []Configuration
}

// NewSequence creates a sequence composite.
func NewSequence(name string, children ...Configuration) *Composite {
	return &Composite{name: name, children: append([]Configuration(nil), children...)}
}

// NewParallel creates a parallel composite.
func NewParallel(name string, children ...Configuration) *Composite {
	return &Composite{name: name, parallel: true, children: append([]Configuration(nil), children...)}
}

func (c *Composite) Name() string { return c.name }

// IsParallel reports whether children run concurrently.
func (c *Composite) IsParallel() bool { return c.parallel }

// Children returns the child list. Callers must not modify it.
func (c *Composite) Children() []Configuration { return c.children }

// Add appends a child.
func (c *Composite) Add(child Configuration) {
	c.children = append(c.children, child)
}

// Find returns the index of the child with the given name, or -1.
func (c *Composite) Find(name string) int {
	for i, ch := range c.children {
		if ch.Name() == name {
			return i
		}
	}
	return -1
}

// ReplaceChild sets the child at index i.
func (c *Composite) ReplaceChild(i int, child Configuration) {
	c.children[i] = child
}

// Remove drops the named child and reports whether it existed.
func (c *Composite) Remove(name string) bool {
	i := c.Find(name)
	if i < 0 {
		return false
	}
	c.children = append(c.children[:i:i], c.children[i+1:]...)
	return true
}

// Clone returns a composite with its own child slice. The children
// themselves are shared with the receiver.
func (c *Composite) Clone() Configuration {
	return &Composite{
		name:     c.name,
		parallel: c.parallel,
		children: append([]Configuration(nil), c.children...),
	}
}

func (c *Composite) Validate(routeName string) error {
	var errs []error
	if !ValidName(c.name) {
		errs = append(errs, fmt.Errorf("route %q: composite %q: %w", routeName, c.name, ErrInvalidName))
	}
	seen := make(map[string]struct{}, len(c.children))
	for _, ch := range c.children {
		if _, dup := seen[ch.Name()]; dup {
			errs = append(errs, fmt.Errorf("route %q: composite %q: child %q: %w", routeName, c.name, ch.Name(), ErrDuplicateName))
			continue
		}
		seen[ch.Name()] = struct{}{}
		if err := ch.Validate(routeName); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Composite) CheckValidity(routeName string) bool {
	return c.Validate(routeName) == nil
}

// Walk calls fn for cfg and, depth first, every configuration below it.
func Walk(cfg Configuration, fn func(Configuration)) {
	fn(cfg)
	if c, ok := cfg.(*Composite); ok {
		for _, ch := range c.children {
			Walk(ch, fn)
		}
	}
}
