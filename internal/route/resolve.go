package route

import (
	"fmt"
	"strings"

	"github.com/coffersTech/grandoutput/internal/action"
)

// Resolved is the final, immutable form of a route.
type Resolved struct {
	Name     string
	FullName string
	// Actions is the ordered, flattened action list of the route.
	Actions  []action.Configuration
	Children []*Resolved

	predicate func(topic string) bool
}

// Accepts reports whether the route's predicate accepts the topic. A route
// without predicate accepts everything.
func (r *Resolved) Accepts(topic string) bool {
	return r.predicate == nil || r.predicate(topic)
}

// FindRoute returns the deepest route handling the topic: the first child
// (in registration order) accepting it, recursively, or r itself.
func (r *Resolved) FindRoute(topic string) *Resolved {
	for _, c := range r.Children {
		if c.Accepts(topic) {
			return c.FindRoute(topic)
		}
	}
	return r
}

// Find returns the route with the given full name, or nil.
func (r *Resolved) Find(fullName string) *Resolved {
	if r.FullName == fullName {
		return r
	}
	for _, c := range r.Children {
		if found := c.Find(fullName); found != nil {
			return found
		}
	}
	return nil
}

// Walk calls fn for r and all its descendants, parents first.
func (r *Resolved) Walk(fn func(*Resolved)) {
	fn(r)
	for _, c := range r.Children {
		c.Walk(fn)
	}
}

// ActionNames returns the names of the route's actions, in order.
func (r *Resolved) ActionNames() []string {
	names := make([]string, len(r.Actions))
	for i, a := range r.Actions {
		names[i] = a.Name()
	}
	return names
}

// RouteResolver runs the second resolution pass.
type RouteResolver struct {
	errs *Errors
}

// NewRouteResolver returns a resolver that appends problems to errs.
func NewRouteResolver(errs *Errors) *RouteResolver {
	return &RouteResolver{errs: errs}
}

// Resolve computes the final tree from a proto-tree.
func (r *RouteResolver) Resolve(root *ProtoRoute) *Resolved {
	return r.resolve(root, nil)
}

// cowState tracks the composites cloned by overrides in one active list.
// A composite present in the set belongs to the list and can be modified in
// place.
type cowState map[*action.Composite]struct{}

func (r *RouteResolver) resolve(p *ProtoRoute, initial []action.Configuration) *Resolved {
	res := &Resolved{Name: p.Name, FullName: p.FullName, predicate: p.Predicate}
	active := append([]action.Configuration(nil), initial...)
	owned := make(cowState)

	for _, m := range p.Pending {
		switch m := m.(type) {
		case Add:
			for _, name := range m.Names {
				a, ok := p.Declared[name]
				if !ok {
					r.errs.add(fmt.Errorf("route %q: action %q: %w", p.FullName, name, ErrUndeclaredAction))
					continue
				}
				if indexOf(active, name) >= 0 {
					r.errs.add(fmt.Errorf("route %q: action %q: %w", p.FullName, name, ErrAlreadyActive))
					continue
				}
				active = append(active, a)
			}
		case Remove:
			for _, name := range m.Names {
				i := indexOf(active, name)
				if i < 0 {
					r.errs.add(fmt.Errorf("route %q: action %q: %w", p.FullName, name, ErrNotActive))
					continue
				}
				active = append(active[:i:i], active[i+1:]...)
			}
		case Override:
			if err := override(active, owned, p.FullName, m); err != nil {
				r.errs.add(err)
			}
		case subRouteMarker:
			var snapshot []action.Configuration
			if m.child.importActions {
				snapshot = active
				// The child now shares our composites: later overrides here
				// must clone again.
				owned = make(cowState)
			}
			res.Children = append(res.Children, r.resolve(m.child, snapshot))
		}
	}

	res.Actions = r.flatten(p.FullName, "", active, false)
	return res
}

func indexOf(list []action.Configuration, name string) int {
	for i, a := range list {
		if a.Name() == name {
			return i
		}
	}
	return -1
}

// override replaces the action designated by o.Path in active. Composites
// on the path are cloned on first touch; siblings off the path keep their
// identity.
func override(active []action.Configuration, owned cowState, routeName string, o Override) error {
	if o.Action == nil {
		return fmt.Errorf("route %q: override %q: nil action: %w", routeName, o.Path, ErrInvalidAction)
	}
	if err := o.Action.Validate(routeName); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}
	segments := strings.Split(o.Path, action.PathSeparator)
	if segments[len(segments)-1] != o.Action.Name() {
		return fmt.Errorf("route %q: override %q with action %q: %w", routeName, o.Path, o.Action.Name(), ErrUnknownPath)
	}
	if !pathExists(active, segments) {
		return fmt.Errorf("route %q: override %q: %w", routeName, o.Path, ErrUnknownPath)
	}

	top := indexOf(active, segments[0])
	if len(segments) == 1 {
		active[top] = o.Action
		return nil
	}
	owner := owned.take(active[top].(*action.Composite))
	active[top] = owner
	for _, name := range segments[1 : len(segments)-1] {
		i := owner.Find(name)
		next := owned.take(owner.Children()[i].(*action.Composite))
		owner.ReplaceChild(i, next)
		owner = next
	}
	owner.ReplaceChild(owner.Find(o.Action.Name()), o.Action)
	return nil
}

// take returns c if it is already owned, or an owned clone of it.
func (s cowState) take(c *action.Composite) *action.Composite {
	if _, ok := s[c]; ok {
		return c
	}
	clone := c.Clone().(*action.Composite)
	s[clone] = struct{}{}
	return clone
}

func pathExists(active []action.Configuration, segments []string) bool {
	i := indexOf(active, segments[0])
	if i < 0 {
		return false
	}
	cur := active[i]
	for _, name := range segments[1:] {
		c, ok := cur.(*action.Composite)
		if !ok {
			return false
		}
		j := c.Find(name)
		if j < 0 {
			return false
		}
		cur = c.Children()[j]
	}
	return true
}

// flatten returns list with composites of the same kind as their container
// spliced in. Composites of the other kind are kept, with their own children
// flattened; they are only rebuilt when flattening changed them. Splicing can
// bring two actions with the same name into one list: the same action twice
// is kept once, distinct actions are reported and the later one is dropped.
func (r *RouteResolver) flatten(route, owner string, list []action.Configuration, parallel bool) []action.Configuration {
	out := r.splice(route, owner, nil, list, parallel)
	seen := make(map[string]action.Configuration, len(out))
	kept := out[:0]
	for _, a := range out {
		prev, dup := seen[a.Name()]
		if !dup {
			seen[a.Name()] = a
			kept = append(kept, a)
			continue
		}
		if prev != a {
			r.errs.add(fmt.Errorf("route %q: flattening %s: action %q: %w", route, describeOwner(owner), a.Name(), ErrDuplicateDeclaration))
		}
	}
	return kept
}

func (r *RouteResolver) splice(route, owner string, out, list []action.Configuration, parallel bool) []action.Configuration {
	for _, a := range list {
		c, ok := a.(*action.Composite)
		if !ok {
			out = append(out, a)
			continue
		}
		if c.IsParallel() == parallel {
			out = r.splice(route, owner, out, c.Children(), parallel)
			continue
		}
		path := c.Name()
		if owner != "" {
			path = owner + action.PathSeparator + c.Name()
		}
		children := r.flatten(route, path, c.Children(), c.IsParallel())
		if sameList(children, c.Children()) {
			out = append(out, c)
			continue
		}
		if c.IsParallel() {
			out = append(out, action.NewParallel(c.Name(), children...))
		} else {
			out = append(out, action.NewSequence(c.Name(), children...))
		}
	}
	return out
}

func describeOwner(owner string) string {
	if owner == "" {
		return "route actions"
	}
	return fmt.Sprintf("composite %q", owner)
}

func sameList(a, b []action.Configuration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Resolve runs both passes over cfg. The returned tree holds every node
// that resolved; a non-nil error (of type Errors, or wrapping
// ErrResolutionPanic) means the configuration must not be applied.
func Resolve(cfg *Configuration) (res *Resolved, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = fmt.Errorf("%w: %v", ErrResolutionPanic, p)
		}
	}()
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", ErrInvalidRouteName)
	}
	var errs Errors
	proto := NewProtoResolver(&errs).Resolve(cfg)
	res = NewRouteResolver(&errs).Resolve(proto)
	return res, errs.Err()
}
