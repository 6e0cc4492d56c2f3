package route

import (
	"fmt"
	"maps"

	"github.com/coffersTech/grandoutput/internal/action"
)

// ProtoRoute is the intermediate form of a route produced by the first
// pass: all declarations are known and sub-routes are registered, while the
// operations computing the active list are still pending.
type ProtoRoute struct {
	Name      string
	FullName  string
	Predicate func(topic string) bool
	Declared  map[string]action.Configuration
	Pending   []Meta
	Children  []*ProtoRoute

	importActions bool
}

// subRouteMarker records, in a parent's pending list, where a sub-route
// was registered.
type subRouteMarker struct {
	child *ProtoRoute
}

func (subRouteMarker) meta() {}

// ProtoResolver runs the first resolution pass.
type ProtoResolver struct {
	errs      *Errors
	fullNames map[string]struct{}
}

// NewProtoResolver returns a resolver that appends problems to errs.
func NewProtoResolver(errs *Errors) *ProtoResolver {
	return &ProtoResolver{errs: errs, fullNames: make(map[string]struct{})}
}

// Resolve builds the proto-tree of a root configuration.
func (r *ProtoResolver) Resolve(cfg *Configuration) *ProtoRoute {
	root := &ProtoRoute{
		Name:     cfg.Name,
		FullName: cfg.Name,
		Declared: make(map[string]action.Configuration),
	}
	r.fullNames[root.FullName] = struct{}{}
	r.process(root, cfg.Metas)
	return root
}

func (r *ProtoResolver) process(p *ProtoRoute, metas []Meta) {
	for _, m := range metas {
		switch m := m.(type) {
		case Declare:
			r.declare(p, m)
		case AddSubRoute:
			if child := r.subRoute(p, m.Route); child != nil {
				p.Children = append(p.Children, child)
				p.Pending = append(p.Pending, subRouteMarker{child: child})
			}
		case nil:
		default:
			p.Pending = append(p.Pending, m)
		}
	}
}

func (r *ProtoResolver) declare(p *ProtoRoute, d Declare) {
	for _, a := range d.Actions {
		if a == nil {
			r.errs.add(fmt.Errorf("route %q: nil declaration: %w", p.FullName, ErrInvalidAction))
			continue
		}
		if err := a.Validate(p.FullName); err != nil {
			r.errs.add(fmt.Errorf("%w: %w", ErrInvalidAction, err))
			continue
		}
		if _, exists := p.Declared[a.Name()]; exists && !d.Overridden {
			r.errs.add(fmt.Errorf("route %q: action %q: %w", p.FullName, a.Name(), ErrDuplicateDeclaration))
			continue
		}
		p.Declared[a.Name()] = a
	}
}

func (r *ProtoResolver) subRoute(parent *ProtoRoute, sub *SubRoute) *ProtoRoute {
	if sub == nil {
		r.errs.add(fmt.Errorf("route %q: nil sub-route: %w", parent.FullName, ErrInvalidRouteName))
		return nil
	}
	if !action.ValidName(sub.Name) {
		r.errs.add(fmt.Errorf("route %q: sub-route %q: %w", parent.FullName, sub.Name, ErrInvalidRouteName))
		return nil
	}
	fullName := sub.Name
	if parent.FullName != "" {
		fullName = parent.FullName + action.PathSeparator + sub.Name
	}
	if _, dup := r.fullNames[fullName]; dup {
		r.errs.add(fmt.Errorf("route %q: %w", fullName, ErrDuplicateRoute))
		return nil
	}
	r.fullNames[fullName] = struct{}{}

	child := &ProtoRoute{
		Name:          sub.Name,
		FullName:      fullName,
		Predicate:     sub.Predicate,
		importActions: sub.ImportParentActions,
	}
	if sub.ImportParentDeclaredActionsAbove {
		child.Declared = maps.Clone(parent.Declared)
	} else {
		child.Declared = make(map[string]action.Configuration)
	}
	r.process(child, sub.Metas)
	return child
}
