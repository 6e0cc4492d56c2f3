// Package route resolves declarative route configurations into immutable
// trees of ordered action lists.
//
// A configuration is a list of meta-configurations replayed in order:
// declarations, additions, overrides, removals and sub-routes. Resolution
// runs in two passes. The first pass (ProtoResolver) registers every
// declaration and sub-route so that a route can use an action declared
// further down; the second pass (RouteResolver) replays the remaining
// operations per route to compute its final action list.
package route

import (
	"github.com/coffersTech/grandoutput/internal/action"
	"github.com/coffersTech/grandoutput/internal/pkg/filterql"
)

// Meta is one ordered instruction of a route configuration.
type Meta interface {
	meta()
}

// Declare makes actions available by name to the route (and to
// sub-routes importing declarations). Redeclaring a name is an error
// unless Overridden is set.
type Declare struct {
	Actions    []action.Configuration
	Overridden bool
}

// Add appends declared actions to the route's active list.
type Add struct {
	Names []string
}

// Override replaces the active action found at Path. Path is a
// '/'-separated list of names descending through composites; the last
// name must be the replacement's name.
type Override struct {
	Path   string
	Action action.Configuration
}

// Remove drops actions from the route's active list.
type Remove struct {
	Names []string
}

// AddSubRoute registers a sub-route at this point of the list.
type AddSubRoute struct {
	Route *SubRoute
}

func (Declare) meta()     {}
func (Add) meta()         {}
func (Override) meta()    {}
func (Remove) meta()      {}
func (AddSubRoute) meta() {}

// Configuration is a route node authored by the application.
type Configuration struct {
	Name  string
	Metas []Meta
}

// New creates an empty root configuration.
func New(name string) *Configuration {
	return &Configuration{Name: name}
}

// DeclareAction declares actions without activating them.
func (c *Configuration) DeclareAction(actions ...action.Configuration) *Configuration {
	c.Metas = append(c.Metas, Declare{Actions: actions})
	return c
}

// DeclareOverriddenAction declares actions that may replace an existing
// (typically imported) declaration with the same name.
func (c *Configuration) DeclareOverriddenAction(actions ...action.Configuration) *Configuration {
	c.Metas = append(c.Metas, Declare{Actions: actions, Overridden: true})
	return c
}

// AddAction declares an action and activates it.
func (c *Configuration) AddAction(a action.Configuration) *Configuration {
	c.Metas = append(c.Metas, Declare{Actions: []action.Configuration{a}}, Add{Names: []string{a.Name()}})
	return c
}

// UseAction activates previously declared actions.
func (c *Configuration) UseAction(names ...string) *Configuration {
	c.Metas = append(c.Metas, Add{Names: names})
	return c
}

// OverrideAction replaces the active action at path.
func (c *Configuration) OverrideAction(path string, a action.Configuration) *Configuration {
	c.Metas = append(c.Metas, Override{Path: path, Action: a})
	return c
}

// RemoveAction removes active actions.
func (c *Configuration) RemoveAction(names ...string) *Configuration {
	c.Metas = append(c.Metas, Remove{Names: names})
	return c
}

// AddSubRoute registers a sub-route.
func (c *Configuration) AddSubRoute(sub *SubRoute) *Configuration {
	c.Metas = append(c.Metas, AddSubRoute{Route: sub})
	return c
}

// SubRoute is a route nested in another one. Events whose topic is
// accepted by Predicate are handled by the sub-route instead of its parent.
type SubRoute struct {
	Configuration
	Predicate func(topic string) bool
	// ImportParentDeclaredActionsAbove makes the actions declared by the
	// parent before this sub-route available to it.
	ImportParentDeclaredActionsAbove bool
	// ImportParentActions starts the sub-route with the parent's active
	// list as it stands where the sub-route is registered.
	ImportParentActions bool
}

// NewSubRoute creates a sub-route that imports its parent's declarations
// and active actions.
func NewSubRoute(name string, predicate func(topic string) bool) *SubRoute {
	return &SubRoute{
		Configuration:                    Configuration{Name: name},
		Predicate:                        predicate,
		ImportParentDeclaredActionsAbove: true,
		ImportParentActions:              true,
	}
}

// TopicFilter compiles a filter expression into a topic predicate, for
// example "topic:orders/* !topic:orders/internal/*". Only topic terms and
// bare words are allowed.
func TopicFilter(expr string) (func(topic string) bool, error) {
	f, err := filterql.CompileTopic(expr)
	if err != nil {
		return nil, err
	}
	return f.MatchTopic, nil
}
