package filterql

import (
	"errors"
	"fmt"

	"github.com/coffersTech/grandoutput/internal/model"
)

// ErrEntryField is returned by CompileTopic when the expression needs more
// than the topic.
var ErrEntryField = errors.New("filterql: field not available on topics")

// Filter is a compiled expression. A nil Filter matches everything.
type Filter struct {
	expr string
	root Node
}

// Compile parses expr. An empty expression yields a filter matching
// everything.
func Compile(expr string) (*Filter, error) {
	root, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return &Filter{expr: expr, root: root}, nil
}

// CompileTopic compiles a filter that is evaluated on topics only, for
// sub-route predicates.
func CompileTopic(expr string) (*Filter, error) {
	f, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	if field, ok := needsEntry(f.root); ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryField, field)
	}
	return f, nil
}

// Match evaluates the filter.
func (f *Filter) Match(s *Subject) bool {
	if f == nil || f.root == nil {
		return true
	}
	return f.root.Match(s)
}

// MatchTopic evaluates the filter on a topic alone.
func (f *Filter) MatchTopic(topic string) bool {
	return f.Match(&Subject{Topic: topic})
}

// MatchEntry evaluates the filter on a persisted entry.
func (f *Filter) MatchEntry(e *model.Entry) bool {
	return f.Match(&Subject{Entry: e})
}

// Root returns the compiled expression tree, nil for an empty expression.
func (f *Filter) Root() Node {
	if f == nil {
		return nil
	}
	return f.root
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}
