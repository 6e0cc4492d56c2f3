package filterql

import (
	"strings"

	"github.com/coffersTech/grandoutput/internal/model"
)

// Subject is what a filter is evaluated against. Route predicates only see
// a topic; page filters see a persisted entry, whose topic is not stored.
type Subject struct {
	Topic string
	Entry *model.Entry
}

// Node is a compiled filter expression.
type Node interface {
	Match(s *Subject) bool
}

// And matches when every term matches.
type And []Node

func (n And) Match(s *Subject) bool {
	for _, t := range n {
		if !t.Match(s) {
			return false
		}
	}
	return true
}

// Or matches when at least one term matches.
type Or []Node

func (n Or) Match(s *Subject) bool {
	for _, t := range n {
		if t.Match(s) {
			return true
		}
	}
	return false
}

// Not negates its term.
type Not struct {
	Term Node
}

func (n Not) Match(s *Subject) bool { return !n.Term.Match(s) }

// TopicGlob matches the topic against a pattern where '*' matches any run
// of characters, '/' included, and '?' a single character.
type TopicGlob struct {
	Pattern string
}

func (n TopicGlob) Match(s *Subject) bool { return globMatch(n.Pattern, s.Topic) }

// MonitorPrefix matches monitors whose identifier starts with Prefix, so
// the short form printed by the text sink can be pasted back.
type MonitorPrefix struct {
	Prefix string
}

func (n MonitorPrefix) Match(s *Subject) bool {
	return s.Entry != nil && strings.HasPrefix(s.Entry.MonitorID.String(), strings.ToLower(n.Prefix))
}

// TypeIs matches entries of one structural type.
type TypeIs struct {
	Type model.EntryType
}

func (n TypeIs) Match(s *Subject) bool { return s.Entry != nil && s.Entry.Type == n.Type }

// LevelCompare compares the entry level with Level.
type LevelCompare struct {
	Op    Op
	Level model.Level
}

func (n LevelCompare) Match(s *Subject) bool {
	return s.Entry != nil && n.Op.compare(int(s.Entry.Level), int(n.Level))
}

// DepthCompare compares the entry group depth with Depth.
type DepthCompare struct {
	Op    Op
	Depth int
}

func (n DepthCompare) Match(s *Subject) bool {
	return s.Entry != nil && n.Op.compare(s.Entry.Depth, n.Depth)
}

// TagGlob matches entries carrying at least one tag matching Pattern,
// ignoring case.
type TagGlob struct {
	Pattern string
}

func (n TagGlob) Match(s *Subject) bool {
	if s.Entry == nil {
		return false
	}
	p := strings.ToLower(n.Pattern)
	for _, t := range s.Entry.Tags {
		if globMatch(p, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// TextContains matches entries whose text or exception contains Value,
// ignoring case.
type TextContains struct {
	Value string
}

func (n TextContains) Match(s *Subject) bool {
	return s.Entry != nil &&
		(containsFold(s.Entry.Text, n.Value) || containsFold(s.Entry.Exception, n.Value))
}

// Words is a bare search term. It looks in the topic, the text, the
// exception and the tags.
type Words struct {
	Value string
}

func (n Words) Match(s *Subject) bool {
	if containsFold(s.Topic, n.Value) {
		return true
	}
	if s.Entry == nil {
		return false
	}
	if containsFold(s.Entry.Text, n.Value) || containsFold(s.Entry.Exception, n.Value) {
		return true
	}
	for _, t := range s.Entry.Tags {
		if containsFold(t, n.Value) {
			return true
		}
	}
	return false
}

// needsEntry reports whether n looks at anything but the topic.
func needsEntry(n Node) (string, bool) {
	switch n := n.(type) {
	case And:
		return anyNeedsEntry(n)
	case Or:
		return anyNeedsEntry(n)
	case Not:
		return needsEntry(n.Term)
	case TopicGlob:
		return "", false
	case MonitorPrefix:
		return "monitor", true
	case TypeIs:
		return "type", true
	case LevelCompare:
		return "level", true
	case DepthCompare:
		return "depth", true
	case TagGlob:
		return "tag", true
	case TextContains:
		return "text", true
	case Words:
		return "", false
	}
	return "", false
}

func anyNeedsEntry(terms []Node) (string, bool) {
	for _, t := range terms {
		if field, ok := needsEntry(t); ok {
			return field, true
		}
	}
	return "", false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// globMatch reports whether s matches pattern ('*' any run, '?' one byte).
func globMatch(pattern, s string) bool {
	px, sx := 0, 0
	starPx, starSx := -1, -1
	for px < len(pattern) || sx < len(s) {
		if px < len(pattern) {
			switch c := pattern[px]; c {
			case '*':
				starPx, starSx = px, sx+1
				px++
				continue
			case '?':
				if sx < len(s) {
					px++
					sx++
					continue
				}
			default:
				if sx < len(s) && s[sx] == c {
					px++
					sx++
					continue
				}
			}
		}
		if starPx >= 0 && starSx <= len(s) {
			px, sx = starPx+1, starSx
			starSx++
			continue
		}
		return false
	}
	return true
}
