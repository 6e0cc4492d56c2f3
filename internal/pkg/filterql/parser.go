package filterql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coffersTech/grandoutput/internal/model"
)

// Grammar:
//
//	expr    = and { OR and }
//	and     = unary { [AND] unary }
//	unary   = (NOT | "!") unary | primary
//	primary = "(" expr ")" | field op value | word | string
//	op      = ":" | "=" | "!=" | "<" | "<=" | ">" | ">="
//
// Fields are topic, monitor, type, level, depth, tag and text. Ordering
// operators only apply to level and depth.

// Op is a comparison operator. ':' parses as OpEq.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

func (o Op) compare(a, b int) bool {
	switch o {
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	default:
		return a == b
	}
}

// SyntaxError reports a malformed expression.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("filterql: %s at offset %d", e.Msg, e.Pos)
}

// Parser parses filter expressions into a Node tree.
type Parser struct {
	lexer   *Lexer
	current Token
}

// Parse parses input. A blank input yields a nil Node, which matches
// everything.
func Parse(input string) (Node, error) {
	p := &Parser{lexer: NewLexer(input)}
	p.advance()
	if p.current.Type == TokenEOF {
		return nil, nil
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, p.unexpected()
	}
	return node, nil
}

func (p *Parser) advance() {
	p.current = p.lexer.NextToken()
}

func (p *Parser) errorf(format string, args ...any) error {
	return &SyntaxError{Pos: p.current.Pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) unexpected() error {
	switch p.current.Type {
	case TokenEOF:
		return p.errorf("unexpected end of input")
	case TokenIllegal:
		if strings.HasPrefix(p.current.Value, `"`) {
			return p.errorf("unterminated string")
		}
		return p.errorf("illegal character %q", p.current.Value)
	default:
		return p.errorf("unexpected %s %q", p.current.Type, p.current.Value)
	}
}

func (p *Parser) parseOr() (Node, error) {
	var terms Or
	for {
		term, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
		if p.current.Type != TokenOr {
			break
		}
		p.advance()
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return terms, nil
}

// parseAnd reads terms joined by AND or simply written one after the other.
func (p *Parser) parseAnd() (Node, error) {
	var terms And
	for {
		term, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
		if p.current.Type == TokenAnd {
			p.advance()
			continue
		}
		if !p.startsTerm() {
			break
		}
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return terms, nil
}

func (p *Parser) startsTerm() bool {
	switch p.current.Type {
	case TokenWord, TokenString, TokenLParen, TokenNot:
		return true
	}
	return false
}

func (p *Parser) parseUnary() (Node, error) {
	if p.current.Type == TokenNot {
		p.advance()
		term, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Term: term}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Node, error) {
	switch p.current.Type {
	case TokenLParen:
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.Type != TokenRParen {
			if p.current.Type == TokenEOF {
				return nil, p.errorf("missing ')'")
			}
			return nil, p.unexpected()
		}
		p.advance()
		return expr, nil

	case TokenString:
		value := p.current.Value
		p.advance()
		return Words{Value: value}, nil

	case TokenWord:
		field := p.current
		p.advance()
		if p.current.Type != TokenOp {
			return Words{Value: field.Value}, nil
		}
		op := p.current
		p.advance()
		if p.current.Type != TokenWord && p.current.Type != TokenString {
			return nil, p.errorf("expected a value after %s%s", field.Value, op.Value)
		}
		value := p.current
		p.advance()
		return fieldTerm(field, op, value)

	default:
		return nil, p.unexpected()
	}
}

func fieldTerm(field, opTok, value Token) (Node, error) {
	op := Op(opTok.Value)
	if op == ":" {
		op = OpEq
	}
	name := strings.ToLower(field.Value)
	fail := func(format string, args ...any) error {
		return &SyntaxError{Pos: field.Pos, Msg: fmt.Sprintf(format, args...)}
	}
	ordered := op != OpEq && op != OpNe
	if ordered && name != "level" && name != "lvl" && name != "depth" {
		return nil, fail("operator %s does not apply to %s", op, field.Value)
	}

	var term Node
	switch name {
	case "level", "lvl":
		level, ok := parseLevel(value.Value)
		if !ok {
			return nil, fail("unknown level %q", value.Value)
		}
		return LevelCompare{Op: op, Level: level}, nil
	case "depth":
		depth, err := strconv.Atoi(value.Value)
		if err != nil || depth < 0 {
			return nil, fail("invalid depth %q", value.Value)
		}
		return DepthCompare{Op: op, Depth: depth}, nil
	case "topic":
		term = TopicGlob{Pattern: value.Value}
	case "monitor", "mon":
		term = MonitorPrefix{Prefix: value.Value}
	case "type":
		t := model.ParseEntryType(strings.ToLower(value.Value))
		if t == model.EntryNone {
			return nil, fail("unknown entry type %q", value.Value)
		}
		term = TypeIs{Type: t}
	case "tag", "tags":
		term = TagGlob{Pattern: value.Value}
	case "text", "message", "msg":
		term = TextContains{Value: value.Value}
	default:
		return nil, fail("unknown field %q", field.Value)
	}
	if op == OpNe {
		return Not{Term: term}, nil
	}
	return term, nil
}

// parseLevel accepts the level names printed by model.Level.
func parseLevel(s string) (model.Level, bool) {
	l := model.ParseLevel(s)
	if strings.EqualFold(l.String(), s) || (l == model.LevelWarn && strings.EqualFold(s, "warning")) {
		return l, true
	}
	return 0, false
}
