package filterql

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/grandoutput/internal/model"
)

func TestLexer(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenType
	}{
		{"topic:orders/eu*", []TokenType{TokenWord, TokenOp, TokenWord, TokenEOF}},
		{`level>="WARN"`, []TokenType{TokenWord, TokenOp, TokenString, TokenEOF}},
		{"a and b OR c", []TokenType{TokenWord, TokenAnd, TokenWord, TokenOr, TokenWord, TokenEOF}},
		{"!tag:x", []TokenType{TokenNot, TokenWord, TokenOp, TokenWord, TokenEOF}},
		{"tag!=x", []TokenType{TokenWord, TokenOp, TokenWord, TokenEOF}},
		{"(a)", []TokenType{TokenLParen, TokenWord, TokenRParen, TokenEOF}},
		{"a # b", []TokenType{TokenWord, TokenIllegal, TokenWord, TokenEOF}},
		{`"open`, []TokenType{TokenIllegal, TokenEOF}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			lexer := NewLexer(tt.input)
			var got []TokenType
			for range tt.expected {
				got = append(got, lexer.NextToken().Type)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestLexer_StringEscapes(t *testing.T) {
	tok := NewLexer(`  "say \"hi\""`).NextToken()
	assert.Equal(t, Token{Type: TokenString, Value: `say "hi"`, Pos: 2}, tok)
}

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Node
	}{
		{"", nil},
		{"topic:orders/*", TopicGlob{Pattern: "orders/*"}},
		{"level>=warn", LevelCompare{Op: OpGe, Level: model.LevelWarn}},
		{"lvl:ERROR", LevelCompare{Op: OpEq, Level: model.LevelError}},
		{"depth<2", DepthCompare{Op: OpLt, Depth: 2}},
		{"type:open", TypeIs{Type: model.EntryOpenGroup}},
		{"tag!=db", Not{Term: TagGlob{Pattern: "db"}}},
		{`"time out"`, Words{Value: "time out"}},
		{"timeout", Words{Value: "timeout"}},
		{
			"tag:db level:error",
			And{TagGlob{Pattern: "db"}, LevelCompare{Op: OpEq, Level: model.LevelError}},
		},
		{
			"topic:a* AND (tag:x OR NOT text:y)",
			And{
				TopicGlob{Pattern: "a*"},
				Or{TagGlob{Pattern: "x"}, Not{Term: TextContains{Value: "y"}}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		input string
		pos   int
	}{
		{"(topic:a", 8},
		{"topic:", 6},
		{"topic:a )", 8},
		{"color:red", 0},
		{"level:loud", 0},
		{"depth:-1", 0},
		{"type:frame", 0},
		{"topic>a", 0},
		{"a # b", 2},
		{`text:"open`, 5},
		{"a OR", 4},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input)
			var syntaxErr *SyntaxError
			require.ErrorAs(t, err, &syntaxErr)
			assert.Equal(t, tt.pos, syntaxErr.Pos)
		})
	}
}

func TestFilter_MatchEntry(t *testing.T) {
	mon := uuid.MustParse("5f1c2a3b-0000-4000-8000-000000000001")
	e := &model.Entry{
		Type:      model.EntryLine,
		MonitorID: mon,
		Depth:     1,
		Level:     model.LevelError,
		Text:      "Connection timeout occurred",
		Exception: "dial tcp: refused",
		Tags:      []string{"Sql", "db.primary"},
	}

	tests := []struct {
		query    string
		expected bool
	}{
		{"", true},
		{"level:ERROR", true},
		{"level>=warn", true},
		{"level<error", false},
		{"level!=info", true},
		{"depth:1", true},
		{"depth>1", false},
		{"type:line", true},
		{"type:open", false},
		{"monitor:5F1C2A3B", true},
		{"monitor:5f1d", false},
		{"tag:sql", true},
		{"tag:db.*", true},
		{"tag:http", false},
		{"tag!=http", true},
		{"text:TIMEOUT", true},
		{"text:refused", true},
		{"timeout", true},
		{`"db.primary"`, true},
		{"success", false},
		{"timeout level:info", false},
		{"success OR level:error", true},
		{"!(tag:sql OR tag:http)", false},
		{"topic:*", true},
		{"topic:orders*", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			f, err := Compile(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f.MatchEntry(e))
		})
	}
}

func TestFilter_MatchTopic(t *testing.T) {
	f, err := CompileTopic("topic:jobs/* !topic:jobs/internal/*")
	require.NoError(t, err)
	assert.True(t, f.MatchTopic("jobs/nightly"))
	assert.True(t, f.MatchTopic("jobs/eu/nightly"))
	assert.False(t, f.MatchTopic("jobs/internal/gc"))
	assert.False(t, f.MatchTopic("jobs"))
	assert.False(t, f.MatchTopic("other"))

	f, err = CompileTopic("topic:orders/?? OR audit")
	require.NoError(t, err)
	assert.True(t, f.MatchTopic("orders/eu"))
	assert.False(t, f.MatchTopic("orders/emea"))
	assert.True(t, f.MatchTopic("billing/audit/daily"))

	var empty *Filter
	assert.True(t, empty.MatchTopic("anything"))
	assert.Nil(t, empty.Root())
}

func TestCompileTopic_RejectsEntryFields(t *testing.T) {
	for _, expr := range []string{"level:error", "topic:a OR tag:x", "!(depth>1)"} {
		_, err := CompileTopic(expr)
		assert.ErrorIs(t, err, ErrEntryField, expr)
	}
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"", "", true},
		{"*", "", true},
		{"*", "a/b", true},
		{"a*c", "abbc", true},
		{"a*c", "abcd", false},
		{"a*b*c", "axbyc", true},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"orders/*", "orders", false},
		{"*/eu", "orders/eu", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, globMatch(tt.pattern, tt.s), "%q ~ %q", tt.pattern, tt.s)
	}
}
