// Package sequence splits query text into statements and picks the one to benchmark.
//
// Classification is keyword based on purpose: the evaluator only needs to
// locate the statement whose latency is measured, not to understand SQL.
package sequence

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ErrEmpty is returned when a query text contains no statements.
var ErrEmpty = errors.New("query contains no statements")

var readPattern = regexp.MustCompile(`(?i)^select\b`)

// Plan is the execution order derived from one query text.
type Plan struct {
	// Setup statements run once, untimed, in original order.
	Setup []string
	// Timed is the statement that is benchmarked and correctness-checked.
	Timed string
	// Ignored holds read statements after the first one; they never run.
	Ignored []string
	// Fallback is set when no read statement was found and the last
	// statement was promoted to the timed slot.
	Fallback bool
}

// Statements returns every statement the plan executes, in order.
func (p Plan) Statements() []string {
	out := make([]string, 0, len(p.Setup)+1)
	out = append(out, p.Setup...)
	if p.Timed != "" {
		out = append(out, p.Timed)
	}
	return out
}

// Build splits text and assigns setup and timed roles.
func Build(text string) (Plan, error) {
	stmts := Split(text)
	if len(stmts) == 0 {
		return Plan{}, ErrEmpty
	}
	plan := Plan{}
	for _, stmt := range stmts {
		if !IsRead(stmt) {
			plan.Setup = append(plan.Setup, stmt)
			continue
		}
		if plan.Timed == "" {
			plan.Timed = stmt
			continue
		}
		plan.Ignored = append(plan.Ignored, stmt)
	}
	if plan.Timed == "" {
		last := len(plan.Setup) - 1
		plan.Timed = plan.Setup[last]
		plan.Setup = plan.Setup[:last]
		plan.Fallback = true
	}
	return plan, nil
}

// IsRead reports whether stmt starts with SELECT, ignoring case, leading
// whitespace and leading comments.
func IsRead(stmt string) bool {
	return readPattern.MatchString(stripLeadingComments(stmt))
}

// Split breaks text on ';' terminators. Terminators inside quoted
// literals, quoted identifiers and comments do not split. Fragments are
// trimmed and empty ones dropped.
func Split(text string) []string {
	var (
		out   []string
		start int
		quote byte
	)
	flush := func(end int) {
		if stmt := strings.TrimSpace(text[start:end]); stmt != "" && !onlyComments(stmt) {
			out = append(out, stmt)
		}
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			if c == quote {
				// doubled quote is an escaped quote inside the literal
				if i+1 < len(text) && text[i+1] == quote && quote != ']' {
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '[':
			quote = ']'
		case '-':
			if i+1 < len(text) && text[i+1] == '-' {
				if nl := strings.IndexByte(text[i:], '\n'); nl >= 0 {
					i += nl
				} else {
					i = len(text)
				}
			}
		case '/':
			if i+1 < len(text) && text[i+1] == '*' {
				if end := strings.Index(text[i+2:], "*/"); end >= 0 {
					i += end + 3
				} else {
					i = len(text)
				}
			}
		case ';':
			flush(i)
			start = i + 1
		}
	}
	if start < len(text) {
		flush(len(text))
	}
	return out
}

func stripLeadingComments(stmt string) string {
	s := strings.TrimSpace(stmt)
	for {
		switch {
		case strings.HasPrefix(s, "--"):
			nl := strings.IndexByte(s, '\n')
			if nl < 0 {
				return ""
			}
			s = strings.TrimSpace(s[nl+1:])
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s, "*/")
			if end < 0 {
				return ""
			}
			s = strings.TrimSpace(s[end+2:])
		default:
			return s
		}
	}
}

func onlyComments(stmt string) bool {
	return stripLeadingComments(stmt) == ""
}
