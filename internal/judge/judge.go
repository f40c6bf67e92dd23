// Package judge asks an external model which of two equivalent queries is
// easier to read.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"quill/internal/validation"

	"github.com/pkg/errors"
)

// Verdict is a readability preference between the original query (A) and
// the optimized query (B).
type Verdict struct {
	Preference string `json:"preference"`
	Reasoning  string `json:"reasoning"`
	Confidence string `json:"confidence"`
}

// Judge compares the readability of two queries over the same schema.
type Judge interface {
	Judge(ctx context.Context, original, optimized, schema string) (Verdict, error)
}

// Func adapts a function to Judge.
type Func func(ctx context.Context, original, optimized, schema string) (Verdict, error)

// Judge implements Judge.
func (f Func) Judge(ctx context.Context, original, optimized, schema string) (Verdict, error) {
	return f(ctx, original, optimized, schema)
}

const verdictSchemaJSON = `{
  "type": "object",
  "required": ["preference"],
  "properties": {
    "preference": {"type": "string", "minLength": 1},
    "reasoning": {"type": "string"},
    "confidence": {"type": "string"}
  }
}`

var verdictSchema = validation.MustCompileSchema(verdictSchemaJSON, "verdict.schema.json")

// BuildPrompt renders the comparison prompt sent to the model.
func BuildPrompt(original, optimized, schema string) string {
	var b strings.Builder
	b.WriteString("You are an expert SQL code reviewer. Compare the readability of these two SQL queries that produce the same results.\n\n")
	fmt.Fprintf(&b, "Schema:\n%s\n\n", schema)
	fmt.Fprintf(&b, "Query A (Original):\n%s\n\n", original)
	fmt.Fprintf(&b, "Query B (Optimized):\n%s\n\n", optimized)
	b.WriteString(`Evaluate based on:
1. Clarity - Is the query easy to understand?
2. Maintainability - Would it be easy to modify later?
3. Best practices - Does it follow SQL conventions?
4. Complexity - Is it unnecessarily complex?

Respond in this exact JSON format:
{
    "preference": "A" | "B" | "tie",
    "reasoning": "Brief explanation (1-2 sentences)",
    "confidence": "high" | "medium" | "low"
}

If both queries are equally readable, return "tie".
If the optimized query (B) is more readable, return "B".
If the original query (A) is more readable despite being slower, return "A".`)
	return b.String()
}

// ParseVerdict extracts the verdict object from a model reply. Markdown
// code fences and surrounding prose are tolerated.
func ParseVerdict(reply string) (Verdict, error) {
	body := extractObject(reply)
	if body == "" {
		return Verdict{}, errors.New("reply contains no JSON object")
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return Verdict{}, errors.Wrap(err, "decode verdict")
	}
	if err := verdictSchema.Validate(doc); err != nil {
		return Verdict{}, errors.Wrap(err, "invalid verdict")
	}
	var v Verdict
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return Verdict{}, errors.Wrap(err, "decode verdict")
	}
	v.Preference = strings.TrimSpace(v.Preference)
	v.Confidence = strings.ToLower(strings.TrimSpace(v.Confidence))
	v.Reasoning = strings.TrimSpace(v.Reasoning)
	return v, nil
}

func extractObject(reply string) string {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return ""
	}
	return reply[start : end+1]
}
