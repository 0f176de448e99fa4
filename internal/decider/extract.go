package decider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// decisionSchema checks shape, not signal membership: an unknown signal is
// the engine's call (logged as a no-op), not a parse failure.
var decisionSchema = jsonschema.MustCompileString("decision.json", `{
	"type": "object",
	"required": ["signal"],
	"properties": {
		"signal": {"type": "string", "minLength": 1},
		"coin": {"type": "string"},
		"quantity": {"type": "number"},
		"leverage": {"type": "number"},
		"profit_target": {"type": "number"},
		"stop_loss": {"type": "number"},
		"invalidation_condition": {"type": "string"},
		"justification": {"type": "string"},
		"confidence": {"type": "number"},
		"risk_usd": {"type": "number"}
	}
}`)

// ExtractJSONObject returns the first balanced top-level JSON object in s.
// Models routinely wrap the decision in prose or markdown fences.
func ExtractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1]), true
			}
		}
	}
	return "", false
}

// ParseDecision extracts and validates a decision from free-form model
// output. The raw JSON text is returned alongside for audit logging.
func ParseDecision(content string) (Decision, string, error) {
	raw, ok := ExtractJSONObject(content)
	if !ok {
		return Decision{}, "", fmt.Errorf("no JSON object found in model response")
	}
	if !gjson.Valid(raw) {
		return Decision{}, raw, fmt.Errorf("extracted text is not valid JSON")
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Decision{}, raw, fmt.Errorf("decoding decision: %w", err)
	}
	if err := decisionSchema.Validate(doc); err != nil {
		return Decision{}, raw, fmt.Errorf("decision shape invalid: %w", err)
	}
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, raw, fmt.Errorf("decoding decision: %w", err)
	}
	d.Signal = strings.TrimSpace(d.Signal)
	d.Coin = strings.ToUpper(strings.TrimSpace(d.Coin))
	if d.Signal == "" {
		return Decision{}, raw, fmt.Errorf("decision missing signal")
	}
	if d.Signal != SignalHold && d.Coin == "" {
		return Decision{}, raw, fmt.Errorf("%s signal requires a coin", d.Signal)
	}
	return d, raw, nil
}
