// Package invariants evaluates the semantic invariants that a fallback
// repair must preserve: a repaired payload may fix syntax, but it must
// never alter the meaning of the exchange.
package invariants

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Rule is a single named CEL boolean expression evaluated against the
// recovered pre-repair values and the parsed post-repair object. The
// expression must evaluate to true for the repair to be accepted.
type Rule struct {
	Name       string
	Expression string
}

// DefaultRules are the four invariants named by spec §4.5: monetary
// stability, currency stability, identifier immutability, and
// required-field preservation.
var DefaultRules = []Rule{
	{
		Name:       "monetary_stability",
		Expression: `!has(before.amount) || !has(after.amount) || before.amount == after.amount`,
	},
	{
		Name:       "currency_stability",
		Expression: `!has(before.currency) || !has(after.currency) || before.currency == after.currency`,
	},
	{
		Name:       "identifier_immutability",
		Expression: `!has(before.id) || !has(after.id) || before.id == after.id`,
	},
	{
		Name:       "required_fields_preserved",
		Expression: `before.required_fields.all(f, f in after.present_fields)`,
	},
}

// Violation names a rule that failed.
type Violation struct {
	Rule   string
	Detail string
}

// Validator evaluates DefaultRules (or a caller-supplied set) against a
// before/after pair using a single cached CEL environment.
type Validator struct {
	env   *cel.Env
	rules []Rule
	mu    sync.Mutex
	prgs  map[string]cel.Program
}

// New builds a Validator over rules, compiling each expression eagerly so
// a malformed rule fails at construction rather than mid-repair.
func New(rules []Rule) (*Validator, error) {
	env, err := cel.NewEnv(
		cel.Variable("before", cel.DynType),
		cel.Variable("after", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("invariants: create CEL environment: %w", err)
	}

	v := &Validator{env: env, rules: rules, prgs: make(map[string]cel.Program)}
	for _, r := range rules {
		if _, err := v.program(r); err != nil {
			return nil, fmt.Errorf("invariants: compile rule %q: %w", r.Name, err)
		}
	}
	return v, nil
}

// NewDefault builds a Validator over DefaultRules.
func NewDefault() (*Validator, error) {
	return New(DefaultRules)
}

func (v *Validator) program(r Rule) (cel.Program, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if prg, ok := v.prgs[r.Name]; ok {
		return prg, nil
	}
	ast, issues := v.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := v.env.Program(ast)
	if err != nil {
		return nil, err
	}
	v.prgs[r.Name] = prg
	return prg, nil
}

// Evaluate checks every rule against before/after and returns the names
// of the ones that failed. An empty slice means the repair is accepted.
func (v *Validator) Evaluate(before, after map[string]interface{}) ([]Violation, error) {
	var violations []Violation
	for _, r := range v.rules {
		prg, err := v.program(r)
		if err != nil {
			return nil, err
		}
		out, _, err := prg.Eval(map[string]interface{}{"before": before, "after": after})
		if err != nil {
			// A rule that cannot evaluate (missing field the expression
			// didn't guard for) is treated as a violation, not a crash:
			// an invariant we can't prove held is one we must reject.
			violations = append(violations, Violation{Rule: r.Name, Detail: err.Error()})
			continue
		}
		allowed, ok := out.Value().(bool)
		if !ok || !allowed {
			violations = append(violations, Violation{Rule: r.Name})
		}
	}
	return violations, nil
}

var (
	amountPattern   = regexp.MustCompile(`"amount"\s*:\s*(-?[0-9]+(?:\.[0-9]+)?)`)
	currencyPattern = regexp.MustCompile(`"currency"\s*:\s*"([A-Za-z]{3})"`)
	idPattern       = regexp.MustCompile(`"id"\s*:\s*"([^"]+)"`)
)

// RecoverBeforeState does a best-effort, regex-based extraction of the
// monetary/currency/identifier fields from raw pre-repair text, since a
// payload that failed JSON parsing has no structured form to diff
// against. The result is loose by construction: it exists only to
// populate the "before" side of Evaluate.
func RecoverBeforeState(rawText string, requiredFields []string) map[string]interface{} {
	state := map[string]interface{}{"required_fields": requiredFields}

	if m := amountPattern.FindStringSubmatch(rawText); m != nil {
		state["amount"] = m[1]
	}
	if m := currencyPattern.FindStringSubmatch(rawText); m != nil {
		state["currency"] = strings.ToUpper(m[1])
	}
	if m := idPattern.FindStringSubmatch(rawText); m != nil {
		state["id"] = m[1]
	}
	return state
}

// AfterState projects a parsed post-repair object into the shape
// Evaluate's CEL rules expect, recording which top-level keys are
// present so required_fields_preserved can check membership.
func AfterState(parsed map[string]interface{}) map[string]interface{} {
	present := make([]string, 0, len(parsed))
	for k := range parsed {
		present = append(present, k)
	}
	state := map[string]interface{}{"present_fields": present}
	if v, ok := parsed["amount"]; ok {
		state["amount"] = fmt.Sprintf("%v", v)
	}
	if v, ok := parsed["currency"].(string); ok {
		state["currency"] = strings.ToUpper(v)
	}
	if v, ok := parsed["id"].(string); ok {
		state["id"] = v
	}
	return state
}
