package segments

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/coverline/server/internal/domain/leads"
)

// fieldKinds lists the lead fields rules may reference and their type,
// used to validate rules before compiling.
var fieldKinds = map[string]string{
	"status":         "string",
	"priority":       "string",
	"insurance_type": "string",
	"source":         "string",
	"campaign":       "string",
	"state":          "string",
	"city":           "string",
	"email":          "string",
	"company":        "string",
	"value_estimate": "number",
	"created_at":     "date",
	"tags":           "list",
	"needs_review":   "bool",
	"assigned":       "bool",
}

// ruleSource renders the expression for one rule. The rule value is
// bound through the environment as "value", never spliced into the
// source, so user input cannot change the expression shape.
func ruleSource(field string, op Operator, kind string) (string, error) {
	switch op {
	case OpEquals:
		if kind == "list" {
			return "value in " + field, nil
		}
		return field + " == value", nil
	case OpNotEquals:
		if kind == "list" {
			return "not (value in " + field + ")", nil
		}
		return field + " != value", nil
	case OpContains:
		if kind == "list" {
			return "value in " + field, nil
		}
		return field + " contains value", nil
	case OpNotContains:
		if kind == "list" {
			return "not (value in " + field + ")", nil
		}
		return "not (" + field + " contains value)", nil
	case OpStartsWith:
		return field + " startsWith value", nil
	case OpEndsWith:
		return field + " endsWith value", nil
	case OpGreaterThan:
		return field + " > value", nil
	case OpLessThan:
		return field + " < value", nil
	case OpIn:
		return field + " in values", nil
	case OpNotIn:
		return "not (" + field + " in values)", nil
	case OpIsSet:
		if kind == "list" {
			return "len(" + field + ") > 0", nil
		}
		return field + ` != ""`, nil
	case OpIsNotSet:
		if kind == "list" {
			return "len(" + field + ") == 0", nil
		}
		return field + ` == ""`, nil
	}
	return "", fmt.Errorf("unknown operator %q", op)
}

// ValidateRule checks field, operator, and value shape without compiling.
func ValidateRule(rule Rule) error {
	kind, ok := fieldKinds[rule.Field]
	if !ok {
		return fmt.Errorf("unknown field %q", rule.Field)
	}
	op := Operator(rule.Operator)
	switch op {
	case OpIsSet, OpIsNotSet:
		return nil
	case OpGreaterThan, OpLessThan:
		switch kind {
		case "number":
			if _, err := strconv.ParseFloat(rule.Value, 64); err != nil {
				return fmt.Errorf("operator %q requires a numeric value: %w", op, err)
			}
		case "date":
			if _, err := time.Parse("2006-01-02", rule.Value); err != nil {
				return fmt.Errorf("operator %q requires an ISO8601 date value: %w", op, err)
			}
		default:
			return fmt.Errorf("operator %q requires a numeric or date field, %q is %s", op, rule.Field, kind)
		}
		return nil
	case OpStartsWith, OpEndsWith, OpContains, OpNotContains:
		if kind == "number" || kind == "bool" || kind == "date" {
			return fmt.Errorf("operator %q not valid for %s field %q", op, kind, rule.Field)
		}
	case OpIn, OpNotIn:
		if kind == "date" {
			return fmt.Errorf("operator %q not valid for date field %q", op, rule.Field)
		}
	case OpEquals, OpNotEquals:
	default:
		return fmt.Errorf("unknown operator %q", rule.Operator)
	}
	if rule.Value == "" {
		return fmt.Errorf("operator %q requires a value", op)
	}
	if kind == "date" {
		if _, err := time.Parse("2006-01-02", rule.Value); err != nil {
			return fmt.Errorf("field %q requires an ISO8601 date value: %w", rule.Field, err)
		}
	}
	return nil
}

// Evaluator compiles rules to expr programs, caching by field and
// operator since the value arrives through the environment.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

func (e *Evaluator) program(field string, op Operator, kind string) (*vm.Program, error) {
	key := field + "|" + string(op)
	e.mu.RLock()
	if prog, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	source, err := ruleSource(field, op, kind)
	if err != nil {
		return nil, err
	}
	prog, err := expr.Compile(source, expr.DisableBuiltin("values"))
	if err != nil {
		return nil, fmt.Errorf("compile rule %s %s: %w", field, op, err)
	}

	e.mu.Lock()
	e.cache[key] = prog
	e.mu.Unlock()
	return prog, nil
}

// leadEnv flattens a lead into the rule evaluation environment.
func leadEnv(lead *leads.Lead) map[string]any {
	campaign := lead.Campaign
	assigned := lead.AssigneeID != nil && *lead.AssigneeID != ""
	tags := lead.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"status":         string(lead.Status),
		"priority":       string(lead.Priority),
		"insurance_type": lead.InsuranceType,
		"source":         lead.Source,
		"campaign":       campaign,
		"state":          lead.State,
		"city":           lead.City,
		"email":          lead.Email,
		"company":        lead.Company,
		"value_estimate": lead.ValueEstimate,
		"created_at":     float64(lead.CreatedAt.Unix()),
		"tags":           tags,
		"needs_review":   lead.NeedsReview,
		"assigned":       assigned,
	}
}

// ruleValue coerces the rule's string value into the type the field
// expects, and splits "in" lists.
func ruleValue(rule Rule, kind string) (any, []any, error) {
	op := Operator(rule.Operator)
	if op == OpIn || op == OpNotIn {
		parts := strings.Split(rule.Value, ",")
		values := make([]any, 0, len(parts))
		for _, p := range parts {
			values = append(values, strings.TrimSpace(p))
		}
		return nil, values, nil
	}
	switch kind {
	case "number":
		f, err := strconv.ParseFloat(rule.Value, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("numeric value: %w", err)
		}
		return f, nil, nil
	case "date":
		parsed, err := time.Parse("2006-01-02", rule.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("date value: %w", err)
		}
		return float64(parsed.Unix()), nil, nil
	case "bool":
		b, err := strconv.ParseBool(rule.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("boolean value: %w", err)
		}
		return b, nil, nil
	default:
		return rule.Value, nil, nil
	}
}

// MatchRule evaluates one rule against one lead.
func (e *Evaluator) MatchRule(rule Rule, lead *leads.Lead) (bool, error) {
	if err := ValidateRule(rule); err != nil {
		return false, err
	}
	kind := fieldKinds[rule.Field]
	op := Operator(rule.Operator)

	prog, err := e.program(rule.Field, op, kind)
	if err != nil {
		return false, err
	}

	env := leadEnv(lead)
	if op == OpIsSet || op == OpIsNotSet {
		// no value binding needed
	} else {
		value, values, err := ruleValue(rule, kind)
		if err != nil {
			return false, err
		}
		env["value"] = value
		env["values"] = values
	}

	out, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate rule %s %s: %w", rule.Field, op, err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("rule %s %s did not evaluate to a boolean", rule.Field, op)
	}
	return matched, nil
}

// Match evaluates the full rule set under the segment's match mode.
func (e *Evaluator) Match(segment *Segment, lead *leads.Lead) (bool, error) {
	if len(segment.Rules) == 0 {
		return false, nil
	}
	for _, rule := range segment.Rules {
		matched, err := e.MatchRule(rule, lead)
		if err != nil {
			return false, err
		}
		if segment.MatchMode == MatchAny && matched {
			return true, nil
		}
		if segment.MatchMode != MatchAny && !matched {
			return false, nil
		}
	}
	return segment.MatchMode != MatchAny, nil
}
