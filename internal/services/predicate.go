package services

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"signalflow/backend/pkg/models"
)

// Predicate operators.
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpIn       = "in"
	OpNin      = "nin"
	OpExists   = "exists"
	OpMissing  = "missing"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpContains = "contains"
	OpPrefix   = "prefix"
	OpMatches  = "matches"
)

var knownOps = map[string]bool{
	OpEq: true, OpNeq: true, OpIn: true, OpNin: true, OpExists: true, OpMissing: true,
	OpGt: true, OpGte: true, OpLt: true, OpLte: true, OpContains: true, OpPrefix: true, OpMatches: true,
}

var patternCache sync.Map // string -> *regexp.Regexp

func compilePattern(p string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	patternCache.Store(p, re)
	return re, nil
}

// ValidatePredicate returns one message per malformed condition.
func ValidatePredicate(p models.MatchPredicate) []string {
	var v violations
	for i, et := range p.EventTypes {
		if strings.TrimSpace(et) == "" {
			v.add(fmt.Sprintf("match_predicate.event_types[%d] must not be empty", i))
		}
	}
	check := func(group string, conds []models.Condition) {
		for i, c := range conds {
			at := fmt.Sprintf("match_predicate.%s[%d]", group, i)
			if strings.TrimSpace(c.Field) == "" {
				v.add(at + ".field is required")
			}
			if !knownOps[c.Op] {
				v.add(fmt.Sprintf("%s.op %q is not supported", at, c.Op))
				continue
			}
			switch c.Op {
			case OpIn, OpNin:
				if _, ok := c.Value.([]interface{}); !ok {
					v.add(at + ".value must be an array")
				}
			case OpGt, OpGte, OpLt, OpLte:
				if _, ok := toFloat(c.Value); !ok {
					if _, isStr := c.Value.(string); !isStr {
						v.add(at + ".value must be a number or string")
					}
				}
			case OpPrefix:
				if _, ok := c.Value.(string); !ok {
					v.add(at + ".value must be a string")
				}
			case OpMatches:
				s, ok := c.Value.(string)
				if !ok {
					v.add(at + ".value must be a string")
				} else if _, err := compilePattern(s); err != nil {
					v.add(at + ".value is not a valid regular expression")
				}
			case OpContains:
				if c.Value == nil {
					v.add(at + ".value is required")
				}
			}
		}
	}
	check("all", p.All)
	check("any", p.Any)
	return v
}

// Matches evaluates p against a normalized payload. It is pure and never
// panics; anything it cannot evaluate counts as no match.
func Matches(p models.MatchPredicate, payload models.NormalizedPayload) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if len(p.EventTypes) > 0 && !eventTypeMatches(p.EventTypes, payload.EventType) {
		return false
	}
	if len(p.All) == 0 && len(p.Any) == 0 {
		return true
	}

	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return false
	}
	for _, c := range p.All {
		if !evalCondition(c, attrs) {
			return false
		}
	}
	if len(p.Any) == 0 {
		return true
	}
	for _, c := range p.Any {
		if evalCondition(c, attrs) {
			return true
		}
	}
	return false
}

// eventTypeMatches supports exact names and "prefix.*" wildcards.
func eventTypeMatches(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if p == eventType || p == "*" {
			return true
		}
		if strings.HasSuffix(p, ".*") && strings.HasPrefix(eventType, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

func evalCondition(c models.Condition, attrs []byte) bool {
	r := gjson.GetBytes(attrs, c.Field)
	switch c.Op {
	case OpExists:
		return r.Exists()
	case OpMissing:
		return !r.Exists()
	}
	if !r.Exists() {
		return false
	}

	switch c.Op {
	case OpEq:
		return equal(r, c.Value)
	case OpNeq:
		return !equal(r, c.Value)
	case OpIn, OpNin:
		list, ok := c.Value.([]interface{})
		if !ok {
			return false
		}
		found := false
		for _, item := range list {
			if equal(r, item) {
				found = true
				break
			}
		}
		return found == (c.Op == OpIn)
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := compare(r, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpContains:
		if r.IsArray() {
			for _, el := range r.Array() {
				if equal(el, c.Value) {
					return true
				}
			}
			return false
		}
		s, ok := c.Value.(string)
		return ok && r.Type == gjson.String && strings.Contains(r.Str, s)
	case OpPrefix:
		s, ok := c.Value.(string)
		return ok && r.Type == gjson.String && strings.HasPrefix(r.Str, s)
	case OpMatches:
		s, ok := c.Value.(string)
		if !ok || r.Type != gjson.String {
			return false
		}
		re, err := compilePattern(s)
		return err == nil && re.MatchString(r.Str)
	}
	return false
}

func equal(r gjson.Result, want interface{}) bool {
	if want == nil {
		return r.Type == gjson.Null
	}
	if f, ok := toFloat(want); ok {
		return r.Type == gjson.Number && r.Num == f
	}
	switch w := want.(type) {
	case string:
		return r.Type == gjson.String && r.Str == w
	case bool:
		return (r.Type == gjson.True && w) || (r.Type == gjson.False && !w)
	}
	return false
}

// compare orders r against want. Numbers compare numerically and strings
// lexically; mixed types are not comparable.
func compare(r gjson.Result, want interface{}) (int, bool) {
	if f, ok := toFloat(want); ok {
		if r.Type != gjson.Number || math.IsNaN(r.Num) {
			return 0, false
		}
		switch {
		case r.Num < f:
			return -1, true
		case r.Num > f:
			return 1, true
		}
		return 0, true
	}
	if s, ok := want.(string); ok && r.Type == gjson.String {
		return strings.Compare(r.Str, s), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
