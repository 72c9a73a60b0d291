package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/inboxkit/mailflow/internal/record"
)

// toFloat64 coerces a numeric value to float64.
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case record.Priority:
		return float64(n.Rank()), true
	case string:
		s := strings.TrimSpace(n)
		if r := record.Priority(strings.ToLower(s)).Rank(); r > 0 {
			return float64(r), true
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

// toString renders a field value for string operators. Tag slices
// join with commas so contains-style checks see every tag.
func toString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []string:
		return strings.Join(s, ", ")
	case record.Priority:
		return string(s)
	case time.Time:
		return s.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func isEmptyValue(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []string:
		return len(x) == 0
	case int64:
		return x == 0
	case float64:
		return x == 0
	case bool:
		return !x
	}
	return false
}

// stringCompare applies a case-insensitive string operator.
func stringCompare(op Operator, actual, expected string) (bool, error) {
	a := strings.ToLower(actual)
	e := strings.ToLower(expected)
	switch op {
	case OpContains:
		return strings.Contains(a, e), nil
	case OpNotContains:
		return !strings.Contains(a, e), nil
	case OpEquals:
		return a == e, nil
	case OpNotEquals:
		return a != e, nil
	case OpStartsWith:
		return strings.HasPrefix(a, e), nil
	case OpEndsWith:
		return strings.HasSuffix(a, e), nil
	}
	return false, fmt.Errorf("not a string operator: %s", op)
}

// numericCompare applies a numeric operator. Non-numeric operands fail
// closed: the predicate is false rather than an error the caller must
// escalate.
func numericCompare(op Operator, actual interface{}, expected interface{}) bool {
	a, ok := toFloat64(actual)
	if !ok {
		return false
	}
	switch op {
	case OpGreaterThan:
		e, ok := toFloat64(expected)
		return ok && a > e
	case OpLessThan:
		e, ok := toFloat64(expected)
		return ok && a < e
	case OpEquals:
		e, ok := toFloat64(expected)
		return ok && a == e
	case OpNotEquals:
		e, ok := toFloat64(expected)
		return ok && a != e
	case OpBetween:
		lo, hi, ok := betweenBounds(expected)
		return ok && a >= lo && a <= hi
	}
	return false
}

// betweenBounds accepts [lo, hi] as a two-element slice or a
// "lo,hi" / "lo..hi" string.
func betweenBounds(v interface{}) (float64, float64, bool) {
	switch b := v.(type) {
	case []interface{}:
		if len(b) != 2 {
			return 0, 0, false
		}
		lo, ok1 := toFloat64(b[0])
		hi, ok2 := toFloat64(b[1])
		return lo, hi, ok1 && ok2
	case string:
		sep := ","
		if strings.Contains(b, "..") {
			sep = ".."
		}
		parts := strings.SplitN(b, sep, 2)
		if len(parts) != 2 {
			return 0, 0, false
		}
		lo, ok1 := toFloat64(parts[0])
		hi, ok2 := toFloat64(parts[1])
		return lo, hi, ok1 && ok2
	}
	return 0, 0, false
}

// resolveTimeValue turns a date operand into an absolute time.
// Relative tokens resolve against the evaluation clock so results are
// deterministic within one pass.
func resolveTimeValue(v interface{}, now time.Time) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(toString(v)))
	switch s {
	case "now":
		return now, nil
	case "today":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
	case "this_week":
		y, m, d := now.Date()
		midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
		offset := (int(now.Weekday()) + 6) % 7 // Monday start
		return midnight.AddDate(0, 0, -offset), nil
	case "this_month":
		y, m, _ := now.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, now.Location()), nil
	}
	// Duration tokens like "24h", "7d".
	if n, ok := strings.CutSuffix(s, "d"); ok {
		if days, err := strconv.Atoi(n); err == nil {
			return now.AddDate(0, 0, -days), nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(toString(v))); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unparseable date value %q", s)
}

func dateCompare(op Operator, actual time.Time, expected interface{}, now time.Time) (bool, error) {
	ref, err := resolveTimeValue(expected, now)
	if err != nil {
		return false, err
	}
	switch op {
	case OpBefore:
		return actual.Before(ref), nil
	case OpAfter:
		return actual.After(ref), nil
	case OpWithin:
		return !actual.Before(ref) && !actual.After(now), nil
	}
	return false, fmt.Errorf("not a date operator: %s", op)
}

// compiledPattern caches one compile outcome. Errors cache too, so a
// malformed pattern is not recompiled on every evaluation.
type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// regexCache is shared across concurrent evaluations. Keyed on the
// pattern text itself, so a rule update that swaps the pattern never
// hits a stale compile. Population uses a first-writer-wins race;
// duplicate compilation is acceptable, inconsistent state is not.
type regexCache struct {
	m sync.Map // pattern -> *compiledPattern
}

func (c *regexCache) get(pattern string) (*regexp.Regexp, error) {
	if v, ok := c.m.Load(pattern); ok {
		cp := v.(*compiledPattern)
		return cp.re, cp.err
	}
	re, err := regexp.Compile("(?i)" + pattern)
	v, _ := c.m.LoadOrStore(pattern, &compiledPattern{re: re, err: err})
	cp := v.(*compiledPattern)
	return cp.re, cp.err
}
