package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"opto-import/internal/schema"
)

// Rule is one declarative field check.
type Rule struct {
	Message  string
	Expected string
	// Check receives the trimmed value and whether the field carried any
	// value at all.
	Check func(value string, present bool) bool
}

// Required rejects absent or empty values.
func Required() Rule {
	return Rule{
		Message:  "value is required",
		Expected: "non-empty value",
		Check:    func(v string, present bool) bool { return present && v != "" },
	}
}

// Decimal rejects non-empty values that do not parse as a decimal number.
func Decimal() Rule {
	return Rule{
		Message:  "value is not a number",
		Expected: "decimal number",
		Check: func(v string, _ bool) bool {
			if v == "" {
				return true
			}
			_, err := decimal.NewFromString(v)
			return err == nil
		},
	}
}

// Date rejects non-empty values that do not match the given layout.
func Date(layout string) Rule {
	return Rule{
		Message:  "value is not a valid date",
		Expected: "date in format " + layout,
		Check: func(v string, _ bool) bool {
			if v == "" {
				return true
			}
			_, err := time.Parse(layout, v)
			return err == nil
		},
	}
}

// MaxLen rejects values longer than n runes.
func MaxLen(n int) Rule {
	return Rule{
		Message:  fmt.Sprintf("value exceeds %d characters", n),
		Expected: fmt.Sprintf("at most %d characters", n),
		Check:    func(v string, _ bool) bool { return len([]rune(v)) <= n },
	}
}

// OneOf rejects non-empty values outside the allowed set.
func OneOf(allowed ...string) Rule {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return Rule{
		Message:  "value is not in the allowed set",
		Expected: strings.Join(allowed, ", "),
		Check: func(v string, _ bool) bool {
			if v == "" {
				return true
			}
			_, ok := set[v]
			return ok
		},
	}
}

// Rules is a declarative RecordValidator: per-field rule lists. Values are
// trimmed before checking and the trimmed form is what gets loaded.
type Rules map[string][]Rule

// Validate implements RecordValidator.
func (r Rules) Validate(rec *schema.Record) (*schema.Record, []FieldFailure) {
	var failures []FieldFailure
	for _, name := range rec.Names() {
		raw, present := rec.Get(name)
		trimmed := strings.TrimSpace(raw)
		for _, rule := range r[name] {
			if rule.Check(trimmed, present) {
				continue
			}
			received := raw
			if !present {
				received = NoValue
			}
			failures = append(failures, FieldFailure{
				Field:    name,
				Message:  rule.Message,
				Expected: rule.Expected,
				Received: received,
			})
		}
		rec.Set(name, trimmed)
	}
	if len(failures) > 0 {
		return nil, failures
	}
	return rec, nil
}
