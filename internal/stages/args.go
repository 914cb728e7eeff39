package stages

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/errkind"
)

// DateLayout is the wire format of date arguments.
const DateLayout = "2006-01-02"

// Args is the merged argument bundle handed to an operation.
type Args map[string]any

// ArgError reports an argument that is missing or of the wrong type.
type ArgError struct {
	Name   string
	Reason string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("argument %q: %s", e.Name, e.Reason)
}

func (e *ArgError) Kind() errkind.Kind { return errkind.Validation }

// Has reports whether name is present and not null.
func (a Args) Has(name string) bool {
	v, ok := a[name]
	return ok && v != nil
}

// String returns a required string argument.
func (a Args) String(name string) (string, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return "", &ArgError{Name: name, Reason: "is required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ArgError{Name: name, Reason: fmt.Sprintf("want string, got %T", v)}
	}
	return s, nil
}

// OptString returns a string argument or def when absent.
func (a Args) OptString(name, def string) (string, error) {
	if !a.Has(name) {
		return def, nil
	}
	return a.String(name)
}

// Strings returns a list of strings. A comma separated string is accepted.
func (a Args) Strings(name string) ([]string, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return nil, &ArgError{Name: name, Reason: "is required"}
	}

	switch t := v.(type) {
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, &ArgError{Name: name, Reason: fmt.Sprintf("element %d: want string, got %T", i, item)}
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		var out []string
		for _, part := range strings.Split(t, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return nil, &ArgError{Name: name, Reason: fmt.Sprintf("want list of strings, got %T", v)}
	}
}

// Date returns a YYYY-MM-DD argument as midnight UTC.
func (a Args) Date(name string) (time.Time, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return time.Time{}, &ArgError{Name: name, Reason: "is required"}
	}

	switch t := v.(type) {
	case time.Time:
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case string:
		d, err := time.Parse(DateLayout, strings.TrimSpace(t))
		if err != nil {
			return time.Time{}, &ArgError{Name: name, Reason: fmt.Sprintf("want YYYY-MM-DD, got %q", t)}
		}
		return d, nil
	default:
		return time.Time{}, &ArgError{Name: name, Reason: fmt.Sprintf("want date string, got %T", v)}
	}
}

// Int returns an integer argument. JSON numbers arrive as float64 and are
// accepted when integral.
func (a Args) Int(name string) (int, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return 0, &ArgError{Name: name, Reason: "is required"}
	}

	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, &ArgError{Name: name, Reason: fmt.Sprintf("want integer, got %v", t)}
		}
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, &ArgError{Name: name, Reason: fmt.Sprintf("want integer, got %s", t)}
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, &ArgError{Name: name, Reason: fmt.Sprintf("want integer, got %q", t)}
		}
		return n, nil
	default:
		return 0, &ArgError{Name: name, Reason: fmt.Sprintf("want integer, got %T", v)}
	}
}

// OptBool returns a boolean argument or def when absent.
func (a Args) OptBool(name string, def bool) (bool, error) {
	if !a.Has(name) {
		return def, nil
	}
	switch t := a[name].(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, &ArgError{Name: name, Reason: fmt.Sprintf("want boolean, got %q", t)}
		}
		return b, nil
	default:
		return false, &ArgError{Name: name, Reason: fmt.Sprintf("want boolean, got %T", t)}
	}
}
