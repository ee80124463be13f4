package content

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"
)

// Well-known meta keys. Anything else an author writes is kept as-is.
const (
	KeyTitle       = "title"
	KeyDescription = "description"
	KeyAuthor      = "author"
	KeyDate        = "date"
	KeyTime        = "time"
	KeyRobots      = "robots"
	KeyTemplate    = "template"
	KeyHidden      = "hidden"
	KeyOwner       = "owner"
	KeyDateCreated = "dateCreated"
	KeyDateUpdated = "dateUpdated"
	KeyParentPath  = "parentPath"
	KeyRenderer    = "renderer"
	KeySecurity    = "security"
	KeyMinRole     = "minRole"
	KeyParseError  = "YAML_ParseError"
)

// Header maps a display label an author may use to its canonical key.
type Header struct {
	Name string
	Key  string
}

// DefaultHeaders is the label/key set every page's meta is normalized against.
var DefaultHeaders = []Header{
	{"Title", KeyTitle},
	{"Description", KeyDescription},
	{"Author", KeyAuthor},
	{"Date", KeyDate},
	{"Time", KeyTime},
	{"Robots", KeyRobots},
	{"Template", KeyTemplate},
	{"Hidden", KeyHidden},
}

// Security is a page's visibility classification.
type Security string

const (
	SecurityPublic    Security = "PUBLIC"
	SecurityPrivate   Security = "PRIVATE"
	SecurityProtected Security = "PROTECTED"
)

// Meta is a page's parsed front matter.
type Meta map[string]any

// Text returns the value at key rendered as text; missing keys are "".
func (m Meta) Text(key string) string { return metaString(m[key]) }

func (m Meta) Title() string    { return m.Text(KeyTitle) }
func (m Meta) Owner() string    { return m.Text(KeyOwner) }
func (m Meta) Renderer() string { return strings.TrimSpace(m.Text(KeyRenderer)) }
func (m Meta) MinRole() string  { return strings.TrimSpace(m.Text(KeyMinRole)) }
func (m Meta) Hidden() bool     { return truthy(m[KeyHidden]) }

// Security classifies the page; absent or empty means PUBLIC. Values are
// matched case-insensitively and returned upper-cased.
func (m Meta) Security() Security {
	s := strings.ToUpper(strings.TrimSpace(m.Text(KeySecurity)))
	if s == "" {
		return SecurityPublic
	}
	return Security(s)
}

// Clone returns a shallow copy.
func (m Meta) Clone() Meta {
	if m == nil {
		return Meta{}
	}
	return maps.Clone(m)
}

func metaString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return ""
	case time.Time:
		return x.UTC().Format(dateTimeLayout)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// isEmpty follows the loose "no value" notion authors expect from
// front matter: nil, "", "0", false and numeric zero are all empty.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == "" || x == "0"
	case bool:
		return !x
	case time.Time:
		return x.IsZero()
	}
	if n, ok := asInt(v); ok {
		return n == 0
	}
	if f, ok := v.(float64); ok {
		return f == 0
	}
	return false
}

func truthy(v any) bool {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "", "0", "false", "no", "off":
			return false
		}
		return true
	}
	return !isEmpty(v)
}

// asInt reports integer-typed values; yaml.v3 decodes plain integers as int.
func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case uint:
		return int64(x), true
	}
	return 0, false
}

// plainValue undoes what a JSON round trip does to meta values: numbers
// come back as json.Number or float64, and whole ones must be written as
// integers again. Maps and lists are converted element by element.
func plainValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return plainValue(f)
		}
		return x.String()
	case float64:
		if x == math.Trunc(x) && math.Abs(x) <= 1<<53 {
			return int64(x)
		}
		return x
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plainValue(e)
		}
		return out
	case Meta:
		return Meta(plainValue(map[string]any(x)).(map[string]any))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plainValue(e)
		}
		return out
	}
	return v
}

// asTimestamp accepts integers, numeric strings and time.Time.
func asTimestamp(v any) (int64, bool) {
	if n, ok := asInt(v); ok {
		return n, true
	}
	switch x := v.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	case time.Time:
		return x.Unix(), true
	case float64:
		return int64(x), true
	}
	return 0, false
}
