// internal/content/frontmatter.go
//
// Front matter is a block at the very start of a file, optionally after a
// UTF-8 BOM, delimited either by "/*" ... "*/" or by "---" ... "---". The
// block body is YAML.
package content

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
	titleLayout    = "02.01.2006"

	// integer titles above this are unix timestamps
	titleTimestampThreshold = 1_000_000_000
)

// RE2 has no conditional groups, so each delimiter style gets its own
// pattern. Group 1 is the block body and is absent for an empty block.
var frontMatterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)^(?:\x{FEFF})?/\*[[:blank:]]*\r?\n(?:(.*?)\r?\n)?\*/[[:blank:]]*(?:\r?\n|$)`),
	regexp.MustCompile(`(?s)^(?:\x{FEFF})?---[[:blank:]]*\r?\n(?:(.*?)\r?\n)?---[[:blank:]]*(?:\r?\n|$)`),
}

// matchFrontMatter returns the [start,end) of the whole block and the block
// body; hasBody is false when there is no block or the block is empty.
func matchFrontMatter(raw string) (end int, body string, hasBody bool, found bool) {
	for _, re := range frontMatterPatterns {
		m := re.FindStringSubmatchIndex(raw)
		if m == nil {
			continue
		}
		if m[2] >= 0 {
			return m[1], raw[m[2]:m[3]], true, true
		}
		return m[1], "", false, true
	}
	return 0, "", false, false
}

// StripFrontMatter removes the leading front matter block, if any.
func StripFrontMatter(raw string) string {
	end, _, _, found := matchFrontMatter(raw)
	if !found {
		return raw
	}
	return raw[end:]
}

// ParseMeta extracts and normalizes the front matter of raw. The result
// always holds every header key; missing ones are "". A YAML error is
// returned as-is so the caller can decide how to record it.
func ParseMeta(raw string, headers []Header) (Meta, error) {
	_, body, hasBody, _ := matchFrontMatter(raw)
	if !hasBody {
		meta := make(Meta, len(headers))
		for _, h := range headers {
			meta[h.Key] = ""
		}
		return meta, nil
	}

	var doc any
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, err
	}
	meta := toMeta(doc)

	if n, ok := titleTimestamp(meta[KeyTitle]); ok {
		meta[KeyTitle] = time.Unix(n, 0).UTC().Format(titleLayout)
	}

	for _, h := range headers {
		if v, ok := meta[h.Name]; ok && v != nil {
			if h.Key != h.Name {
				meta[h.Key] = v
				delete(meta, h.Name)
			}
		} else if v, ok := meta[h.Key]; !ok || v == nil {
			meta[h.Key] = ""
		}
	}

	reconcileDateTime(meta)
	return meta, nil
}

func toMeta(doc any) Meta {
	switch v := doc.(type) {
	case nil:
		return Meta{}
	case map[string]any:
		return Meta(v)
	case map[any]any:
		m := make(Meta, len(v))
		for k, val := range v {
			m[fmt.Sprint(k)] = val
		}
		return m
	default:
		return Meta{KeyTitle: v}
	}
}

func titleTimestamp(v any) (int64, bool) {
	n, ok := asInt(v)
	if !ok {
		s, isStr := v.(string)
		if !isStr {
			return 0, false
		}
		var err error
		if n, err = strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
			return 0, false
		}
	}
	return n, n > titleTimestampThreshold
}

// reconcileDateTime keeps date (text) and time (unix seconds) consistent.
// YAML may hand back an integer date; that one is really a timestamp.
func reconcileDateTime(meta Meta) {
	if isEmpty(meta[KeyDate]) && isEmpty(meta[KeyTime]) {
		meta[KeyDate] = ""
		meta[KeyTime] = ""
		return
	}
	if _, ok := asInt(meta[KeyDate]); ok {
		meta[KeyTime] = meta[KeyDate]
		meta[KeyDate] = ""
	} else if t, ok := meta[KeyDate].(time.Time); ok {
		meta[KeyTime] = t.Unix()
		meta[KeyDate] = ""
	}

	switch {
	case isEmpty(meta[KeyTime]):
		if t, ok := parseDate(meta.Text(KeyDate)); ok {
			meta[KeyTime] = t.Unix()
		} else {
			meta[KeyTime] = ""
		}
	case isEmpty(meta[KeyDate]):
		n, ok := asTimestamp(meta[KeyTime])
		if !ok {
			return
		}
		t := time.Unix(n, 0).UTC()
		layout := dateTimeLayout
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			layout = dateLayout
		}
		meta[KeyDate] = t.Format(layout)
	}
}

var dateInputLayouts = []string{
	dateLayout,
	dateTimeLayout,
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
	"02.01.2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// parseDate accepts the date spellings authors commonly write; all are
// read as UTC unless they carry an offset.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateInputLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// encodeSkip lists computed keys that never go back to disk.
var encodeSkip = map[string]bool{
	KeyParentPath: true,
	KeyParseError: true,
}

// EncodeFrontMatter renders meta as a "---" YAML block followed by body.
// Keys are written in sorted order; empty strings and computed keys are
// left out.
func EncodeFrontMatter(meta Meta, body string) ([]byte, error) {
	keys := make([]string, 0, len(meta))
	for k, v := range meta {
		if encodeSkip[k] || v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		var val yaml.Node
		if err := val.Encode(meta[k]); err != nil {
			return nil, fmt.Errorf("encode meta %q: %w", k, err)
		}
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&val,
		)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	if len(keys) > 0 {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode front matter: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode front matter: %w", err)
		}
	}
	buf.WriteString("---\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}
