package outcome

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Analysis is the canonical structured summary of a call
type Analysis struct {
	Sentiment   string   `json:"sentiment,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Objections  []string `json:"objections,omitempty"`
	KeyQuotes   []string `json:"keyQuotes,omitempty"`
	IssuesToFix []string `json:"issuesToFix,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	NextAction  string   `json:"nextAction,omitempty"`
	FollowUp    string   `json:"followUp,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Summary     string   `json:"summary,omitempty"`

	// Source is the payload the analysis was read from, re-encoded as JSON.
	Source string `json:"-"`
}

// TagsCSV joins tags for storage
func (a Analysis) TagsCSV() string {
	return strings.Join(a.Tags, ",")
}

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// ParseAnalysisText extracts structured analysis from free-form model output.
// It tries strict JSON, then fenced code blocks, then the first balanced
// {...} object. When all fail it returns the text as a raw fallback with
// ok == false.
func ParseAnalysisText(text string) (Analysis, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Analysis{}, false
	}

	candidates := []string{text}
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if obj := firstBalancedObject(text); obj != "" {
		candidates = append(candidates, obj)
	}

	for _, c := range candidates {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(c), &m); err != nil {
			continue
		}
		if a, ok := AnalysisFromMap(m); ok {
			return a, true
		}
	}

	raw, _ := json.Marshal(map[string]string{"raw": text})
	return Analysis{Source: string(raw)}, false
}

// firstBalancedObject returns the first {...} span with balanced braces,
// ignoring braces inside JSON strings.
func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString, escaped := false, false
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
					return s[start : i+1]
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			return ""
		}
		start += next + 1
	}
	return ""
}

// AnalysisFromMap maps a loosely typed analysis object onto Analysis.
// List fields accept arrays or comma/pipe separated strings. A nested
// "structuredData" object takes precedence over top-level keys.
func AnalysisFromMap(m map[string]interface{}) (Analysis, bool) {
	if len(m) == 0 {
		return Analysis{}, false
	}

	fields := make(map[string]interface{}, len(m))
	for k, v := range m {
		fields[normalizeKey(k)] = v
	}
	if sd, ok := m["structuredData"].(map[string]interface{}); ok {
		for k, v := range sd {
			fields[normalizeKey(k)] = v
		}
	}

	a := Analysis{
		Sentiment:   strings.ToLower(stringOf(fields["sentiment"])),
		Tags:        toStringList(fields["tags"]),
		Objections:  toStringList(fields["objections"]),
		KeyQuotes:   toStringList(fields["keyquotes"]),
		IssuesToFix: toStringList(fields["issuestofix"]),
		Reason:      stringOf(fields["reason"]),
		NextAction:  stringOf(fields["nextaction"]),
		FollowUp:    stringOf(fields["followup"]),
		Summary:     stringOf(fields["summary"]),
	}
	if c, ok := toFloat(fields["confidence"]); ok {
		a.Confidence = &c
	}

	src, err := json.Marshal(m)
	if err == nil {
		a.Source = string(src)
	}

	return a, true
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "_", "")
	return strings.ReplaceAll(k, "-", "")
}

func toStringList(v interface{}) []string {
	var parts []string
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		for _, item := range t {
			parts = append(parts, stringOf(item))
		}
	case string:
		parts = strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == '|' })
	default:
		parts = []string{stringOf(t)}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
