// Package sanitize defends downstream analysis from adversarial content.
//
// Collected text originates from untrusted external sources and may embed
// role-switching or instruction-override markers aimed at whatever model
// later interprets it. StripInjection removes such segments before analysis;
// Redact masks sensitive keys before payloads are logged or persisted.
package sanitize

import (
	"regexp"
	"strings"
)

// Mask replaces the value of every sensitive key during redaction.
const Mask = "***"

// injectionMarkers open an instruction-override attempt. Matching is
// case-insensitive and consumes everything to the end of the line.
var injectionMarkers = []string{
	`system\s*:`,
	`assistant\s*:`,
	`ignore\s+(all\s+)?previous\s+instructions`,
	`ignore\s+(all\s+)?prior\s+instructions`,
	`disregard\s+(all\s+)?previous\s+instructions`,
	`forget\s+(all\s+)?previous\s+instructions`,
	`new\s+instructions\s*:`,
	`you\s+are\s+now\s+`,
	`<\|im_start\|>`,
	`\[system\]`,
	`\[/?inst\]`,
}

var injectionRe = regexp.MustCompile(`(?im)(` + strings.Join(injectionMarkers, "|") + `).*$`)

// sensitiveKeys are matched as substrings of structure keys, case-insensitive.
var sensitiveKeys = []string{
	"token",
	"secret",
	"password",
	"passwd",
	"api_key",
	"apikey",
	"authorization",
	"cookie",
	"credential",
	"private_key",
}

// StripInjection removes, per line, everything from the first recognized
// injection marker to the end of that line. It is idempotent: stripping an
// already-stripped text is a no-op.
func StripInjection(text string) string {
	if text == "" {
		return ""
	}
	stripped := injectionRe.ReplaceAllString(text, "")
	lines := strings.Split(stripped, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// Redact walks an arbitrary decoded structure and replaces the value of any
// key whose name contains a sensitive substring with Mask, preserving the
// shape of maps and slices. The input is not modified.
func Redact(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if sensitiveKey(key) {
				out[key] = Mask
				continue
			}
			out[key] = Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Redact(item)
		}
		return out
	default:
		return value
	}
}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
