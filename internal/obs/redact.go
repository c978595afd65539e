package obs

import (
	"regexp"
	"strings"
)

// Redaction placeholder written in place of sensitive values.
const Redaction = "***"

// sensitiveFields are field names whose values must never reach a log line.
var sensitiveFields = []string{
	"password",
	"old_password",
	"new_password",
	"secret",
	"token",
	"refresh_token",
	"access_token",
	"authorization",
}

var sensitivePattern = regexp.MustCompile(
	`(?i)(` + strings.Join(sensitiveFields, "|") + `)=[^;&\s]+`,
)

// RedactMessage rewrites key=value pairs for sensitive keys inside a free-form
// message, e.g. "password=hunter2" becomes "password=***".
func RedactMessage(message string) string {
	return sensitivePattern.ReplaceAllStringFunc(message, func(m string) string {
		idx := strings.Index(m, "=")
		return m[:idx+1] + Redaction
	})
}

// RedactFields returns a copy of the entry with sensitive field values replaced.
// Nested string values pass through RedactMessage so embedded credentials in
// free-form text are caught as well.
func RedactFields(entry map[string]any) map[string]any {
	if len(entry) == 0 {
		return entry
	}
	out := make(map[string]any, len(entry))
	for k, v := range entry {
		if isSensitiveField(k) {
			out[k] = Redaction
			continue
		}
		switch t := v.(type) {
		case string:
			out[k] = RedactMessage(t)
		case map[string]any:
			out[k] = RedactFields(t)
		default:
			out[k] = v
		}
	}
	return out
}

func isSensitiveField(name string) bool {
	name = strings.ToLower(name)
	for _, f := range sensitiveFields {
		if name == f {
			return true
		}
	}
	return false
}
