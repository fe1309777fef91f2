package tool

import "strings"

// RedactedValue replaces sensitive argument values in log output.
const RedactedValue = "**********"

// sensitiveKeywords flags argument keys whose values must never reach
// logs. Matching is case-insensitive on substring.
var sensitiveKeywords = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"api_key",
	"apikey",
	"credential",
	"private_key",
}

// RedactArguments returns a deep copy of an argument map with sensitive
// values masked, recursing into nested maps and slices. The input is
// never mutated.
func RedactArguments(arguments map[string]any) map[string]any {
	if arguments == nil {
		return nil
	}
	out := make(map[string]any, len(arguments))
	for key, value := range arguments {
		if isSensitiveKey(key) {
			out[key] = RedactedValue
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

func redactValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return RedactArguments(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(item)
		}
		return out
	default:
		return value
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
