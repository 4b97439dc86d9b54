package bounty

import "strings"

// sensitiveKeys is the pre-persistence denylist for task_descriptor keys.
// A descriptor carrying any of these (at any nesting depth) is rejected with
// task_descriptor_sensitive at bounty-creation time, before it is ever
// stored or redacted to a worker.
var sensitiveKeys = map[string]struct{}{
	"api_token": {},
	"secret":    {},
	"password":  {},
}

// FindSensitiveKey walks the descriptor and returns the first denylisted key
// encountered, or "" if none.
func FindSensitiveKey(v any) string {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if _, bad := sensitiveKeys[strings.ToLower(k)]; bad {
				return k
			}
			if found := FindSensitiveKey(val); found != "" {
				return found
			}
		}
	case []any:
		for _, item := range t {
			if found := FindSensitiveKey(item); found != "" {
				return found
			}
		}
	}
	return ""
}

// RedactForWorker returns a copy of the descriptor with denylisted keys
// removed, safe to hand to an anonymous worker via /jobs/next.
func RedactForWorker(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		if _, bad := sensitiveKeys[strings.ToLower(k)]; bad {
			continue
		}
		out[k] = redactValue(val)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return RedactForWorker(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}
