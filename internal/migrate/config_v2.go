package migrate

import "fmt"

// Config is the schema of config.toml.
var Config = NewSchema(statusMillis)

// secondsToMillis lists v1 [status] keys renamed to millisecond keys in v2.
var secondsToMillis = map[string]string{
	"streaming_window_seconds":   "streaming_window_ms",
	"tool_active_window_seconds": "tool_active_window_ms",
}

// statusMillis converts second-granularity liveness windows to milliseconds
// so sub-second streaming windows can be expressed.
var statusMillis = Step{
	To:    2,
	Note:  "status windows in milliseconds",
	Apply: upgradeStatusMillis,
}

func upgradeStatusMillis(doc map[string]any) error {
	st, ok := doc["status"].(map[string]any)
	if !ok {
		return nil
	}
	for oldKey, newKey := range secondsToMillis {
		v, ok := st[oldKey]
		if !ok {
			continue
		}
		delete(st, oldKey)
		switch n := v.(type) {
		case int64:
			st[newKey] = n * 1000
		case float64:
			st[newKey] = int64(n * 1000)
		default:
			return fmt.Errorf("status.%s: expected a number, got %T", oldKey, v)
		}
	}
	return nil
}
