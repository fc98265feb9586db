package logging

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// encodeEntry renders one log line, newline included
func encodeEntry(format Format, now time.Time, level Level, msg string, err error, fields Fields) ([]byte, error) {
	if format == FormatJSON {
		entry := make(map[string]interface{}, len(fields)+4)
		for k, v := range fields {
			entry[k] = v
		}
		entry["timestamp"] = now.UTC().Format(time.RFC3339Nano)
		entry["level"] = LevelString(level)
		entry["message"] = msg
		if err != nil {
			entry["error"] = err.Error()
		}
		data, jsonErr := json.Marshal(entry)
		if jsonErr != nil {
			return nil, jsonErr
		}
		return append(data, '\n'), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", now.UTC().Format("2006-01-02T15:04:05.000Z"), LevelString(level), msg)
	if err != nil {
		fmt.Fprintf(&b, " error=%q", err.Error())
	}

	// Stable field order keeps text logs diffable
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
