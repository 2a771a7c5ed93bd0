package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	flattenMaxDepth = 8
	flattenMaxKeys  = 512
)

// flattenFields turns one decoded JSON item into dotted, lower-cased keys
// with string values. A "content" field holding a JSON string is expanded
// like a nested object.
func flattenFields(item any) map[string]string {
	out := make(map[string]string)
	flattenInto(out, "", item, 0)
	return out
}

func flattenInto(out map[string]string, prefix string, value any, depth int) {
	if len(out) >= flattenMaxKeys || depth > flattenMaxDepth {
		return
	}
	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			key := strings.ToLower(strings.TrimSpace(k))
			if prefix != "" {
				key = prefix + "." + key
			}
			flattenInto(out, key, child, depth+1)
		}
	case []any:
		for i, child := range v {
			flattenInto(out, prefix+"["+strconv.Itoa(i)+"]", child, depth+1)
		}
	case string:
		if prefix == "content" {
			var nested map[string]any
			if s := strings.TrimSpace(v); strings.HasPrefix(s, "{") && json.Unmarshal([]byte(s), &nested) == nil {
				flattenInto(out, prefix, nested, depth)
				return
			}
		}
		out[keyOrValue(prefix)] = v
	case nil:
	case json.Number:
		out[keyOrValue(prefix)] = v.String()
	default:
		out[keyOrValue(prefix)] = fmt.Sprint(v)
	}
}

func keyOrValue(prefix string) string {
	if prefix == "" {
		return "value"
	}
	return prefix
}
