package normalizer

import (
	"encoding/json"
	"sort"
	"strconv"
)

// ExtractAnswers finds the first "answers" node in depth-first order (object
// keys visited in sorted order) and maps question numbers to answers. Entries
// with an empty number or answer are skipped.
func ExtractAnswers(value any) map[string]string {
	out := make(map[string]string)
	node, ok := findField(value, "answers")
	if !ok {
		return out
	}
	switch t := node.(type) {
	case []any:
		for _, item := range t {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			num := scalarString(entry["question_number"])
			ans := scalarString(entry["answer"])
			if num == "" || ans == "" {
				continue
			}
			out[num] = ans
		}
	case map[string]any:
		for k, v := range t {
			if s := scalarString(v); k != "" && s != "" {
				out[k] = s
			}
		}
	}
	return out
}

func findField(value any, name string) (any, bool) {
	switch t := value.(type) {
	case map[string]any:
		if v, ok := t[name]; ok {
			return v, true
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if v, ok := findField(t[k], name); ok {
				return v, true
			}
		}
	case []any:
		for _, item := range t {
			if v, ok := findField(item, name); ok {
				return v, true
			}
		}
	}
	return nil, false
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
