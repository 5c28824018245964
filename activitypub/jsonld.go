package activitypub

// Accessors for decoded JSON-LD documents. Remote servers are free to send a
// bare string, an object or a list for most properties.

func str(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

// idOf returns the id of a property that is either a URL or an embedded object.
func idOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return idOf(t["id"])
	case []any:
		if len(t) > 0 {
			return idOf(t[0])
		}
	}
	return ""
}

// idList normalizes a to/cc style property to a list of ids.
func idList(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if id := idOf(item); id != "" {
				out = append(out, id)
			}
		}
		return out
	case []string:
		return append([]string{}, t...)
	default:
		if id := idOf(t); id != "" {
			return []string{id}
		}
		return []string{}
	}
}

func objects(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return []map[string]any{t}
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func totalItems(v any) int {
	m, ok := v.(map[string]any)
	if !ok {
		if n, ok := v.(float64); ok {
			return int(n)
		}
		return 0
	}
	n, _ := m["totalItems"].(float64)
	return int(n)
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// uniq drops empty and repeated values, keeping order.
func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
