package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Params is the parameter mapping of one call. Values arrive as decoded
// JSON from HTTP callers and as strings from the CLI, so accessors coerce.
type Params map[string]any

func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// StringOr returns def when key is missing or empty.
func (p Params) StringOr(key, def string) string {
	if s := p.String(key); s != "" {
		return s
	}
	return def
}

// Bool accepts true and the strings "True", "true" and "TRUE".
func (p Params) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		return v == "True" || v == "true" || v == "TRUE"
	}
	return false
}

// Int returns def when key is missing or not a number.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// ImageFiles returns the URLs of attached files whose type is image. A
// string value is read as a comma separated URL list.
func (p Params) ImageFiles(key string) []string {
	var urls []string
	switch v := p[key].(type) {
	case string:
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
	case []any:
		for _, item := range v {
			f, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := f["type"].(string); t != "image" {
				continue
			}
			if u, _ := f["url"].(string); u != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls
}
