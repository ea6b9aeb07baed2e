package actions

import (
	"strconv"
	"strings"
)

// Param returns a parameter value, or def when the key is absent or empty.
func Param(params map[string]string, name, def string) string {
	if v, ok := params[name]; ok && v != "" {
		return v
	}
	return def
}

// BoolParam interprets common spellings of truth: "true", "yes", "y", "1",
// "on" and their negations. Anything else yields def.
func BoolParam(params map[string]string, name string, def bool) bool {
	v, ok := params[name]
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "yes", "y", "1", "on":
		return true
	case "false", "no", "n", "0", "off":
		return false
	}
	return def
}

// IntParam parses an integer parameter, returning def when the key is
// absent or the value does not parse.
func IntParam(params map[string]string, name string, def int) int {
	v, ok := params[name]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
