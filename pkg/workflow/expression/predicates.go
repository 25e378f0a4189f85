package expression

import (
	"reflect"
	"regexp"
	"strings"
)

// existsFunc reports whether its argument is present and non-nil.
// Usage: exists(steps.fetch.content)
func existsFunc(args ...interface{}) (interface{}, error) {
	if len(args) != 1 {
		return false, nil
	}
	return args[0] != nil, nil
}

// notExistsFunc is the negation of existsFunc.
// Usage: not_exists(steps.fetch.error)
func notExistsFunc(args ...interface{}) (interface{}, error) {
	v, _ := existsFunc(args...)
	present, _ := v.(bool)
	return !present, nil
}

// startsWithFunc reports whether a string has the given prefix.
// Usage: starts_with(inputs.path, "/tmp")
func startsWithFunc(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return false, nil
	}
	s, ok1 := args[0].(string)
	prefix, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return false, nil
	}
	return strings.HasPrefix(s, prefix), nil
}

// endsWithFunc reports whether a string has the given suffix.
// Usage: ends_with(inputs.path, ".json")
func endsWithFunc(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return false, nil
	}
	s, ok1 := args[0].(string)
	suffix, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return false, nil
	}
	return strings.HasSuffix(s, suffix), nil
}

// isNumberFunc reports whether its argument is an int or float.
// Usage: is_number(steps.compute.result)
func isNumberFunc(args ...interface{}) (interface{}, error) {
	if len(args) != 1 {
		return false, nil
	}
	switch args[0].(type) {
	case int, int32, int64, float32, float64:
		return true, nil
	default:
		return false, nil
	}
}

// isStringFunc reports whether its argument is a string.
// Usage: is_string(steps.fetch.content)
func isStringFunc(args ...interface{}) (interface{}, error) {
	if len(args) != 1 {
		return false, nil
	}
	_, ok := args[0].(string)
	return ok, nil
}

// isEmptyFunc reports whether a string, slice, or map has zero length, or
// whether a nil value was passed.
// Usage: is_empty(inputs.tags)
func isEmptyFunc(args ...interface{}) (interface{}, error) {
	if len(args) != 1 {
		return true, nil
	}
	if args[0] == nil {
		return true, nil
	}
	v := reflect.ValueOf(args[0])
	switch v.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return v.Len() == 0, nil
	default:
		return false, nil
	}
}

// matchesFunc reports whether a string matches a regular expression.
// Usage: matches(inputs.email, "^[^@]+@[^@]+$")
func matchesFunc(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return false, nil
	}
	s, ok1 := args[0].(string)
	pattern, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return false, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(s), nil
}

// predicateEnv returns the named-predicate functions required by the
// condition language. "contains" is deliberately absent: expr-lang reserves
// that identifier for its own string/array builtin, so the "contains"
// predicate is reached through has()/includes() instead (see doc.go).
func predicateEnv() map[string]interface{} {
	return map[string]interface{}{
		"has":         containsFunc,
		"includes":    containsFunc,
		"length":      lenFunc,
		"exists":      existsFunc,
		"not_exists":  notExistsFunc,
		"starts_with": startsWithFunc,
		"ends_with":   endsWithFunc,
		"is_number":   isNumberFunc,
		"is_string":   isStringFunc,
		"is_empty":    isEmptyFunc,
		"matches":     matchesFunc,
	}
}
