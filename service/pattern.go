package service

import (
	"reflect"
	"strings"
)

// DerivePattern computes the pattern for a handler value: a non-empty Pattern()
// wins, otherwise the fully qualified type name with path separators normalized to dots.
// It is called once at registration; dispatch never reflects on handlers.
func DerivePattern(h any) string {
	if p, ok := h.(Patterned); ok && p.Pattern() != "" {
		return p.Pattern()
	}

	t := reflect.TypeOf(h)
	if t == nil {
		return ""
	}

	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Name() == "" {
		return ""
	}

	name := t.Name()
	if t.PkgPath() != "" {
		name = t.PkgPath() + "." + name
	}

	return strings.ReplaceAll(name, "/", ".")
}
