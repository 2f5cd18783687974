package config

import (
	"reflect"
	"strings"
)

// secretKeys holds the dotted keys of Config fields tagged `secret:"true"`.
var secretKeys = secretFields(reflect.TypeOf(Config{}), "")

func secretFields(t reflect.Type, prefix string) map[string]bool {
	out := make(map[string]bool)
	for i := range t.NumField() {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		key := joinKey(prefix, name)
		if f.Type.Kind() == reflect.Struct {
			for k := range secretFields(f.Type, key) {
				out[k] = true
			}
			continue
		}
		if f.Tag.Get("secret") == "true" {
			out[key] = true
		}
	}
	return out
}

// IsSecretKey reports whether the dotted key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// Flatten turns nested JSON objects into dotted keys, so
// {"audio": {"chunk_size": 4096}} becomes {"audio.chunk_size": 4096}.
// Empty objects leave no key behind.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if child, ok := v.(map[string]any); ok {
				walk(joinKey(prefix, k), child)
				continue
			}
			out[joinKey(prefix, k)] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A dotted key under a name that holds
// a plain value replaces that value with an object.
func Unflatten(flat map[string]any) map[string]any {
	root := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		node := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	return root
}

// MaskSecrets returns a copy of flat with credentials masked to their last
// four characters. Credentials of four characters or fewer are hidden
// entirely; empty ones stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		s, ok := v.(string)
		if !secretKeys[k] || !ok || s == "" {
			out[k] = v
			continue
		}
		out[k] = mask(s)
	}
	return out
}

func mask(s string) string {
	r := []rune(s)
	if len(r) <= 4 {
		return "****"
	}
	return "***" + string(r[len(r)-4:])
}
