package evaluation

import (
	"reflect"
	"strings"
	"sync"
)

// Well-known top-level context keys.
const (
	RootUser        = "user"
	RootRecord      = "record"
	RootRequest     = "request"
	RootPermissions = "permissions"
)

// FieldResolver resolves a single named field of a context value.
// Implementations exist for plain maps and for structs; callers may also
// implement it directly on their own types.
type FieldResolver interface {
	Field(name string) (any, bool)
}

// MapResolver resolves fields by map key.
type MapResolver map[string]any

// Field returns the value stored under name.
func (m MapResolver) Field(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// reflectMapResolver handles maps keyed by string-kinded types other than map[string]any.
type reflectMapResolver struct {
	v reflect.Value
}

func (m reflectMapResolver) Field(name string) (any, bool) {
	key := reflect.ValueOf(name).Convert(m.v.Type().Key())
	val := m.v.MapIndex(key)
	if !val.IsValid() {
		return nil, false
	}
	return val.Interface(), true
}

// StructResolver resolves fields on a struct by `rule` tag, `json` tag,
// exact field name, then a case- and underscore-insensitive match
// (owner_id finds OwnerID).
type StructResolver struct {
	v      reflect.Value
	fields map[string]int
}

// structFields caches name -> field index per struct type.
var structFields sync.Map // map[reflect.Type]map[string]int

func fieldsOf(t reflect.Type) map[string]int {
	if cached, ok := structFields.Load(t); ok {
		return cached.(map[string]int)
	}

	fields := make(map[string]int, t.NumField()*2)
	// Lower-priority names first so that tags overwrite them.
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		fields[foldName(f.Name)] = i
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		fields[f.Name] = i
	}
	for _, tag := range []string{"json", "rule"} {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				fields[name] = i
			}
		}
	}

	actual, _ := structFields.LoadOrStore(t, fields)
	return actual.(map[string]int)
}

func foldName(name string) string {
	return "~" + strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

// Field returns the struct field matching name.
func (s *StructResolver) Field(name string) (any, bool) {
	idx, ok := s.fields[name]
	if !ok {
		idx, ok = s.fields[foldName(name)]
	}
	if !ok {
		return nil, false
	}
	return s.v.Field(idx).Interface(), true
}

// AsResolver selects the resolver for a value: maps resolve by key, structs
// (or pointers to structs) by attribute. Scalars, nil and nil pointers have
// no fields.
func AsResolver(value any) (FieldResolver, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case FieldResolver:
		return v, true
	case map[string]any:
		return MapResolver(v), true
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() || rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		return reflectMapResolver{v: rv}, true
	case reflect.Struct:
		return &StructResolver{v: rv, fields: fieldsOf(rv.Type())}, true
	default:
		return nil, false
	}
}

// Context is the set of values a rule is evaluated against.
// A Context is read-only after construction.
type Context struct {
	roots map[string]any
}

// NewContext builds a context from top-level values such as user, record,
// request and permissions.
func NewContext(values map[string]any) *Context {
	roots := make(map[string]any, len(values))
	for k, v := range values {
		roots[k] = v
	}
	return &Context{roots: roots}
}

// Field returns a top-level value.
func (c *Context) Field(name string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.roots[name]
	return v, ok
}

// Has reports whether a top-level key is present.
func (c *Context) Has(name string) bool {
	_, ok := c.Field(name)
	return ok
}

// Lookup resolves path segments from the context root, returning nil as
// soon as a segment is missing.
func (c *Context) Lookup(segments ...string) any {
	var current any = c
	for _, seg := range segments {
		r, ok := AsResolver(current)
		if !ok {
			return nil
		}
		next, found := r.Field(seg)
		if !found {
			return nil
		}
		current = next
	}
	return current
}

// Get resolves a dotted path from the context root.
func (c *Context) Get(path string) any {
	return c.Lookup(strings.Split(path, ".")...)
}

// Resolve resolves a dotted path from an arbitrary value.
func Resolve(value any, path string) any {
	current := value
	for _, seg := range strings.Split(path, ".") {
		r, ok := AsResolver(current)
		if !ok {
			return nil
		}
		next, found := r.Field(seg)
		if !found {
			return nil
		}
		current = next
	}
	return current
}
