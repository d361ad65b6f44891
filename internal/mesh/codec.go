package mesh

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"Meshflow/internal/core/mesherr"
)

// OpaqueTypeName is the type tag of channels that carry untyped JSON values.
const OpaqueTypeName = "any"

var (
	ErrUnsupportedType = errors.New("type cannot be carried on a channel")
	ErrNotImplemented  = errors.New("concrete type does not implement interface")
	ErrNullPayload     = errors.New("null payload for non-nullable type")
)

// Codec converts between channel values and envelope payload strings.
type Codec interface {
	// TypeName is the tag used to detect conflicting bindings of one channel name.
	TypeName() string
	// Type is the Go type produced by Decode, or nil for opaque payloads.
	Type() reflect.Type
	Encode(v any) (string, error)
	Decode(payload string) (any, error)
}

type typeCodec struct {
	t reflect.Type
}

func (c typeCodec) TypeName() string   { return c.t.String() }
func (c typeCodec) Type() reflect.Type { return c.t }

func (c typeCodec) Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c typeCodec) Decode(payload string) (any, error) {
	if nullable := c.t.Kind(); nullable != reflect.Pointer && nullable != reflect.Slice &&
		nullable != reflect.Map && nullable != reflect.Interface && strings.TrimSpace(payload) == "null" {
		return nil, fmt.Errorf("%w: %s", ErrNullPayload, c.t)
	}
	ptr := reflect.New(c.t)
	if err := json.Unmarshal([]byte(payload), ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

type opaqueCodec struct{}

func (opaqueCodec) TypeName() string   { return OpaqueTypeName }
func (opaqueCodec) Type() reflect.Type { return nil }

func (opaqueCodec) Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (opaqueCodec) Decode(payload string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// boundCodec decodes into a concrete type registered for an interface.
type boundCodec struct {
	iface    reflect.Type
	concrete typeCodec
}

func (c boundCodec) TypeName() string                   { return c.iface.String() }
func (c boundCodec) Type() reflect.Type                 { return c.iface }
func (c boundCodec) Encode(v any) (string, error)       { return c.concrete.Encode(v) }
func (c boundCodec) Decode(payload string) (any, error) { return c.concrete.Decode(payload) }

// Opaque returns the codec for untyped JSON payloads.
func Opaque() Codec { return opaqueCodec{} }

// CodecFor resolves the codec for T against an empty TypeRegistry.
func CodecFor[T any]() (Codec, error) {
	return NewTypeRegistry().Resolve(reflect.TypeFor[T]())
}

// TypeRegistry maps Go types to payload codecs. Interface types resolve only
// when bound to a concrete type, except the empty interface which resolves
// to the opaque codec.
type TypeRegistry struct {
	mu     sync.RWMutex
	codecs map[reflect.Type]Codec
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{codecs: make(map[reflect.Type]Codec)}
}

// Register installs c as the codec for t, overriding resolution.
func (r *TypeRegistry) Register(t reflect.Type, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[t] = c
}

// Bind resolves the interface type iface by decoding into concrete.
func (r *TypeRegistry) Bind(iface, concrete reflect.Type) error {
	if iface.Kind() != reflect.Interface {
		return mesherr.NewConfig("types", "Bind", fmt.Errorf("%s is not an interface", iface))
	}
	if !concrete.Implements(iface) {
		return mesherr.NewConfig("types", "Bind", fmt.Errorf("%w: %s does not implement %s", ErrNotImplemented, concrete, iface))
	}
	r.Register(iface, boundCodec{iface: iface, concrete: typeCodec{t: concrete}})
	return nil
}

// Resolve returns the codec for t or an unsupported-type error.
func (r *TypeRegistry) Resolve(t reflect.Type) (Codec, error) {
	if t == nil {
		return nil, mesherr.NewUnsupportedType("types", "Resolve", fmt.Errorf("%w: nil type", ErrUnsupportedType))
	}
	r.mu.RLock()
	c, ok := r.codecs[t]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}
	if t.Kind() == reflect.Interface && t.NumMethod() == 0 {
		return opaqueCodec{}, nil
	}
	if err := check(t, make(map[reflect.Type]bool)); err != nil {
		return nil, mesherr.NewUnsupportedType("types", "Resolve", err)
	}
	return typeCodec{t: t}, nil
}

var textMarshaler = reflect.TypeFor[encoding.TextMarshaler]()

// check walks t looking for parts JSON cannot round trip. Nested interfaces
// other than the empty one never can, bound or not.
func check(t reflect.Type, seen map[reflect.Type]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return nil
		}
		return fmt.Errorf("%w: interface %s has no bound concrete type", ErrUnsupportedType, t)
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return check(t.Elem(), seen)
	case reflect.Map:
		if !validMapKey(t.Key()) {
			return fmt.Errorf("%w: map key %s", ErrUnsupportedType, t.Key())
		}
		return check(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get("json") == "-" {
				continue
			}
			if err := check(f.Type, seen); err != nil {
				return fmt.Errorf("field %s.%s: %w", t, f.Name, err)
			}
		}
	}
	return nil
}

func validMapKey(k reflect.Type) bool {
	switch k.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return k.Implements(textMarshaler) || reflect.PointerTo(k).Implements(textMarshaler)
}
