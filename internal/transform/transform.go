// Package transform discovers the methods of a value as dataflow transforms:
// named inputs, named outputs, and a way to invoke them.
package transform

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"go.uber.org/multierr"

	"Meshflow/internal/core/mesherr"
)

// ReturnName names a single unnamed result.
const ReturnName = "return"

var (
	ErrNilTarget     = errors.New("transform target is nil")
	ErrNoTransforms  = errors.New("type declares no transforms")
	ErrSignature     = errors.New("signature does not match method")
	ErrArgumentCount = errors.New("wrong number of arguments")
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// Signature names the parameters and results of one method. Go does not
// expose parameter names at run time, so types that want meaningful channel
// names supply them.
type Signature struct {
	// Params names the parameters after an optional leading context.Context.
	// A leading "&" marks a pointer parameter the method writes its output to.
	Params []string
	// Results names the results, excluding a trailing error.
	Results []string
	// MultipleInputs tags a method that accepts concurrent input updates.
	MultipleInputs bool
	// Ignore excludes the method.
	Ignore bool
}

// Describer is implemented by types that name their transforms.
type Describer interface {
	TransformSignatures() map[string]Signature
}

// Param is one input or output of a Transform.
type Param struct {
	Name     string
	Type     reflect.Type
	Optional bool
	ByRef    bool
	IsReturn bool

	// index is the argument position for inputs and by-ref outputs, and the
	// result position for returns.
	index int
}

// Transform describes one discovered method.
type Transform struct {
	Owner                string
	Method               string
	Inputs               []Param
	Outputs              []Param
	AllowsMultipleInputs bool

	fn           reflect.Value
	hasContext   bool
	returnsError bool
}

// Name is "{Owner}.{Method}".
func (t *Transform) Name() string { return t.Owner + "." + t.Method }

// ChannelName is "{Owner}.{Method}.{Param}".
func (t *Transform) ChannelName(p Param) string { return t.Name() + "." + p.Name }

func (t *Transform) InputNames() []string {
	out := make([]string, len(t.Inputs))
	for i, p := range t.Inputs {
		out[i] = p.Name
	}
	return out
}

// Discover enumerates the exported methods declared on v's type. Methods
// promoted from embedded fields are skipped unless redeclared.
func Discover(v any) ([]*Transform, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() == reflect.Pointer && rv.IsNil()) {
		return nil, mesherr.NewConfig("transform", "Discover", ErrNilTarget)
	}
	rt := rv.Type()
	owner := OwnerName(rt)

	var sigs map[string]Signature
	if d, ok := v.(Describer); ok {
		sigs = d.TransformSignatures()
	}

	var (
		out  []*Transform
		errs error
		seen = make(map[string]bool)
	)
	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		if m.Name == "TransformSignatures" || promoted(rt, m.Name) {
			continue
		}
		seen[m.Name] = true
		sig, hasSig := sigs[m.Name]
		if sig.Ignore {
			continue
		}
		t, err := build(owner, m.Name, rv.Method(i), sig, hasSig)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, t)
	}
	for name := range sigs {
		if !seen[name] {
			errs = multierr.Append(errs, mesherr.NewConfig(owner, name, fmt.Errorf("%w: no such method", ErrSignature)))
		}
	}
	if errs != nil {
		return nil, errs
	}
	if len(out) == 0 {
		return nil, mesherr.NewConfig(owner, "Discover", ErrNoTransforms)
	}
	return out, nil
}

func build(owner, method string, fn reflect.Value, sig Signature, hasSig bool) (*Transform, error) {
	ft := fn.Type()
	t := &Transform{Owner: owner, Method: method, AllowsMultipleInputs: sig.MultipleInputs, fn: fn}
	fail := func(format string, args ...any) error {
		return mesherr.NewConfig(owner, method, fmt.Errorf("%w: "+format, append([]any{ErrSignature}, args...)...))
	}

	start := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		t.hasContext = true
		start = 1
	}
	nParams := ft.NumIn() - start
	names := sig.Params
	if !hasSig || names == nil {
		names = make([]string, nParams)
		for j := range names {
			names[j] = fmt.Sprintf("arg%d", j)
		}
	}
	if len(names) != nParams {
		return nil, fail("%d parameter names for %d parameters", len(names), nParams)
	}

	used := make(map[string]bool)
	for j, raw := range names {
		at := start + j
		pt := ft.In(at)
		name := strings.TrimPrefix(raw, "&")
		if name == "" || used[name] {
			return nil, fail("parameter name %q is empty or repeated", raw)
		}
		used[name] = true
		if strings.HasPrefix(raw, "&") {
			if pt.Kind() != reflect.Pointer {
				return nil, fail("out parameter %s is %s, not a pointer", name, pt)
			}
			t.Outputs = append(t.Outputs, Param{Name: name, Type: pt.Elem(), ByRef: true, index: at})
			continue
		}
		t.Inputs = append(t.Inputs, Param{
			Name:     name,
			Type:     pt,
			Optional: ft.IsVariadic() && at == ft.NumIn()-1,
			index:    at,
		})
	}

	nOut := ft.NumOut()
	if nOut > 0 && ft.Out(nOut-1) == errorType {
		t.returnsError = true
		nOut--
	}
	results := sig.Results
	if !hasSig || results == nil {
		results = make([]string, nOut)
		for k := range results {
			if nOut == 1 {
				results[k] = ReturnName
			} else {
				results[k] = fmt.Sprintf("%s%d", ReturnName, k)
			}
		}
	}
	if len(results) != nOut {
		return nil, fail("%d result names for %d results", len(results), nOut)
	}
	for k, name := range results {
		if name == "" || used[name] {
			return nil, fail("result name %q is empty or repeated", name)
		}
		used[name] = true
		t.Outputs = append(t.Outputs, Param{Name: name, Type: ft.Out(k), IsReturn: true, index: k})
	}
	return t, nil
}

// Invoke calls the method with inputs given in Inputs order and returns the
// outputs in Outputs order. A returned error or a panic is an invocation
// failure and yields no outputs.
func (t *Transform) Invoke(ctx context.Context, inputs []reflect.Value) (outputs []reflect.Value, err error) {
	if len(inputs) != len(t.Inputs) {
		return nil, mesherr.NewInvocation(t.Owner, t.Method, fmt.Errorf("%w: got %d, want %d", ErrArgumentCount, len(inputs), len(t.Inputs)))
	}
	ft := t.fn.Type()
	args := make([]reflect.Value, ft.NumIn())
	if t.hasContext {
		if ctx == nil {
			ctx = context.Background()
		}
		args[0] = reflect.ValueOf(ctx)
	}
	for i, p := range t.Inputs {
		v := inputs[i]
		switch {
		case !v.IsValid():
			v = reflect.Zero(p.Type)
		case v.Type().AssignableTo(p.Type):
		case v.Type().ConvertibleTo(p.Type) && isNumeric(v.Kind()) && isNumeric(p.Type.Kind()):
			v = v.Convert(p.Type)
		default:
			return nil, mesherr.NewInvocation(t.Owner, t.Method, fmt.Errorf("input %s: %s is not assignable to %s", p.Name, v.Type(), p.Type))
		}
		args[p.index] = v
	}
	refs := make(map[int]reflect.Value)
	for _, p := range t.Outputs {
		if p.ByRef {
			ptr := reflect.New(p.Type)
			args[p.index] = ptr
			refs[p.index] = ptr
		}
	}

	defer func() {
		if r := recover(); r != nil {
			outputs = nil
			err = mesherr.NewInvocation(t.Owner, t.Method, fmt.Errorf("panic: %v", r))
		}
	}()
	var res []reflect.Value
	if ft.IsVariadic() {
		res = t.fn.CallSlice(args)
	} else {
		res = t.fn.Call(args)
	}

	if t.returnsError {
		if last := res[len(res)-1]; !last.IsNil() {
			return nil, mesherr.NewInvocation(t.Owner, t.Method, last.Interface().(error))
		}
	}
	outputs = make([]reflect.Value, len(t.Outputs))
	for i, p := range t.Outputs {
		if p.ByRef {
			outputs[i] = refs[p.index].Elem()
		} else {
			outputs[i] = res[p.index]
		}
	}
	return outputs, nil
}

// OwnerName is the declared name of t, dereferenced and without type arguments.
func OwnerName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		name = t.String()
	}
	return name
}

// promoted reports whether name reaches rt only through an embedded field.
func promoted(rt reflect.Type, name string) bool {
	st := rt
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.Anonymous {
			continue
		}
		if hasMethod(f.Type, name) {
			return !declared(st, name)
		}
	}
	return false
}

func hasMethod(t reflect.Type, name string) bool {
	if _, ok := t.MethodByName(name); ok {
		return true
	}
	if t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface {
		_, ok := reflect.PointerTo(t).MethodByName(name)
		return ok
	}
	return false
}

// declared reports whether st or *st has its own body for name. Promoted
// methods are reached through compiler-generated wrappers.
func declared(st reflect.Type, name string) bool {
	for _, t := range []reflect.Type{st, reflect.PointerTo(st)} {
		m, ok := t.MethodByName(name)
		if !ok {
			continue
		}
		pc := m.Func.Pointer()
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		if file, _ := fn.FileLine(pc); file != "<autogenerated>" {
			return true
		}
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
