// Package wireup turns the discovered transforms of a value into live
// dataflow: one input channel per parameter, one output channel per result,
// and a firing rule that invokes the method once every input has a value.
package wireup

import (
	"context"
	"reflect"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"Meshflow/internal/core/mesherr"
	"Meshflow/internal/core/pubsub"
	"Meshflow/internal/mesh"
	"Meshflow/internal/transform"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// Engine wires every transform of one target value.
type Engine struct {
	name       string
	policy     Policy
	types      *mesh.TypeRegistry
	logger     *zap.Logger
	metrics    *mesh.Metrics
	xids       mesh.XIDSource
	onError    func(error)
	ctx        context.Context
	transforms []*wired
}

type Option func(*Engine)

// WithTypes resolves parameter types against r, which may carry bindings for
// interface parameters.
func WithTypes(r *mesh.TypeRegistry) Option {
	return func(e *Engine) {
		if r != nil {
			e.types = r
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *mesh.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithXIDSource(s mesh.XIDSource) Option {
	return func(e *Engine) { e.xids = s }
}

// WithErrorHook receives invocation failures and channel errors in addition
// to the log.
func WithErrorHook(fn func(error)) Option {
	return func(e *Engine) { e.onError = fn }
}

// WithContext is passed to transforms that take a leading context.Context.
func WithContext(ctx context.Context) Option {
	return func(e *Engine) {
		if ctx != nil {
			e.ctx = ctx
		}
	}
}

// wired is one transform with its proxies and parameter slots.
type wired struct {
	t       *transform.Transform
	inputs  []*mesh.Proxy
	outputs []*mesh.Proxy

	mu    sync.Mutex
	slots map[string]reflect.Value
	fired uint64
}

// New discovers the transforms of target and builds their channels. Types
// that no codec can carry fail here, before anything is attached to a node.
func New(target any, opts ...Option) (*Engine, error) {
	ts, err := transform.Discover(target)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		name:   ts[0].Owner,
		policy: LatestValue,
		types:  mesh.NewTypeRegistry(),
		logger: zap.NewNop(),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("reactor", e.name))

	var errs error
	for _, t := range ts {
		w, err := e.wire(t)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		e.transforms = append(e.transforms, w)
	}
	if errs != nil {
		return nil, errs
	}
	return e, nil
}

func (e *Engine) wire(t *transform.Transform) (*wired, error) {
	w := &wired{t: t, slots: make(map[string]reflect.Value, len(t.Inputs))}
	var errs error
	for _, p := range t.Inputs {
		channel := t.ChannelName(p)
		codec, err := e.codec(t, p, channel)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		proxy := mesh.NewProxy(codec, e.proxyOptions(mesh.WithInputs(channel))...)
		name := p.Name
		proxy.Subscribe(pubsub.Func(func(d mesh.Delivery) error {
			e.deliver(w, name, d.Value)
			return nil
		}))
		w.inputs = append(w.inputs, proxy)
	}
	for _, p := range t.Outputs {
		channel := t.ChannelName(p)
		codec, err := e.codec(t, p, channel)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		w.outputs = append(w.outputs, mesh.NewProxy(codec, e.proxyOptions(mesh.WithOutputs(channel))...))
	}
	if errs != nil {
		return nil, errs
	}
	if len(t.Inputs) == 0 {
		e.logger.Debug("transform has no inputs and never fires", zap.String("transform", t.Name()))
	}
	return w, nil
}

// codec resolves the payload codec of p. Unresolvable types become
// configuration errors naming the channel.
func (e *Engine) codec(t *transform.Transform, p transform.Param, channel string) (mesh.Codec, error) {
	c, err := e.types.Resolve(p.Type)
	if err != nil {
		return nil, mesherr.NewConfig(t.Owner, t.Method, err).WithChannel(channel)
	}
	return c, nil
}

func (e *Engine) proxyOptions(extra ...mesh.ProxyOption) []mesh.ProxyOption {
	opts := []mesh.ProxyOption{
		mesh.WithLogger(e.logger),
		mesh.WithMetrics(e.metrics),
		mesh.WithXIDSource(e.xids),
		mesh.WithErrorHook(e.report),
	}
	return append(opts, extra...)
}

// deliver stores v in the slot for name and fires when every input is
// present. The slot write, the completeness check and the invocation happen
// under the transform's lock; outputs publish after it is released.
func (e *Engine) deliver(w *wired, name string, v any) {
	w.mu.Lock()
	w.slots[name] = reflect.ValueOf(v)
	if len(w.slots) != len(w.t.Inputs) {
		w.mu.Unlock()
		return
	}
	args := make([]reflect.Value, len(w.t.Inputs))
	for i, p := range w.t.Inputs {
		args[i] = w.slots[p.Name]
	}
	start := time.Now()
	outputs, err := w.t.Invoke(e.ctx, args)
	elapsed := time.Since(start)
	if e.policy == ClearAfterFire {
		clear(w.slots)
	}
	w.fired++
	w.mu.Unlock()

	if err != nil {
		e.metrics.Invoked(w.t.Name(), outcomeError, elapsed)
		e.logger.Error("transform invocation failed", zap.String("transform", w.t.Name()), zap.Error(err))
		if e.onError != nil {
			e.onError(err)
		}
		return
	}
	e.metrics.Invoked(w.t.Name(), outcomeOK, elapsed)
	for i, out := range outputs {
		var value any
		if out.IsValid() {
			value = out.Interface()
		}
		// Encode failures are reported by the proxy.
		_ = w.outputs[i].OnPost(value, "")
	}
}

func (e *Engine) report(err error) {
	e.logger.Warn("channel error", zap.Error(err))
	if e.onError != nil {
		e.onError(err)
	}
}

// Name is the owning type name shared by every transform.
func (e *Engine) Name() string { return e.name }

// Policy reports the firing policy in effect.
func (e *Engine) Policy() Policy { return e.policy }

// Routes returns every input proxy followed by every output proxy.
func (e *Engine) Routes() []mesh.RouteRegistrant {
	var out []mesh.RouteRegistrant
	for _, w := range e.transforms {
		for _, p := range w.inputs {
			out = append(out, p)
		}
	}
	for _, w := range e.transforms {
		for _, p := range w.outputs {
			out = append(out, p)
		}
	}
	return out
}

// Descriptors describes the wired transforms in discovery order.
func (e *Engine) Descriptors() []transform.Descriptor {
	out := make([]transform.Descriptor, len(e.transforms))
	for i, w := range e.transforms {
		out[i] = w.t.Describe()
	}
	return out
}

// Fired returns how many times the named transform has been invoked.
func (e *Engine) Fired(transformName string) uint64 {
	for _, w := range e.transforms {
		if w.t.Name() == transformName {
			w.mu.Lock()
			defer w.mu.Unlock()
			return w.fired
		}
	}
	return 0
}
