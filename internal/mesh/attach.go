package mesh

import "go.uber.org/multierr"

// Attach binds every route of r into the node's input and output registries
// and hands each route the transport publish function. Every alias is
// checked first, so a reactor with any conflicting alias binds nothing and
// all of its conflicts are reported together.
func Attach(inputs, outputs *Registry, r Reactor, publish PublishFunc) error {
	routes := r.Routes()
	if err := checkRoutes(inputs, outputs, routes); err != nil {
		return err
	}
	var errs error
	for _, route := range routes {
		errs = multierr.Append(errs, route.RegisterReceiverChannels(inputs))
		errs = multierr.Append(errs, route.RegisterPublisherChannels(outputs))
		route.SetPublishChannel(publish)
	}
	return errs
}

func checkRoutes(inputs, outputs *Registry, routes []RouteRegistrant) error {
	var errs error
	pendingIn, pendingOut := make(map[string]string), make(map[string]string)
	for _, route := range routes {
		typeName := route.TypeName()
		errs = multierr.Append(errs, checkNames(inputs, pendingIn, route.InputChannelNames(), typeName))
		errs = multierr.Append(errs, checkNames(outputs, pendingOut, route.OutputChannelNames(), typeName))
	}
	return errs
}

// checkNames validates names against reg and against the aliases earlier
// routes of the same reactor would create. The first type bound wins, as
// in GetOrCreate.
func checkNames(reg *Registry, pending map[string]string, names []string, typeName string) error {
	var errs error
	for _, name := range names {
		if err := reg.Check(name, typeName); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		prev, ok := pending[name]
		if !ok {
			pending[name] = typeName
			continue
		}
		if !compatibleTypes(prev, typeName) {
			errs = multierr.Append(errs, conflictError("Attach", name, prev, typeName))
		}
	}
	return errs
}

type routeGroup struct {
	name   string
	routes []RouteRegistrant
}

func (g *routeGroup) Name() string              { return g.name }
func (g *routeGroup) Routes() []RouteRegistrant { return g.routes }

// NewReactor groups hand-built routes under one name.
func NewReactor(name string, routes ...RouteRegistrant) Reactor {
	return &routeGroup{name: name, routes: routes}
}

// ChannelNames collects the input and output aliases of r, without repeats.
func ChannelNames(r Reactor) (inputs, outputs []string) {
	for _, route := range r.Routes() {
		inputs = appendUnique(inputs, route.InputChannelNames()...)
		outputs = appendUnique(outputs, route.OutputChannelNames()...)
	}
	return inputs, outputs
}
