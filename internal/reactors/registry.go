package reactors

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"Meshflow/internal/mesh"
	"Meshflow/internal/wireup"
)

var ErrUnknownService = errors.New("unknown service")

// Deps is what every service constructor receives.
type Deps struct {
	Logger  *zap.Logger
	Metrics *mesh.Metrics
	XIDs    mesh.XIDSource
	Types   *mesh.TypeRegistry
	Policy  wireup.Policy
}

type factory func(Deps) (mesh.Reactor, error)

var factories = map[string]factory{
	"Calc":         engine(Calc{}),
	"Stats":        engine(Stats{}),
	PriceBoardName: priceBoard,
}

func engine(target any) factory {
	return func(d Deps) (mesh.Reactor, error) {
		return wireup.New(target,
			wireup.WithLogger(d.Logger),
			wireup.WithMetrics(d.Metrics),
			wireup.WithXIDSource(d.XIDs),
			wireup.WithTypes(d.Types),
			wireup.WithPolicy(d.Policy))
	}
}

func priceBoard(d Deps) (mesh.Reactor, error) {
	return NewPriceBoard(d.Logger, mesh.WithMetrics(d.Metrics), mesh.WithXIDSource(d.XIDs))
}

// Names lists the services New can build.
func Names() []string {
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New builds the service registered under name.
func New(name string, d Deps) (mesh.Reactor, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownService, name, Names())
	}
	return f(d)
}
