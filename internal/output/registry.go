package output

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/crimson-sun/auditfwd/internal/config"
	"github.com/crimson-sun/auditfwd/internal/linetime"
)

// Deps are shared collaborators handed to every sink constructor.
type Deps struct {
	Logger    *slog.Logger
	Extractor *linetime.Extractor
}

// Constructor builds a Sink from the full configuration.
type Constructor func(cfg config.Config, deps Deps) (Sink, error)

var registry = map[string]Constructor{}

// Register adds a sink constructor under the given name.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// Get returns the sink constructor for the given name.
func Get(name string) (Constructor, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown sink: %s", name)
	}
	return ctor, nil
}

// Names returns the registered sink names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open resolves cfg.SendLogsTo and constructs the sink.
func Open(cfg config.Config, deps Deps) (Sink, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Extractor == nil {
		deps.Extractor = linetime.New(linetime.WithLogger(deps.Logger))
	}
	ctor, err := Get(cfg.SendLogsTo)
	if err != nil {
		return nil, err
	}
	return ctor(cfg, deps)
}
