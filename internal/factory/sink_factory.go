package factory

import (
	"fmt"
	"strings"

	"PcapSentry/internal/config"
	"PcapSentry/internal/model"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Deps carries the shared resources a sink may need.
type Deps struct {
	NATS   *nats.Conn
	Logger zerolog.Logger
}

// SinkFactory builds one alert sink from its definition.
type SinkFactory func(def config.SinkDef, deps Deps) (model.AlertSink, error)

// registry holds the mapping of sink types to their factory functions.
var registry = make(map[string]SinkFactory)

// RegisterSink registers a new sink type with its factory function.
func RegisterSink(name string, factory SinkFactory) {
	name = strings.ToLower(name)
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("sink type '%s' already registered", name))
	}
	registry[name] = factory
}

// Registered reports whether a sink type is known.
func Registered(name string) bool {
	_, ok := registry[strings.ToLower(name)]
	return ok
}

// Create builds every enabled sink in defs, in order.
func Create(defs []config.SinkDef, deps Deps) ([]model.AlertSink, error) {
	var sinks []model.AlertSink

	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		deps.Logger.Info().Str("type", def.Type).Msg("creating alert sink")

		factory, ok := registry[strings.ToLower(def.Type)]
		if !ok {
			return nil, fmt.Errorf("unknown sink type: '%s'", def.Type)
		}

		s, err := factory(def, deps)
		if err != nil {
			return nil, fmt.Errorf("error creating sink type '%s': %w", def.Type, err)
		}
		sinks = append(sinks, s)
	}

	return sinks, nil
}
