package backend

import (
	"context"

	"github.com/pkg/errors"
)

// Config is the decoded JSON configuration for a backend, always
// carrying at least a "type" key naming the registered factory to use.
type Config map[string]interface{}

// SourceFactory builds a Source from a decoded configuration.
type SourceFactory func(ctx context.Context, conf Config) (Source, error)

// DestFactory builds a Destination from a decoded configuration.
type DestFactory func(ctx context.Context, conf Config) (Destination, error)

var (
	sourceFactories = make(map[string]SourceFactory)
	destFactories   = make(map[string]DestFactory)
)

// RegisterSource adds f to the registry of source backends under key. It
// is meant to be called from the init function of a backend package.
func RegisterSource(key string, f SourceFactory) {
	sourceFactories[key] = f
}

// RegisterDest adds f to the registry of destination backends under key.
// It is meant to be called from the init function of a backend package.
func RegisterDest(key string, f DestFactory) {
	destFactories[key] = f
}

// CreateSource builds the source backend registered under key.
func CreateSource(ctx context.Context, key string, conf Config) (Source, error) {
	f, ok := sourceFactories[key]
	if !ok {
		return nil, errors.Errorf("no source backend registered for type %q", key)
	}
	s, err := f(ctx, conf)
	return s, errors.Wrapf(err, "creating source backend %q", key)
}

// CreateDest builds the destination backend registered under key.
func CreateDest(ctx context.Context, key string, conf Config) (Destination, error) {
	f, ok := destFactories[key]
	if !ok {
		return nil, errors.Errorf("no destination backend registered for type %q", key)
	}
	d, err := f(ctx, conf)
	return d, errors.Wrapf(err, "creating destination backend %q", key)
}
