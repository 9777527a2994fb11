package posixfs

import (
	"context"

	"github.com/pkg/errors"

	"github.com/shrinkwrap-go/shrinkwrap/backend"
)

func init() {
	backend.RegisterSource("posix", sourceFromConfig)
	backend.RegisterDest("posix", destFromConfig)
}

func sourceFromConfig(ctx context.Context, conf backend.Config) (backend.Source, error) {
	root, ok := conf["root"].(string)
	if !ok || root == "" {
		return nil, errors.New(`posix source config requires a string "root"`)
	}
	return NewSource(root), nil
}

func destFromConfig(ctx context.Context, conf backend.Config) (backend.Destination, error) {
	root, ok := conf["root"].(string)
	if !ok || root == "" {
		return nil, errors.New(`posix destination config requires a string "root"`)
	}
	return New(root)
}
