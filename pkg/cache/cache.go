// Package cache stores the last result written through a cached configuration.
package cache

import (
	"context"
	"errors"
)

// ErrMiss is returned by Get when nothing is cached for a path.
var ErrMiss = errors.New("cache miss")

// ResultCache keeps one serialized result per configuration path.
type ResultCache interface {
	Get(ctx context.Context, path string) (string, error)
	Set(ctx context.Context, path, value string) error
	Clear(ctx context.Context) error
}
