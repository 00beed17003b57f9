package coordinator

import (
	"context"
	"fmt"
)

// Factory builds a Coordinator together with a release func for everything
// it acquired (cache connections, background goroutines).
type Factory func(ctx context.Context) (*Coordinator, func(), error)

// With builds a Coordinator from factory, runs fn with it, and releases the
// collaborators on every exit path, including a panic in fn.
func With(ctx context.Context, factory Factory, fn func(context.Context, *Coordinator) error) error {
	c, release, err := factory(ctx)
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}
	if release != nil {
		defer release()
	}
	return fn(ctx, c)
}
