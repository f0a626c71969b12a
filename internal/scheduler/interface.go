package scheduler

import (
	"context"

	"github.com/mattjoyce/vkore/internal/module"
	"github.com/mattjoyce/vkore/internal/supervisor"
)

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/mattjoyce/vkore/internal/scheduler Launcher,Resolver

// Launcher starts module instances. Implemented by supervisor.Supervisor.
type Launcher interface {
	Launch(ctx context.Context, d *module.Descriptor, trigger supervisor.Trigger) (*supervisor.Handle, error)
	Running(name string) int
}

// Resolver makes a module's dependencies available. Implemented by
// depresolve.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, d *module.Descriptor) error
}
