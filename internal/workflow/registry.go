package workflow

import (
	"context"
	"sync"
)

// Registry keeps one controller per subject.
type Registry struct {
	controllers map[string]*Controller
	mu          sync.RWMutex
	newFn       func() *Controller
}

func NewRegistry(newFn func() *Controller) *Registry {
	return &Registry{
		controllers: make(map[string]*Controller),
		newFn:       newFn,
	}
}

// Get returns the subject's controller, creating it on first use.
func (r *Registry) Get(subject string) *Controller {
	r.mu.RLock()
	c, ok := r.controllers[subject]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[subject]; ok {
		return c
	}
	c = r.newFn()
	r.controllers[subject] = c
	return c
}

// Remove resets the subject's controller, releasing its handles, and forgets it.
func (r *Registry) Remove(ctx context.Context, subject string) bool {
	r.mu.Lock()
	c, ok := r.controllers[subject]
	delete(r.controllers, subject)
	r.mu.Unlock()
	if !ok {
		return false
	}
	c.Reset(ctx)
	return true
}

// Close resets every controller.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	controllers := r.controllers
	r.controllers = make(map[string]*Controller)
	r.mu.Unlock()

	for _, c := range controllers {
		c.Reset(ctx)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}
