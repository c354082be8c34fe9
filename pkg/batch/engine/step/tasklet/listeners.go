package tasklet

import (
	"fmt"
	"sort"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ListenerBuilder creates the listeners registered under one name for the step stepName.
// Each returned value is attached to every hook it implements: port.StepExecutionListener,
// port.ChunkListener, port.RetryListener, port.SkipListener, and repeat.Listener (on the chunk loop).
type ListenerBuilder func(cfg *config.Config, stepName string) ([]interface{}, error)

// ListenerRegistry holds listener builders by name. Step factories look them up from batch.listeners.
type ListenerRegistry struct {
	mu       sync.RWMutex
	builders map[string]ListenerBuilder
}

// NewListenerRegistry creates an empty registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{builders: make(map[string]ListenerBuilder)}
}

// Register adds or replaces the builder for name.
func (r *ListenerRegistry) Register(name string, builder ListenerBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
	logger.Debugf("ListenerRegistry: Registered listener builder '%s'.", name)
}

// Names returns the registered names in sorted order.
func (r *ListenerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options builds the named listeners for stepName and returns the step options attaching them.
func (r *ListenerRegistry) Options(cfg *config.Config, stepName string, names []string) ([]Option, error) {
	var opts []Option
	for _, name := range names {
		r.mu.RLock()
		builder, ok := r.builders[name]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("no listener registered under '%s' (available: %v)", name, r.Names())
		}
		listeners, err := builder(cfg, stepName)
		if err != nil {
			return nil, fmt.Errorf("building listener '%s' for step '%s': %w", name, stepName, err)
		}
		for _, l := range listeners {
			attached := attachListener(l)
			if len(attached) == 0 {
				return nil, fmt.Errorf("listener '%s' returned %T, which implements no listener interface", name, l)
			}
			opts = append(opts, attached...)
		}
	}
	return opts, nil
}

func attachListener(l interface{}) []Option {
	var opts []Option
	if sl, ok := l.(port.StepExecutionListener); ok {
		opts = append(opts, WithStepExecutionListeners(sl))
	}
	if cl, ok := l.(port.ChunkListener); ok {
		opts = append(opts, WithChunkListeners(cl))
	}
	if rl, ok := l.(port.RetryListener); ok {
		opts = append(opts, WithRetryListeners(rl))
	}
	if sk, ok := l.(port.SkipListener); ok {
		opts = append(opts, WithSkipListeners(sk))
	}
	if rep, ok := l.(repeat.Listener); ok {
		opts = append(opts, WithChunkRepeatListeners(rep))
	}
	return opts
}
