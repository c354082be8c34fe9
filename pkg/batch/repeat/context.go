// Package repeat provides the loop engines that drive every step: a sequential Template and a
// ThrottledTemplate that fans iterations out to a TaskExecutor. Both are configured with a
// CompletionPolicy, an ExceptionHandler and a list of Listeners, and both maintain a tree of
// Context values, one per active (possibly nested) loop.
package repeat

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"

	"github.com/hashicorp/go-multierror"
)

type destructionCallback struct {
	name     string
	callback func() error
}

// Context is the mutable state of one active loop. Nested loops form a tree through Parent.
//
// Attributes and destruction callbacks may be used concurrently by the workers of a throttled loop.
type Context struct {
	parent *Context

	mu         sync.RWMutex
	attributes map[string]interface{}
	callbacks  []destructionCallback
	throwables []error
	closed     bool

	completeOnly atomic.Bool
	startedCount atomic.Int64
}

// NewContext creates a context whose parent is the given one (nil for an outermost loop).
func NewContext(parent *Context) *Context {
	return &Context{
		parent:     parent,
		attributes: make(map[string]interface{}),
	}
}

// Parent returns the enclosing context, or nil.
func (c *Context) Parent() *Context {
	return c.parent
}

// Root returns the outermost ancestor (c itself if it has no parent).
func (c *Context) Root() *Context {
	root := c
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// GetAttribute returns the attribute stored under name.
func (c *Context) GetAttribute(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.attributes[name]
	return v, ok
}

// SetAttribute stores value under name. A nil value removes the attribute.
func (c *Context) SetAttribute(name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == nil {
		delete(c.attributes, name)
		return
	}
	c.attributes[name] = value
}

// SetAttributeIfAbsent stores value under name unless an attribute is already present, and returns
// the attribute that ends up stored.
func (c *Context) SetAttributeIfAbsent(name string, value interface{}) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.attributes[name]; ok {
		return existing
	}
	c.attributes[name] = value
	return value
}

// RemoveAttribute deletes the attribute and returns its previous value.
// Destruction callbacks registered under the same name still run on Close.
func (c *Context) RemoveAttribute(name string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.attributes[name]
	delete(c.attributes, name)
	return v
}

// HasAttribute reports whether name is set.
func (c *Context) HasAttribute(name string) bool {
	_, ok := c.GetAttribute(name)
	return ok
}

// AttributeNames returns the attribute names in sorted order.
func (c *Context) AttributeNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.attributes))
	for name := range c.attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterDestructionCallback registers a callback run by Close. Registering again under the same
// name replaces the earlier callback.
func (c *Context) RegisterDestructionCallback(name string, callback func() error) {
	if callback == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.callbacks {
		if c.callbacks[i].name == name {
			c.callbacks[i].callback = callback
			return
		}
	}
	c.callbacks = append(c.callbacks, destructionCallback{name: name, callback: callback})
}

// Close runs every destruction callback once, in registration order, even when some fail or panic.
// Failures are returned together as a single error. Subsequent calls do nothing.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	callbacks := c.callbacks
	c.callbacks = nil
	c.mu.Unlock()

	var result *multierror.Error
	for _, dc := range callbacks {
		if err := runDestructionCallback(dc); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func runDestructionCallback(dc destructionCallback) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = exception.FromPanic("repeat", p)
		}
	}()
	if err := dc.callback(); err != nil {
		return fmt.Errorf("destruction callback '%s': %w", dc.name, err)
	}
	return nil
}

// SetCompleteOnly asks the loop owning this context to finish after the current iteration.
func (c *Context) SetCompleteOnly() {
	c.completeOnly.Store(true)
}

// IsCompleteOnly reports the local flag only. Use IsMarkedComplete to include ancestors.
func (c *Context) IsCompleteOnly() bool {
	return c.completeOnly.Load()
}

// Increment counts one started iteration. Completion policies call it from Update.
func (c *Context) Increment() {
	c.startedCount.Add(1)
}

// StartedCount returns the number of iterations started in this context.
func (c *Context) StartedCount() int {
	return int(c.startedCount.Load())
}

// AddThrowable records an error that was handled without ending the loop.
func (c *Context) AddThrowable(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.throwables = append(c.throwables, err)
}

// Throwables returns the recorded errors in the order they were added.
func (c *Context) Throwables() []error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]error(nil), c.throwables...)
}

// IsMarkedComplete reports whether c or any of its ancestors has been flagged complete-only.
func IsMarkedComplete(c *Context) bool {
	for current := c; current != nil; current = current.parent {
		if current.IsCompleteOnly() {
			return true
		}
	}
	return false
}
