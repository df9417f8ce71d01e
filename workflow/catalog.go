// Package workflow provides the action catalog and the workflow inspector:
// the validation pass a document must clear before a playbook is stored or an
// execution created.
package workflow

import (
	"sync"

	"responder/core"
)

// Catalog is the read-mostly registry of action descriptors. It is injected
// into the inspector and the engine rather than accessed as a process global.
// Reload swaps the full descriptor set and bumps the version, which
// invalidates cached schema validators.
type Catalog struct {
	mu      sync.RWMutex
	actions map[string]core.ActionDescriptor
	order   []string
	version uint64
}

// NewCatalog creates a catalog seeded with the given descriptors.
func NewCatalog(descriptors []core.ActionDescriptor) *Catalog {
	c := &Catalog{}
	c.Reload(descriptors)
	return c
}

// Reload replaces the full descriptor set atomically.
func (c *Catalog) Reload(descriptors []core.ActionDescriptor) {
	actions := make(map[string]core.ActionDescriptor, len(descriptors))
	order := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		if _, exists := actions[d.Type]; !exists {
			order = append(order, d.Type)
		}
		actions[d.Type] = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = actions
	c.order = order
	c.version++
}

// Get returns the descriptor for the given action type.
func (c *Catalog) Get(actionType string) (core.ActionDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.actions[actionType]
	return d, ok
}

// List returns descriptors in registration order, optionally filtered by
// payload type. An empty payloadType returns everything.
func (c *Catalog) List(payloadType string) []core.ActionDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]core.ActionDescriptor, 0, len(c.order))
	for _, t := range c.order {
		d := c.actions[t]
		if payloadType != "" && d.PayloadType != payloadType {
			continue
		}
		result = append(result, d)
	}
	return result
}

// Version returns the current catalog generation. It changes on every Reload.
func (c *Catalog) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}
