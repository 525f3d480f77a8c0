package rules

import (
	"fmt"
	"sort"
	"sync"

	"arbiter/internal/ir"
)

// Catalog stores rule definitions and answers "which rules apply to this
// action in this context", sorted by descending priority with ties broken
// by registration order.
//
// The stable tie-break is load-bearing: it determines execution order and
// must be reproducible, so every entry carries a monotonic registration
// sequence number.
//
// Thread-safety: all methods are safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq int64

	// version increments on every register/unregister. Validation caches
	// embed it in their keys, so any catalog change implicitly invalidates
	// every cached outcome.
	version int64

	// onRegister, when set, is invoked after each successful registration.
	// Wired to the engine's listener registry; must not block.
	onRegister func(*Definition)
}

type entry struct {
	def *Definition
	seq int64
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithRegistrationObserver installs a callback fired after each successful
// registration.
func WithRegistrationObserver(fn func(*Definition)) CatalogOption {
	return func(c *Catalog) {
		c.onRegister = fn
	}
}

// SetRegistrationObserver replaces the registration callback. The
// orchestrator uses this to attach its listener registry to a catalog it
// did not construct.
func (c *Catalog) SetRegistrationObserver(fn func(*Definition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRegister = fn
}

// NewCatalog creates an empty catalog.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a rule. Fails with DuplicateRuleError if the id exists, or
// ConflictingRuleError if the rule's ConflictsWith set names an
// already-registered rule. On failure the catalog is unchanged.
func (c *Catalog) Register(def *Definition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("rule definition requires an id")
	}

	c.mu.Lock()
	if _, exists := c.entries[def.ID]; exists {
		c.mu.Unlock()
		return &DuplicateRuleError{ID: def.ID}
	}
	for _, conflictID := range def.ConflictsWith {
		if _, exists := c.entries[conflictID]; exists {
			c.mu.Unlock()
			return &ConflictingRuleError{ID: def.ID, ConflictsWith: conflictID}
		}
	}

	c.nextSeq++
	c.version++
	c.entries[def.ID] = &entry{def: def, seq: c.nextSeq}
	observer := c.onRegister
	c.mu.Unlock()

	if observer != nil {
		observer(def)
	}
	return nil
}

// Unregister removes a rule by id. Removing an absent id is a no-op that
// still reports false. Any validation cache keyed on the catalog version is
// invalidated by the version bump.
func (c *Catalog) Unregister(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; !exists {
		return false
	}
	delete(c.entries, id)
	c.version++
	return true
}

// Get returns the definition for id, if registered.
func (c *Catalog) Get(id string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return e.def, true
}

// Size returns the number of registered rules.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Version returns the current catalog version. It increments on every
// register and unregister.
func (c *Catalog) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// ApplicableRules returns the rules applicable to the action in the given
// context, sorted descending by priority, ties broken by registration order.
func (c *Catalog) ApplicableRules(ctx *ir.ExecutionContext) []*Definition {
	c.mu.RLock()
	matched := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.def.AppliesTo(ctx) {
			matched = append(matched, e)
		}
	}
	c.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].def.Priority != matched[j].def.Priority {
			return matched[i].def.Priority > matched[j].def.Priority
		}
		return matched[i].seq < matched[j].seq
	})

	defs := make([]*Definition, len(matched))
	for i, e := range matched {
		defs[i] = e.def
	}
	return defs
}

// HasAnyRuleFor reports whether any registered rule recognizes the action
// type at all, regardless of phase or tags. The orchestrator uses this to
// distinguish "no rule recognizes this action" (permissively valid) from
// "a rule recognizes it but not in this phase".
func (c *Catalog) HasAnyRuleFor(t ir.ActionType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, e := range c.entries {
		// An empty Actions filter recognizes everything, but it expresses
		// "applies regardless of type" rather than a claim about this
		// specific type, so only explicit membership counts here.
		if len(e.def.Actions) == 0 {
			continue
		}
		if e.def.RecognizesAction(t) {
			return true
		}
	}
	return false
}
