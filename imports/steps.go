package imports

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/hireloop/mailroom/errors"
)

// StepContext carries an item and the artifacts accumulated by earlier steps
// through the pipeline. Handlers communicate only through it.
type StepContext struct {
	Item    *Item
	Message *Message

	// Artifacts holds step outputs for downstream handlers (parsed
	// structures, classification results). Keys are handler-defined.
	Artifacts map[string]interface{}
}

// StepHandler executes one pipeline step for one item. A handler must be
// idempotent: after a crash the same step may run again for the same item.
type StepHandler interface {
	Execute(ctx context.Context, sc *StepContext) error
}

// StepHandlerFunc adapts a function to the StepHandler interface.
type StepHandlerFunc func(ctx context.Context, sc *StepContext) error

// Execute implements StepHandler
func (f StepHandlerFunc) Execute(ctx context.Context, sc *StepContext) error {
	return f(ctx, sc)
}

// HandlerRegistry maps pipeline steps to their handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[ItemStep]StepHandler
}

// NewHandlerRegistry creates an empty handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[ItemStep]StepHandler)}
}

// Register binds a handler to a step, replacing any existing binding.
func (r *HandlerRegistry) Register(step ItemStep, handler StepHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[step] = handler
}

// Get returns the handler for a step, or nil if none is registered.
func (r *HandlerRegistry) Get(step ItemStep) StepHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[step]
}

// Validate checks that every step in the sequence has a handler.
func (r *HandlerRegistry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, step := range StepSequence {
		if r.handlers[step] == nil {
			return errors.Newf("no handler registered for step %q", step)
		}
	}
	return nil
}

// NewFetchHandler returns the fetched-step handler: retrieve the full message
// from the provider and attach it to the step context.
func NewFetchHandler(provider Provider) StepHandler {
	return StepHandlerFunc(func(ctx context.Context, sc *StepContext) error {
		msg, err := provider.FetchMessage(ctx, sc.Item.ExternalID)
		if err != nil {
			return errors.Wrapf(err, "failed to fetch message %s", sc.Item.ExternalID)
		}
		sc.Message = msg
		return nil
	})
}

// NewSpoolSaveHandler returns the saved-step handler: write the raw message
// to the spool directory, keyed by run and external ID. Rewrites of the same
// file after a resume are harmless.
//
// An item resumed past the fetch step arrives with no in-memory message (the
// previous slice's artifact died with it), so the handler re-fetches before
// spooling rather than failing the item.
func NewSpoolSaveHandler(spoolDir string, provider Provider) StepHandler {
	return StepHandlerFunc(func(ctx context.Context, sc *StepContext) error {
		if sc.Message == nil {
			msg, err := provider.FetchMessage(ctx, sc.Item.ExternalID)
			if err != nil {
				return errors.Wrapf(err, "failed to refetch message %s for spooling", sc.Item.ExternalID)
			}
			sc.Message = msg
		}

		dir := filepath.Join(spoolDir, sc.Item.RunID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "failed to create spool directory")
		}

		path := filepath.Join(dir, sc.Item.ExternalID+".eml")
		if err := os.WriteFile(path, sc.Message.Raw, 0o644); err != nil {
			return errors.Wrapf(err, "failed to spool message %s", sc.Item.ExternalID)
		}

		sc.Artifacts["spool_path"] = path
		return nil
	})
}

// NoopHandler returns a handler that records nothing and succeeds. It is the
// default binding for the business-logic steps (parse, classify, persist)
// until the recruiting pipeline registers its own handlers.
func NoopHandler() StepHandler {
	return StepHandlerFunc(func(ctx context.Context, sc *StepContext) error {
		return nil
	})
}
