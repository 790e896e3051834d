package events

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/zoobzio/hookz"
)

// Event names emitted by the lifecycle engine.
const (
	ChargeStatusChanged = "charge.status_changed"
	RefundStatusChanged = "refund.status_changed"
	FeeIncurred         = "charge.fee_incurred"
)

// Payload carries the details of one emitted event. Details is event
// specific (for example the fee breakdown and resulting net amount for
// FeeIncurred).
type Payload struct {
	ResourceID string
	Status     string
	Details    map[string]any
}

// Emitter is the best-effort event sink. Emission failures are logged and
// never propagated: a failed emit must not roll back the state change that
// produced it.
type Emitter struct {
	hooks *hookz.Hooks[Payload]
}

// NewEmitter builds an Emitter backed by an async hook service.
func NewEmitter() *Emitter {
	return &Emitter{hooks: hookz.New[Payload]()}
}

// Subscribe registers a handler for an event name. Returned hook can be
// used to unsubscribe.
func (e *Emitter) Subscribe(event string, fn func(context.Context, Payload) error) (hookz.Hook, error) {
	return e.hooks.Hook(hookz.Key(event), fn)
}

// Emit dispatches the event to all subscribers, fire-and-forget.
func (e *Emitter) Emit(ctx context.Context, event string, p Payload) {
	if err := e.hooks.Emit(ctx, hookz.Key(event), p); err != nil {
		log.Warn().Err(err).Str("event", event).Str("resource_id", p.ResourceID).
			Msg("Failed to emit event")
	}
}

// Close drains in-flight handlers.
func (e *Emitter) Close() error {
	return e.hooks.Close()
}
