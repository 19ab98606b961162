package transform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/edgeflare/itemetl/pkg/pipeline/event"
)

// Rejection reasons. They double as the reason label on the rejected counter.
var (
	ErrInvalidOperation = errors.New("InvalidOperation")
	ErrMissingItem      = errors.New("MissingItem")
	ErrMissingItemID    = errors.New("MissingItemId")
	ErrMalformedPayload = errors.New("MalformedPayload")
)

// Rejection is returned for an envelope that violates the event contract.
// It is terminal: the envelope must be dropped, never retried.
type Rejection struct {
	Reason     error
	Operation  event.Operation
	Identifier string
	// Cause is set when the record could not be decoded at all.
	Cause error
}

func (r *Rejection) Error() string {
	msg := fmt.Sprintf("envelope rejected: %s (operation=%s, item_id=%q)", r.Reason, r.Operation, r.Identifier)
	if r.Cause != nil {
		msg += ": " + r.Cause.Error()
	}
	return msg
}

func (r *Rejection) Unwrap() error { return r.Reason }

// Reason returns the rejection reason label of err, or "" if err is not a Rejection.
func Reason(err error) string {
	var r *Rejection
	if errors.As(err, &r) && r.Reason != nil {
		return r.Reason.Error()
	}
	return ""
}

func reject(reason error, env *event.Envelope) *Rejection {
	return &Rejection{Reason: reason, Operation: env.Operation, Identifier: env.Identifier()}
}

// Func is one validation or normalization step. Steps may modify the envelope
// they are given; Normalize hands them a private copy.
type Func func(*event.Envelope) (*event.Envelope, error)

// Chain runs steps in order and stops at the first error.
func Chain(steps ...Func) Func {
	return func(env *event.Envelope) (*event.Envelope, error) {
		current := env
		var err error
		for _, step := range steps {
			current, err = step(current)
			if err != nil {
				return nil, err
			}
		}
		return current, nil
	}
}

func ValidateOperation(env *event.Envelope) (*event.Envelope, error) {
	if !env.Operation.Valid() {
		return nil, reject(ErrInvalidOperation, env)
	}
	return env, nil
}

func RequireItem(env *event.Envelope) (*event.Envelope, error) {
	if env.Operation.HasItem() && env.Item == nil {
		return nil, reject(ErrMissingItem, env)
	}
	return env, nil
}

func LowercaseCategory(env *event.Envelope) (*event.Envelope, error) {
	if env.Operation.HasItem() && env.Item != nil && env.Item.Category != "" {
		env.Item.Category = strings.ToLower(env.Item.Category)
	}
	return env, nil
}

// ClampPrice replaces a negative price with zero instead of rejecting the record.
func ClampPrice(env *event.Envelope) (*event.Envelope, error) {
	if env.Operation.HasItem() && env.Item != nil && env.Item.Price != nil && *env.Item.Price < 0 {
		zero := 0.0
		env.Item.Price = &zero
	}
	return env, nil
}

func RequireItemID(env *event.Envelope) (*event.Envelope, error) {
	if env.Operation == event.OpDelete && env.ItemID.IsZero() {
		return nil, reject(ErrMissingItemID, env)
	}
	return env, nil
}

var normalize = Chain(
	ValidateOperation,
	RequireItem,
	LowercaseCategory,
	ClampPrice,
	RequireItemID,
)

// Normalize validates env and returns a normalized copy ready for the
// processed partition. env itself is left untouched. Normalize is idempotent:
// normalizing its output again yields an equal envelope.
func Normalize(env *event.Envelope) (*event.Envelope, error) {
	if env == nil {
		return nil, &Rejection{Reason: ErrMalformedPayload}
	}
	return normalize(env.Clone())
}

// Process decodes a raw record value and normalizes it. Any failure is a
// *Rejection.
func Process(value []byte) (*event.Envelope, error) {
	env, err := event.Decode(value)
	if err != nil {
		return nil, &Rejection{Reason: ErrMalformedPayload, Cause: err}
	}
	return Normalize(env)
}
