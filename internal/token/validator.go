package token

import (
	"context"
	"sync"
)

type principalKey[T any] struct{}

type principalSlot[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
}

// Validator checks tokens with a Codec and stores the parsed principal in
// the request context. It satisfies interceptor.TokenValidator.
type Validator[T any] struct {
	codec *Codec
	check func(context.Context, T) error
}

// ValidatorOption configures a Validator.
type ValidatorOption[T any] func(*Validator[T])

// WithCheck adds an application check run against every parsed principal,
// e.g. an expiry or revocation test.
func WithCheck[T any](check func(context.Context, T) error) ValidatorOption[T] {
	return func(v *Validator[T]) {
		v.check = check
	}
}

// NewValidator creates a validator for principals of type T.
func NewValidator[T any](codec *Codec, opts ...ValidatorOption[T]) *Validator[T] {
	v := &Validator[T]{codec: codec}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate parses token and returns a context carrying the principal.
func (v *Validator[T]) Validate(ctx context.Context, token string) (context.Context, error) {
	p, err := Parse[T](v.codec, token)
	if err != nil {
		return ctx, err
	}
	if v.check != nil {
		if err := v.check(ctx, p); err != nil {
			return ctx, err
		}
	}
	slot := &principalSlot[T]{value: p, set: true}
	return context.WithValue(ctx, principalKey[T]{}, slot), nil
}

// Reset clears the principal stored in ctx. It is idempotent and safe to call
// when Validate never ran.
func (v *Validator[T]) Reset(ctx context.Context) {
	slot, ok := ctx.Value(principalKey[T]{}).(*principalSlot[T])
	if !ok {
		return
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	var zero T
	slot.value = zero
	slot.set = false
}

// PrincipalFrom returns the principal stored by a Validator[T].
func PrincipalFrom[T any](ctx context.Context) (T, bool) {
	var zero T
	slot, ok := ctx.Value(principalKey[T]{}).(*principalSlot[T])
	if !ok {
		return zero, false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if !slot.set {
		return zero, false
	}
	return slot.value, true
}
