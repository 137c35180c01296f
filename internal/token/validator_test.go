package token

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/reqguard/internal/apperr"
)

func TestValidator_StoresPrincipal(t *testing.T) {
	codec := newTestCodec(t, "rg_")
	v := NewValidator[testPrincipal](codec)

	tok, err := codec.Issue(testPrincipal{Name: "carol", ID: 3})
	require.NoError(t, err)

	ctx, err := v.Validate(context.Background(), tok)
	require.NoError(t, err)

	p, ok := PrincipalFrom[testPrincipal](ctx)
	require.True(t, ok)
	assert.Equal(t, "carol", p.Name)

	v.Reset(ctx)
	v.Reset(ctx)
	_, ok = PrincipalFrom[testPrincipal](ctx)
	assert.False(t, ok)
}

func TestValidator_ResetWithoutValidate(t *testing.T) {
	v := NewValidator[testPrincipal](newTestCodec(t, ""))
	assert.NotPanics(t, func() { v.Reset(context.Background()) })
}

func TestValidator_Rejects(t *testing.T) {
	codec := newTestCodec(t, "rg_")
	v := NewValidator[testPrincipal](codec)

	ctx := context.Background()
	got, err := v.Validate(ctx, "")
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Equal(t, ctx, got)

	_, ok := PrincipalFrom[testPrincipal](got)
	assert.False(t, ok)
}

func TestValidator_Check(t *testing.T) {
	codec := newTestCodec(t, "")
	banned := apperr.Unauthorized("user is banned")
	v := NewValidator(codec, WithCheck(func(_ context.Context, p testPrincipal) error {
		if p.Name == "mallory" {
			return banned
		}
		return nil
	}))

	tok, err := codec.Issue(testPrincipal{Name: "mallory"})
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), tok)
	assert.True(t, errors.Is(err, banned))

	tok, err = codec.Issue(testPrincipal{Name: "dave"})
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), tok)
	assert.NoError(t, err)
}

func TestPrincipalFrom_TypeScoped(t *testing.T) {
	codec := newTestCodec(t, "")
	v := NewValidator[testPrincipal](codec)
	tok, err := codec.Issue(testPrincipal{Name: "erin"})
	require.NoError(t, err)

	ctx, err := v.Validate(context.Background(), tok)
	require.NoError(t, err)

	_, ok := PrincipalFrom[map[string]any](ctx)
	assert.False(t, ok)
}
