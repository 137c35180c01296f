package token

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/tjfontaine/reqguard/internal/apperr"
	"github.com/tjfontaine/reqguard/internal/cipher"
)

type testPrincipal struct {
	Name  string   `json:"name"`
	ID    int64    `json:"id"`
	Admin bool     `json:"admin"`
	Tags  []string `json:"tags"`
}

func newTestCodec(t testing.TB, prefix string) *Codec {
	t.Helper()
	key, err := cipher.GenerateKey(16)
	require.NoError(t, err)
	c, err := cipher.New(key)
	require.NoError(t, err)
	return NewCodec(c, prefix)
}

func principalGen() *rapid.Generator[testPrincipal] {
	return rapid.Custom(func(t *rapid.T) testPrincipal {
		p := testPrincipal{
			Name:  rapid.String().Draw(t, "name"),
			ID:    rapid.Int64().Draw(t, "id"),
			Admin: rapid.Bool().Draw(t, "admin"),
			Tags:  rapid.SliceOfN(rapid.String(), 0, 4).Draw(t, "tags"),
		}
		if len(p.Tags) == 0 {
			p.Tags = nil
		}
		return p
	})
}

// =============================================================================
// Round trip
// =============================================================================

// For any principal, parsing an issued token returns an equal principal.
func TestRoundTripProperty(t *testing.T) {
	codec := newTestCodec(t, "rg_")

	rapid.Check(t, func(t *rapid.T) {
		want := principalGen().Draw(t, "principal")

		tok, err := codec.Issue(want)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if !strings.HasPrefix(tok, "rg_") {
			t.Fatalf("token %q lacks prefix", tok)
		}

		got, err := Parse[testPrincipal](codec, tok)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		assert.Equal(t, want, got)
	})
}

func TestParse_URLSafeBody(t *testing.T) {
	key, err := cipher.GenerateKey(16)
	require.NoError(t, err)
	c, err := cipher.New(key)
	require.NoError(t, err)
	codec := NewCodec(c, "p.")

	want := testPrincipal{Name: "alice", ID: 7}
	body := c.EncryptToURLString([]byte(`{"name":"alice","id":7,"admin":false,"tags":null}`))

	got, err := Parse[testPrincipal](codec, codec.AddPrefix(body))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// =============================================================================
// Credential errors
// =============================================================================

func TestParse_Missing(t *testing.T) {
	codec := newTestCodec(t, "rg_")

	for _, tok := range []string{"", "   ", "\t\n"} {
		t.Run(fmt.Sprintf("%q", tok), func(t *testing.T) {
			_, err := Parse[testPrincipal](codec, tok)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingCredential)
			assert.Equal(t, "token is empty", err.Error())
			assert.True(t, errors.Is(err, apperr.KindUnauthorized))
		})
	}
}

// For any non-empty prefix and any token not starting with it, parsing
// fails with a malformed credential error.
func TestParse_WrongPrefixProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.StringN(1, 8, -1).Draw(t, "prefix")
		tok := rapid.String().
			Filter(func(s string) bool { return strings.TrimSpace(s) != "" && !strings.HasPrefix(s, prefix) }).
			Draw(t, "token")

		codec := NewCodec(nil, prefix)
		_, err := codec.StripPrefix(tok)
		if !errors.Is(err, ErrMalformedCredential) {
			t.Fatalf("StripPrefix(%q) with prefix %q: got %v", tok, prefix, err)
		}
	})
}

func TestParse_WrongPrefix(t *testing.T) {
	codec := newTestCodec(t, "rg_")
	tok, err := codec.Issue(testPrincipal{Name: "bob"})
	require.NoError(t, err)

	_, err = Parse[testPrincipal](codec, "xx_"+strings.TrimPrefix(tok, "rg_"))
	assert.ErrorIs(t, err, ErrMalformedCredential)
	assert.Equal(t, "invalid token (wrong prefix)", err.Error())
}

func TestParse_WrongKey(t *testing.T) {
	k1 := newTestCodec(t, "rg_")
	k2 := newTestCodec(t, "rg_")

	for i := 0; i < 50; i++ {
		tok, err := k1.Issue(testPrincipal{Name: fmt.Sprintf("user-%d", i), ID: int64(i)})
		require.NoError(t, err)

		got, err := Parse[testPrincipal](k2, tok)
		require.Error(t, err, "token %d decoded under the wrong key", i)
		assert.ErrorIs(t, err, ErrInvalidCredential)
		assert.Equal(t, testPrincipal{}, got)
	}
}

func TestParse_Garbage(t *testing.T) {
	codec := newTestCodec(t, "rg_")

	tests := []struct {
		name    string
		token   string
		message string
	}{
		{name: "not base64", token: "rg_%%%%", message: "invalid token (unable to decrypt)"},
		{name: "short body", token: "rg_AAAA", message: "invalid token (unable to decrypt)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse[testPrincipal](codec, tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidCredential)
			assert.ErrorIs(t, err, cipher.ErrDecrypt)
			assert.Equal(t, tt.message, err.Error())
		})
	}
}

func TestParse_Undeserializable(t *testing.T) {
	key, err := cipher.GenerateKey(16)
	require.NoError(t, err)
	c, err := cipher.New(key)
	require.NoError(t, err)
	codec := NewCodec(c, "")

	tok := c.EncryptToString([]byte("not json"))
	_, err = Parse[testPrincipal](codec, tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Equal(t, "invalid token (unable to deserialize)", err.Error())
}

func TestIssue_UnserializablePayload(t *testing.T) {
	codec := newTestCodec(t, "")
	_, err := codec.Issue(make(chan int))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.KindInternal))
}

func TestErrorsDoNotExposeKey(t *testing.T) {
	key, err := cipher.GenerateKey(16)
	require.NoError(t, err)
	c, err := cipher.New(key)
	require.NoError(t, err)
	codec := NewCodec(c, "")

	_, err = Parse[testPrincipal](codec, "AAAAAAAAAAAAAAAAAAAAAA==")
	require.Error(t, err)
	assert.NotContains(t, fmt.Sprintf("%+v", err), key)
}

// =============================================================================
// Concurrency
// =============================================================================

func TestConcurrentIssueAndParse(t *testing.T) {
	codec := newTestCodec(t, "rg_")
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := testPrincipal{Name: fmt.Sprintf("user-%d", i), ID: int64(i)}
			tok, err := codec.Issue(want)
			if !assert.NoError(t, err) {
				return
			}
			got, err := Parse[testPrincipal](codec, tok)
			if assert.NoError(t, err) {
				assert.Equal(t, want, got, "token %d decoded to another request's payload", i)
			}
		}(i)
	}
	wg.Wait()
}
