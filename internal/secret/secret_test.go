package secret

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Type() string { return "mock" }

func (m *mockProvider) Available() bool {
	return m.Called().Bool(0)
}

func (m *mockProvider) Resolve(ctx context.Context, ref Ref) (string, error) {
	args := m.Called(ctx, ref)
	return args.String(0), args.Error(1)
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Ref
		wantErr bool
	}{
		{
			name:  "keyring reference",
			input: "${keyring:github-token}",
			want:  &Ref{Type: "keyring", Name: "github-token", Original: "${keyring:github-token}"},
		},
		{
			name:  "env reference with spaces",
			input: "${env: API_KEY }",
			want:  &Ref{Type: "env", Name: "API_KEY", Original: "${env: API_KEY }"},
		},
		{
			name:  "embedded reference",
			input: "Bearer ${env:TOKEN}",
			want:  &Ref{Type: "env", Name: "TOKEN", Original: "${env:TOKEN}"},
		},
		{name: "plain value", input: "sk-123", wantErr: true},
		{name: "missing name", input: "${env}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRef(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindRefs(t *testing.T) {
	refs := FindRefs("${env:USER}:${keyring:pass}")
	require.Len(t, refs, 2)
	assert.Equal(t, "USER", refs[0].Name)
	assert.Equal(t, TypeKeyring, refs[1].Type)

	assert.Empty(t, FindRefs("no refs here"))
	assert.True(t, IsRef("x ${env:A} y"))
	assert.False(t, IsRef("$HOME"))
}

func TestMaskValue(t *testing.T) {
	assert.Equal(t, "****", MaskValue("abc"))
	assert.Equal(t, "ab****", MaskValue("abcdefg"))
	assert.Equal(t, "sk-****yz", MaskValue("sk-abcdefghijklmnopqrstuvwxyz"))
}

func TestEnvProvider(t *testing.T) {
	p := &EnvProvider{lookup: func(name string) (string, bool) {
		if name == "SET" {
			return "value", true
		}
		if name == "EMPTY" {
			return "", true
		}
		return "", false
	}}

	got, err := p.Resolve(context.Background(), Ref{Type: TypeEnv, Name: "SET"})
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	_, err = p.Resolve(context.Background(), Ref{Type: TypeEnv, Name: "EMPTY"})
	assert.Error(t, err)
	_, err = p.Resolve(context.Background(), Ref{Type: TypeEnv, Name: "UNSET"})
	assert.Error(t, err)
	assert.True(t, p.Available())
}

func TestKeyringProvider(t *testing.T) {
	keyring.MockInit()
	p := NewKeyringProvider()
	require.True(t, p.Available())

	require.NoError(t, p.Store("github-token", "ghp_secret"))
	got, err := p.Resolve(context.Background(), Ref{Type: TypeKeyring, Name: "github-token"})
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret", got)

	require.NoError(t, p.Delete("github-token"))
	_, err = p.Resolve(context.Background(), Ref{Type: TypeKeyring, Name: "github-token"})
	assert.Error(t, err)
}

func TestResolverExpand(t *testing.T) {
	ctx := context.Background()
	mp := &mockProvider{}
	mp.On("Available").Return(true)
	mp.On("Resolve", ctx, Ref{Type: "mock", Name: "key", Original: "${mock:key}"}).Return("s3cret", nil)
	mp.On("Resolve", ctx, Ref{Type: "mock", Name: "bad", Original: "${mock:bad}"}).Return("", errors.New("denied"))

	r := &Resolver{providers: make(map[string]Provider)}
	r.Register(mp)

	got, err := r.Expand(ctx, "Bearer ${mock:key}")
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", got)

	got, err = r.Expand(ctx, "literal")
	require.NoError(t, err)
	assert.Equal(t, "literal", got)

	_, err = r.Expand(ctx, "${mock:bad}")
	assert.ErrorContains(t, err, "denied")

	_, err = r.Expand(ctx, "${vault:x}")
	assert.ErrorContains(t, err, "no provider")

	value, ok, err := r.ExpandString(ctx, map[string]any{"api_key": "${mock:key}", "n": 3}, "api_key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s3cret", value)

	_, ok, err = r.ExpandString(ctx, map[string]any{"n": 3}, "n")
	require.NoError(t, err)
	assert.False(t, ok)

	mp.AssertExpectations(t)
}

func TestResolverUnavailableProvider(t *testing.T) {
	mp := &mockProvider{}
	mp.On("Available").Return(false)

	r := &Resolver{providers: make(map[string]Provider)}
	r.Register(mp)

	_, err := r.Resolve(context.Background(), Ref{Type: "mock", Name: "x"})
	assert.ErrorContains(t, err, "not available")
}

func TestResolverOnResolved(t *testing.T) {
	ctx := context.Background()
	mp := &mockProvider{}
	mp.On("Available").Return(true)
	mp.On("Resolve", ctx, Ref{Type: "mock", Name: "key", Original: "${mock:key}"}).Return("s3cret-value", nil)

	r := &Resolver{providers: make(map[string]Provider)}
	r.Register(mp)

	var seen []string
	r.OnResolved(func(v string) { seen = append(seen, v) })

	_, err := r.Expand(ctx, "${mock:key}")
	require.NoError(t, err)
	assert.Equal(t, []string{"s3cret-value"}, seen)
}
