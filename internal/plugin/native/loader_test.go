package native

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plugreg/internal/plugin"
)

type greeter interface {
	Greet() string
}

type english struct{}

func (english) Greet() string { return "hello" }

type closable struct {
	closed bool
	err    error
}

func (c *closable) Close() error {
	c.closed = true
	return c.err
}

func TestCatalogRegister(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register("b.Class", func() (any, error) { return 1, nil }))
	require.NoError(t, c.Register("a.Class", func() (any, error) { return 2, nil }))

	err := c.Register("a.Class", func() (any, error) { return 3, nil })
	assert.ErrorIs(t, err, ErrDuplicateClass)
	assert.Error(t, c.Register("", func() (any, error) { return nil, nil }))
	assert.Error(t, c.Register("x", nil))

	assert.Equal(t, []string{"a.Class", "b.Class"}, c.Classes())

	require.NoError(t, c.Bundle("shared", "s.Class", func() (any, error) { return 4, nil }))
	assert.ErrorIs(t, c.Bundle("shared", "s.Class", func() (any, error) { return 5, nil }), ErrDuplicateClass)
	assert.Equal(t, []string{"shared"}, c.Bundles())
}

func TestContextVisibility(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register("greet.English", func() (any, error) { return english{}, nil }))
	require.NoError(t, c.Bundle("extras", "greet.Secret", func() (any, error) { return "secret", nil }))

	l := NewLoader(c)
	ctx, err := l.NewContext("greet/-")
	require.NoError(t, err)

	v, err := ctx.Instantiate("greet.English")
	require.NoError(t, err)
	assert.Equal(t, "hello", v.(greeter).Greet())

	_, err = ctx.Instantiate("greet.Secret")
	assert.ErrorIs(t, err, ErrClassNotFound)

	require.NoError(t, ctx.Attach([]string{"extras"}))
	v, err = ctx.Instantiate("greet.Secret")
	require.NoError(t, err)
	assert.Equal(t, "secret", v)
	assert.Equal(t, []string{"extras"}, ctx.(*Context).Bundles())

	assert.ErrorIs(t, ctx.Attach([]string{"unknown"}), ErrBundleNotFound)

	other, err := l.NewContext("greet/-")
	require.NoError(t, err)
	assert.NotEqual(t, ctx.ID(), other.ID())
	_, err = other.Instantiate("greet.Secret")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestContextConstructorError(t *testing.T) {
	cause := errors.New("no credentials")
	c := NewCatalog()
	require.NoError(t, c.Register("auth.Client", func() (any, error) { return nil, cause }))

	ctx, err := NewLoader(c).NewContext("auth/-")
	require.NoError(t, err)
	_, err = ctx.Instantiate("auth.Client")
	assert.ErrorIs(t, err, cause)
}

func TestContextCloseClosesInstances(t *testing.T) {
	closeErr := errors.New("flush failed")
	var made []*closable
	c := NewCatalog()
	require.NoError(t, c.Register("io.Sink", func() (any, error) {
		s := &closable{}
		if len(made) == 1 {
			s.err = closeErr
		}
		made = append(made, s)
		return s, nil
	}))

	ctx, err := NewLoader(c).NewContext("io/-")
	require.NoError(t, err)
	for range 2 {
		_, err := ctx.Instantiate("io.Sink")
		require.NoError(t, err)
	}

	err = ctx.Close()
	assert.ErrorIs(t, err, closeErr)
	for _, s := range made {
		assert.True(t, s.closed)
	}

	assert.NoError(t, ctx.Close())
	_, err = ctx.Instantiate("io.Sink")
	assert.ErrorIs(t, err, ErrContextClosed)
	assert.ErrorIs(t, ctx.Attach(nil), ErrContextClosed)
}

func TestContextClosedDuringConstruction(t *testing.T) {
	var (
		ctx  plugin.Context
		sink *closable
	)
	c := NewCatalog()
	require.NoError(t, c.Register("io.Sink", func() (any, error) {
		require.NoError(t, ctx.Close())
		sink = &closable{}
		return sink, nil
	}))

	ctx, err := NewLoader(c).NewContext("io/-")
	require.NoError(t, err)

	_, err = ctx.Instantiate("io.Sink")
	assert.ErrorIs(t, err, ErrContextClosed)
	require.NotNil(t, sink)
	assert.True(t, sink.closed)
}

func TestRegistryWithNativeLoader(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register("greet.English", func() (any, error) { return english{}, nil }))
	require.NoError(t, c.Bundle("group-code", "greet.Shared", func() (any, error) { return english{}, nil }))

	reg := plugin.NewRegistry(plugin.WithLoader(NewLoader(c)))
	defer reg.Close()

	capability := plugin.CapabilityOf[greeter]()
	grouped := plugin.NewDescriptor("greeter", []string{"grouped"},
		plugin.WithGroup("G"), plugin.WithLibraries("group-code"),
		plugin.WithClass(capability, "greet.Shared"))
	private := plugin.NewDescriptor("greeter", []string{"private"},
		plugin.WithClass(capability, "greet.Shared"))
	plain := plugin.NewDescriptor("greeter", []string{"plain"},
		plugin.WithClass(capability, "greet.English"))
	for _, d := range []*plugin.BaseDescriptor{grouped, private, plain} {
		require.NoError(t, reg.Register("greeter", d))
	}

	g, err := plugin.Load[greeter](reg, "greeter", "grouped")
	require.NoError(t, err)
	assert.Equal(t, "hello", g.Greet())

	g, err = plugin.Load[greeter](reg, "greeter", "plain")
	require.NoError(t, err)
	assert.Equal(t, "hello", g.Greet())

	// The private plugin never attached the bundle.
	_, err = plugin.Load[greeter](reg, "greeter", "private")
	assert.ErrorIs(t, err, plugin.ErrLoadFailure)
	assert.ErrorIs(t, err, ErrClassNotFound)
}
