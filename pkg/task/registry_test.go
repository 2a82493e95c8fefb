package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryInvokeDispatchesByName(t *testing.T) {
	r := NewRegistry()
	r.Register("double", func(ctx context.Context, args []byte) ([]byte, error) {
		n := int(args[0])
		return []byte{byte(n * 2)}, nil
	})

	out, err := r.Invoke(context.Background(), Payload{Func: "double", Args: []byte{21}})
	require.NoError(t, err)
	assert.Equal(t, byte(42), out[0])
}

func TestRegistryInvokeUnknownFuncErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), Payload{Func: "missing"})
	assert.Error(t, err)
}

func TestRegistryLifecycleHooks(t *testing.T) {
	r := NewRegistry()
	var initCalled, deinitCalled bool

	r.RegisterInitializer("setup", func(args []byte) error {
		initCalled = true
		return nil
	})
	r.RegisterDeinitializer("teardown", func(args []byte) error {
		deinitCalled = true
		return nil
	})

	init, ok := r.Initializer("setup")
	require.True(t, ok)
	require.NoError(t, init(nil))
	assert.True(t, initCalled)

	deinit, ok := r.Deinitializer("teardown")
	require.True(t, ok)
	require.NoError(t, deinit(nil))
	assert.True(t, deinitCalled)
}
