package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	err := Errorf(KindInvalidArgument, "frame length is %d, expected %d", 100, 256)
	assert.Equal(t, KindInvalidArgument, err.Kind())
	assert.True(t, errors.Is(err, KindInvalidArgument))
	assert.False(t, errors.Is(err, KindIO))
	assert.Equal(t, "INVALID_ARGUMENT: frame length is 100, expected 256", err.Error())
}

func TestWrapPreservesKind(t *testing.T) {
	inner := Errorf(KindActivationThrottled, "too many activation requests")
	outer := Wrap(inner, "unable to activate the access key")
	assert.Equal(t, KindActivationThrottled, outer.Kind())
	require.Len(t, outer.Messages(), 2)
	assert.Equal(t, "unable to activate the access key", outer.Messages()[0])
	assert.Equal(t, "too many activation requests", outer.Messages()[1])
}

func TestWrapForeignError(t *testing.T) {
	err := Wrap(fmt.Errorf("disk on fire"), "unable to load the model")
	assert.Equal(t, KindRuntime, err.Kind())
	assert.Equal(t, []string{"unable to load the model", "disk on fire"}, err.Messages())
}

func TestStackBound(t *testing.T) {
	err := Errorf(KindRuntime, "root cause")
	for i := 0; i < 20; i++ {
		err = Wrap(err, "layer %d", i)
	}
	require.Len(t, err.Messages(), MaxStackDepth)
	assert.Equal(t, "layer 19", err.Messages()[0])
}

func TestStackDeterminism(t *testing.T) {
	build := func() *Error {
		return Wrap(
			Wrap(
				Errorf(KindIO, "unable to open the model file"),
				"unable to load the model",
			),
			"unable to construct the engine",
		)
	}
	a, b := build(), build()
	assert.Equal(t, a.Messages(), b.Messages())
	assert.Equal(t, a.FormatStack(), b.FormatStack())
}

func TestFormatStack(t *testing.T) {
	err := Wrap(Errorf(KindIO, "no such file"), "unable to load the model")
	assert.Equal(t, "[0] unable to load the model\n[1] no such file", err.FormatStack())
}

func TestConvert(t *testing.T) {
	assert.Nil(t, Convert(nil))
	statusErr := Errorf(KindKeyError, "no such key")
	assert.Same(t, statusErr, Convert(statusErr))
	converted := Convert(errors.New("boom"))
	assert.Equal(t, KindRuntime, converted.Kind())
}
