package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindNone},
		{name: "plain", err: base, want: KindNone},
		{name: "direct", err: New(KindDrift, "10.0.0.1", base), want: KindDrift},
		{name: "wrapped", err: fmt.Errorf("step: %w", New(KindParse, "", base)), want: KindParse},
		{name: "fatal wrapped", err: Fatal(New(KindCommand, "h", base)), want: KindCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Newf(KindConnectivity, "10.0.0.5", "dial: %s", "refused")
	assert.Equal(t, "connectivity on 10.0.0.5: dial: refused", err.Error())

	err = New(KindConfig, "", errors.New("inventory missing"))
	assert.Equal(t, "config: inventory missing", err.Error())
}

func TestFatal(t *testing.T) {
	assert.NoError(t, Fatal(nil))

	base := errors.New("migration failed")
	err := fmt.Errorf("run: %w", Fatal(base))
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsFatal(base))
}

func TestIs(t *testing.T) {
	assert.True(t, Is(New(KindTimeout, "", errors.New("x")), KindTimeout))
	assert.False(t, Is(nil, KindTimeout))
	assert.False(t, Is(errors.New("x"), KindTimeout))
}
