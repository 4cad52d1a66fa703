package errors

import (
	"fmt"
	"testing"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"

	"github.com/stretchr/testify/assert"
)

func TestWrapMapsDomainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"invalid spec", core.NewInvalidSpecError("no terms"), CodeInvalidSpec},
		{"convergence", core.NewFitConvergenceError("lmm", nil), CodeFitConvergence},
		{"non nested", core.NewNonNestedModelError("y ~ a + b", "y ~ b"), CodeNonNestedModel},
		{"insufficient", core.NewInsufficientDataError(3, 10), CodeInvalidInput},
		{"other", fmt.Errorf("disk full"), CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := Wrap(tt.err, "task failed")
			assert.Equal(t, tt.code, GetCode(wrapped))
			assert.ErrorIs(t, wrapped, tt.err)
		})
	}
}

func TestWrapKeepsAppErrorCode(t *testing.T) {
	inner := ConfigInvalid("GAMM_SIM_COUNT must be positive")
	outer := Wrapf(inner, "loading %s", "config")
	assert.Equal(t, CodeConfigInvalid, GetCode(outer))
	assert.Contains(t, outer.Error(), "GAMM_SIM_COUNT")
	assert.Nil(t, Wrap(nil, "nothing"))
	assert.Equal(t, "UNKNOWN", GetCode(fmt.Errorf("plain")))
}
