package formula

import (
	"testing"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	inputs := []string{
		"thickness ~ sex + s(age, k = 4, fx = TRUE) + s(age, by = oSex, k = 4, fx = TRUE)",
		"y ~ s(age) + ti(age, envSES, k = 4)",
		"y ~ te(age, envSES, fx = TRUE)",
		"y ~ 1",
	}
	for _, in := range inputs {
		spec, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, in, spec.String())
		again, err := Parse(spec.String())
		require.NoError(t, err)
		assert.True(t, spec.Equal(again))
	}
}

func TestParseTermKinds(t *testing.T) {
	spec, err := Parse("y~sex+s(age,by=oSex,k=5,fx=T,bs=\"tp\")+ti(age,x)")
	require.NoError(t, err)
	require.Len(t, spec.Terms, 3)
	assert.Equal(t, Parametric, spec.Terms[0].Kind)
	assert.Equal(t, SmoothBy, spec.Terms[1].Kind)
	assert.Equal(t, "oSex", spec.Terms[1].By)
	assert.Equal(t, 5, spec.Terms[1].K)
	assert.True(t, spec.Terms[1].FX)
	assert.Equal(t, Tensor, spec.Terms[2].Kind)
	assert.True(t, spec.Terms[2].InteractionOnly)
	assert.Equal(t, "ti(age,x)", spec.Terms[2].Label())
	assert.Equal(t, []string{"sex", "age", "oSex", "x"}, spec.Variables())
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"y sex + age",
		"y ~ s(age",
		"y ~ s(age))",
		"y ~ gam(age)",
		"y ~ s(age, k = four)",
		"y ~ s(age, fx = maybe)",
		"y ~ s(age, spline = 1)",
		"y ~ ti(age, by = sex)",
		"y ~ sex +",
		"~ sex",
		"y ~ s(age, 3x)",
	}
	for _, in := range bad {
		_, err := Parse(in)
		assert.ErrorIs(t, err, core.ErrInvalidSpec, in)
	}
}

func TestFingerprintFollowsFormula(t *testing.T) {
	a := MustParse("y ~ s(age, k = 4)")
	b := MustParse("y ~ s(age,k=4)")
	c := MustParse("y ~ s(age, k = 5)")
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
