package token

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePositive(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"100", false},
		{"1000000000000000000", false},
		{" 42 ", false},
		{"0", true},
		{"-5", true},
		{"abc", true},
		{"", true},
		{"1.5", true},
	}
	for _, tc := range cases {
		_, err := ParsePositive(tc.in)
		if tc.wantErr {
			require.Error(t, err, "input %q", tc.in)
		} else {
			require.NoError(t, err, "input %q", tc.in)
		}
	}
}

func TestParseDecimal(t *testing.T) {
	a, err := ParseDecimal("1.5")
	require.NoError(t, err)
	require.Equal(t, "1500000000000000000", a.String())

	a, err = ParseDecimal("0.000000000000000001")
	require.NoError(t, err)
	require.Equal(t, "1", a.String())

	a, err = ParseDecimal("25")
	require.NoError(t, err)
	require.Equal(t, "25000000000000000000", a.String())

	_, err = ParseDecimal("0.0000000000000000001")
	require.Error(t, err)
}

func TestFormatRoundTrip(t *testing.T) {
	a, err := ParseDecimal("12.25")
	require.NoError(t, err)
	require.Equal(t, "12.25", a.Format())

	b, err := Parse("3000000000000000000")
	require.NoError(t, err)
	require.Equal(t, "3", b.Format())

	require.Equal(t, "0", Amount{}.Format())
}

func TestMaxApprovalSaturates(t *testing.T) {
	max := MaxApproval()
	want := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	require.Zero(t, max.BigInt().Cmp(want))

	huge, err := Parse("999999999999999999999999999999")
	require.NoError(t, err)
	require.Equal(t, 1, max.Cmp(huge))
}

func TestAddDoesNotMutate(t *testing.T) {
	a, _ := Parse("10")
	b, _ := Parse("32")
	sum := a.Add(b)
	require.Equal(t, "42", sum.String())
	require.Equal(t, "10", a.String())
	require.Equal(t, "32", b.String())
}
