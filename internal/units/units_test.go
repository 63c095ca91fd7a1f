package units

import (
	"errors"
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		decimals int
		want     string
		err      error
	}{
		{in: "1", decimals: 9, want: "1000000000"},
		{in: "1.25", decimals: 9, want: "1250000000"},
		{in: "0.000000001", decimals: 9, want: "1"},
		{in: ".5", decimals: 2, want: "50"},
		{in: "5.", decimals: 2, want: "500"},
		{in: "007.10", decimals: 2, want: "710"},
		{in: "0", decimals: 18, want: "0"},
		{in: "1.5000000000", decimals: 9, want: "1500000000"},
		{in: "0.0000000001", decimals: 9, err: ErrPrecision},
		{in: "-1", decimals: 9, err: ErrNegative},
		{in: "+1", decimals: 9, err: ErrSyntax},
		{in: "1e9", decimals: 9, err: ErrSyntax},
		{in: "1,000", decimals: 9, err: ErrSyntax},
		{in: "", decimals: 9, err: ErrSyntax},
		{in: ".", decimals: 9, err: ErrSyntax},
		{in: "NaN", decimals: 9, err: ErrSyntax},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in, tc.decimals)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Fatalf("Parse(%q): expected %v, got %v", tc.in, tc.err, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("Parse(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"1000000000": "1",
		"1250000000": "1.25",
		"1":          "0.000000001",
		"0":          "0",
	}
	for in, want := range cases {
		v, _ := new(big.Int).SetString(in, 10)
		if got := Format(v, 9); got != want {
			t.Fatalf("Format(%s) = %s, want %s", in, got, want)
		}
	}
	if got := Format(big.NewInt(-150), 2); got != "-1.5" {
		t.Fatalf("unexpected negative format %s", got)
	}
	if got := Format(big.NewInt(42), 0); got != "42" {
		t.Fatalf("unexpected zero-decimal format %s", got)
	}
}

func TestValidateSpendLimit(t *testing.T) {
	t.Parallel()

	if got, err := ValidateSpendLimit("5.00"); err != nil || got != "5" {
		t.Fatalf("ValidateSpendLimit(5.00) = %q, %v", got, err)
	}
	if got, err := ValidateSpendLimit("999999999999.99999999"); err != nil || got != "999999999999.99999999" {
		t.Fatalf("max value rejected: %q, %v", got, err)
	}
	for _, bad := range []string{"0", "0.000000000", "-5", "1000000000000", "0.123456789", "abc"} {
		if _, err := ValidateSpendLimit(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
