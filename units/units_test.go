package units

import (
	"errors"
	"math/big"
	"testing"
)

func TestToWei(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.5", "500000000000000000"},
		{".25", "250000000000000000"},
		{"0.000000000000000001", "1"},
		{"123456789.123456789123456789", "123456789123456789123456789"},
		{"0", "0"},
	}
	for _, tc := range cases {
		got, err := ToWei(tc.in)
		if err != nil {
			t.Fatalf("ToWei(%q): %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("ToWei(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestToWei_Rejects(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "1.", "1.2.3", "1e18", " . "} {
		if _, err := ToWei(in); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("ToWei(%q): expected ErrInvalidAmount, got %v", in, err)
		}
	}
	if _, err := ToWei("0.0000000000000000001"); !errors.Is(err, ErrTooPrecise) {
		t.Fatalf("expected ErrTooPrecise, got %v", err)
	}
}

func TestRoundTripIsExact(t *testing.T) {
	inputs := []string{"1", "0.5", "1.000000000000000001", "42.42", "999999999999.999999999999999999", "0.1", "0.2"}
	for _, in := range inputs {
		wei, err := ToWei(in)
		if err != nil {
			t.Fatalf("ToWei(%q): %v", in, err)
		}
		if out := FromWei(wei); out != in {
			t.Fatalf("round trip %q -> %s -> %q", in, wei, out)
		}
	}
}

func TestCanonical(t *testing.T) {
	got, err := Canonical("001.5000")
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if got != "1.5" {
		t.Fatalf("expected 1.5, got %s", got)
	}
}

func TestAdd(t *testing.T) {
	got, err := Add("0.1", "0.2")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got != "0.3" {
		t.Fatalf("expected exact 0.3, got %s", got)
	}
}

func TestFromWei_Nil(t *testing.T) {
	if got := FromWei(nil); got != "0" {
		t.Fatalf("expected 0, got %s", got)
	}
	if got := FromWei(big.NewInt(-5e17)); got != "-0.5" {
		t.Fatalf("expected -0.5, got %s", got)
	}
}

func TestPositive(t *testing.T) {
	if Positive("0") || Positive("x") || !Positive("0.01") {
		t.Fatal("unexpected Positive result")
	}
}
