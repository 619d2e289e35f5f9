package proxyaddr

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestDeriveDeterministic(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000Aa")
	first, err := Derive(owner)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	second, err := Derive(owner)
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	if first != second {
		t.Fatalf("derivation not deterministic: %s != %s", first.Hex(), second.Hex())
	}
	if first == (common.Address{}) {
		t.Fatal("derived zero address")
	}
}

func TestDeriveDistinctOwners(t *testing.T) {
	a, err := Derive(common.HexToAddress("0x1111111111111111111111111111111111111111"))
	if err != nil {
		t.Fatalf("derive a: %v", err)
	}
	b, err := Derive(common.HexToAddress("0x2222222222222222222222222222222222222222"))
	if err != nil {
		t.Fatalf("derive b: %v", err)
	}
	if a == b {
		t.Fatal("distinct owners derived the same proxy")
	}
}

func TestDeriveZeroAddress(t *testing.T) {
	if _, err := Derive(common.Address{}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
}

func TestDeriveHex(t *testing.T) {
	got, err := DeriveHex("0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("derive hex: %v", err)
	}
	want, _ := Derive(common.HexToAddress("0x1111111111111111111111111111111111111111"))
	if got != want.Hex() {
		t.Fatalf("expected %s, got %s", want.Hex(), got)
	}
}

func TestDeriveHexCaseInsensitive(t *testing.T) {
	lower, err := DeriveHex("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")
	if err != nil {
		t.Fatalf("derive lower: %v", err)
	}
	upper, err := DeriveHex("0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD")
	if err != nil {
		t.Fatalf("derive upper: %v", err)
	}
	if lower != upper {
		t.Fatalf("case changed derivation: %s != %s", lower, upper)
	}
}

func TestDeriveHexMalformed(t *testing.T) {
	for _, in := range []string{"", "0x123", "not-an-address", "0xZZ11111111111111111111111111111111111111"} {
		if _, err := DeriveHex(in); !errors.Is(err, ErrMalformedAddress) {
			t.Fatalf("input %q: expected ErrMalformedAddress, got %v", in, err)
		}
	}
}
