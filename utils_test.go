package x402

import (
	"errors"
	"strings"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "decimal", input: "10000", want: "10000"},
		{name: "zero", input: "0", want: "0"},
		{name: "hex", input: "0x2710", want: "10000"},
		{name: "uppercase hex prefix", input: "0X0A", want: "10"},
		{name: "max uint256", input: "0x" + strings.Repeat("f", 64), want: ""},
		{name: "empty", input: "", wantErr: true},
		{name: "negative", input: "-1", wantErr: true},
		{name: "words", input: "ten", wantErr: true},
		{name: "overflow", input: "0x1" + strings.Repeat("0", 64), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) && err == nil {
					t.Fatalf("error = %v, want ErrInvalidAmount", err)
				}
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q): %v", tt.input, err)
			}
			if tt.want != "" && got.String() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	want := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	for _, input := range []string{want, strings.TrimPrefix(want, "0x")} {
		addr, err := ParseAddress(input)
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", input, err)
		}
		if addr.Hex() != want {
			t.Errorf("ParseAddress(%q) = %s", input, addr.Hex())
		}
	}

	for _, input := range []string{"", "0x123", "0x" + strings.Repeat("g", 40)} {
		if _, err := ParseAddress(input); err == nil {
			t.Errorf("ParseAddress(%q): expected error", input)
		}
	}
}

func TestGenerateNonce(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 16; i++ {
		nonce, err := GenerateNonce()
		if err != nil {
			t.Fatalf("GenerateNonce: %v", err)
		}
		if !strings.HasPrefix(nonce, "0x") || len(nonce) != 66 {
			t.Fatalf("nonce %q is not 0x plus 64 hex characters", nonce)
		}
		if seen[nonce] {
			t.Fatalf("nonce %q repeated", nonce)
		}
		seen[nonce] = true

		if _, err := ParseNonce(nonce); err != nil {
			t.Errorf("ParseNonce(%q): %v", nonce, err)
		}
	}
}

func TestParseSignature(t *testing.T) {
	valid := "0x" + strings.Repeat("ab", 65)
	sig, err := ParseSignature(valid)
	if err != nil {
		t.Fatalf("ParseSignature: %v", err)
	}
	if len(sig) != 65 {
		t.Errorf("len = %d, want 65", len(sig))
	}

	// 64 and 66 bytes are both rejected: v must be present, nothing more.
	for _, input := range []string{
		"0x" + strings.Repeat("ab", 64),
		"0x" + strings.Repeat("ab", 66),
		"0xzz",
	} {
		if _, err := ParseSignature(input); err == nil {
			t.Errorf("ParseSignature(%q): expected error", input)
		}
	}
}

func TestIsTimestampValid(t *testing.T) {
	tests := []struct {
		name                         string
		now, validAfter, validBefore uint64
		want                         bool
	}{
		{"inside window", 150, 100, 200, true},
		{"at validAfter", 100, 100, 200, true},
		{"at validBefore", 200, 100, 200, true},
		{"just before window", 99, 100, 200, false},
		{"just after window", 201, 100, 200, false},
		{"before window", 50, 100, 200, false},
		{"after window", 250, 100, 200, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTimestampValid(tt.now, tt.validAfter, tt.validBefore); got != tt.want {
				t.Errorf("IsTimestampValid(%d, %d, %d) = %v", tt.now, tt.validAfter, tt.validBefore, got)
			}
		})
	}
}

func TestDollarToTokenAmount(t *testing.T) {
	tests := []struct {
		name      string
		amountUSD float64
		price     float64
		decimals  int
		want      string
	}{
		{"one cent of USDC", 0.01, 1.0, 6, "10000"},
		{"one dollar of USDC", 1.0, 1.0, 6, "1000000"},
		{"token at two dollars", 1.0, 2.0, 6, "500000"},
		{"eighteen decimals", 0.5, 1.0, 18, "500000000000000000"},
		{"zero price", 1.0, 0, 6, "0"},
		{"negative amount", -1.0, 1.0, 6, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DollarToTokenAmount(tt.amountUSD, tt.price, tt.decimals); got != tt.want {
				t.Errorf("DollarToTokenAmount(%v, %v, %d) = %s, want %s",
					tt.amountUSD, tt.price, tt.decimals, got, tt.want)
			}
		})
	}
}
