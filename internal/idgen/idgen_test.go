package idgen

import (
	"strings"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("tx_")
	if !strings.HasPrefix(id, "tx_") {
		t.Errorf("expected tx_ prefix, got %s", id)
	}
	if len(id) != 3+24 {
		t.Errorf("expected 27 chars, got %d", len(id))
	}
	if id == WithPrefix("tx_") {
		t.Error("two generated IDs should not collide")
	}
}

func TestReceiptCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		code := ReceiptCode()
		if len(code) != len("RCP-XXXX-XXXX") {
			t.Fatalf("unexpected length: %s", code)
		}
		if !strings.HasPrefix(code, "RCP-") {
			t.Fatalf("missing prefix: %s", code)
		}
		for _, r := range code[4:] {
			if r == '-' {
				continue
			}
			if !strings.ContainsRune(receiptAlphabet, r) {
				t.Fatalf("character %q outside alphabet in %s", r, code)
			}
		}
		if seen[code] {
			t.Fatalf("collision after %d codes: %s", i, code)
		}
		seen[code] = true
	}
}
