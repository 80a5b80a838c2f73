package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidWallet(t *testing.T) {
	assert.True(t, IsValidWallet("0x1111111111111111111111111111111111111111"))
	assert.True(t, IsValidWallet("0xAbCd111111111111111111111111111111111111"))
	assert.False(t, IsValidWallet("0x123"))
	assert.False(t, IsValidWallet("1111111111111111111111111111111111111111"))
	assert.False(t, IsValidWallet(""))
	assert.False(t, IsValidWallet("0xZZ11111111111111111111111111111111111111"))
}

func TestSanitizeWallet(t *testing.T) {
	assert.Equal(t,
		"0xabcd111111111111111111111111111111111111",
		SanitizeWallet("  0xABCD111111111111111111111111111111111111 "))
	assert.Equal(t,
		"0xabcd111111111111111111111111111111111111",
		SanitizeWallet("abcd111111111111111111111111111111111111"))
}

func TestIsValidAmount(t *testing.T) {
	assert.True(t, IsValidAmount("0.01"))
	assert.True(t, IsValidAmount("100"))
	assert.False(t, IsValidAmount("0"))
	assert.False(t, IsValidAmount("-1"))
	assert.False(t, IsValidAmount("abc"))
	assert.False(t, IsValidAmount(""))
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "hello", SanitizeText("  hello\x00 ", 100))
	long := strings.Repeat("a", 200)
	assert.Len(t, SanitizeText(long, 50), 50)
}

func TestCheck(t *testing.T) {
	errs := Check(
		ValidWallet("buyer", "0x1111111111111111111111111111111111111111"),
		ValidAmount("amount", "nope"),
	)
	assert.Len(t, errs, 1)
	assert.Equal(t, "amount", errs[0].Field)
	assert.Contains(t, errs.Error(), "amount")
}
