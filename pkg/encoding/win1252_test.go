package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToUTF8(t *testing.T) {
	assert.Equal(t, "", ToUTF8(nil))
	assert.Equal(t, "João", ToUTF8([]byte("  João ")))
	// "Conceição" in WIN1252
	assert.Equal(t, "Conceição", ToUTF8([]byte{'C', 'o', 'n', 'c', 'e', 'i', 0xE7, 0xE3, 'o'}))
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(nil, ","))
	assert.Equal(t, []string{"payslip", "bank_statement"}, SplitList([]byte("payslip, bank_statement,,"), ","))
	assert.Equal(t, []string{"proof_of_address"}, SplitList([]byte("proof_of_address"), ","))
}
