package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The fee vocabulary is gateway-neutral: identifiers and wire values name
// the cost component, never a provider product.
func TestFeeTypeValues(t *testing.T) {
	assert.Equal(t, FeeType("processor"), FeeProcessor)
	assert.Equal(t, FeeType("three_d_secure"), FeeThreeDS)
	assert.Equal(t, FeeType("transaction"), FeeTransaction)
}

func TestTotalFees(t *testing.T) {
	fees := []Fee{
		{Type: FeeTransaction, Amount: 30},
		{Type: FeeProcessor, Amount: 5},
		{Type: FeeThreeDS, Amount: 3},
	}
	assert.Equal(t, int64(38), TotalFees(fees))
	assert.Zero(t, TotalFees(nil))
}
