package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMinorUnits(t *testing.T) {
	cases := []struct {
		amount   int64
		currency string
		want     string
	}{
		{10000, "usd", "100"},
		{1999, "EUR", "19.99"},
		{500, "jpy", "500"},
		{0, "usd", "0"},
	}
	for _, tc := range cases {
		got := FromMinorUnits(tc.amount, tc.currency)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "%d %s -> %s", tc.amount, tc.currency, got)
	}
}

func TestToMinorUnitsRoundTrip(t *testing.T) {
	assert.Equal(t, int64(10000), ToMinorUnits(decimal.RequireFromString("100.00"), "usd"))
	assert.Equal(t, int64(500), ToMinorUnits(decimal.RequireFromString("500"), "jpy"))
	assert.Equal(t, int64(1999), ToMinorUnits(FromMinorUnits(1999, "usd"), "usd"))
}

func TestPlanMatches(t *testing.T) {
	p := &Plan{Name: "annual", Amount: 10000, Currency: "usd", BillingCycle: BillingCycleYearly, DurationDays: 365}
	require.NoError(t, p.Validate())
	assert.True(t, p.Matches(10000, "USD"))
	assert.False(t, p.Matches(9999, "usd"))
	assert.False(t, p.Matches(10000, "eur"))
}

func TestPlanValidate(t *testing.T) {
	assert.Error(t, (&Plan{}).Validate())
	assert.Error(t, (&Plan{Name: "x", Amount: 1, Currency: "usd"}).Validate())
	assert.Error(t, (&Plan{Name: "x", Amount: 0, Currency: "usd", DurationDays: 1}).Validate())
}

func TestTransactionStatusSupersedes(t *testing.T) {
	assert.True(t, TransactionStatusCompleted.Supersedes(TransactionStatusPending))
	assert.True(t, TransactionStatusFailed.Supersedes(TransactionStatusPending))
	assert.True(t, TransactionStatusCompleted.Supersedes(TransactionStatusFailed))
	assert.False(t, TransactionStatusFailed.Supersedes(TransactionStatusCompleted))
	assert.False(t, TransactionStatusPending.Supersedes(TransactionStatusFailed))
	assert.False(t, TransactionStatusCompleted.Supersedes(TransactionStatusCompleted))
}
