package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type BillingCycle string

const (
	BillingCycleYearly  BillingCycle = "yearly"
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleOnce    BillingCycle = "once"
)

// Plan is a purchasable membership plan. Amount is in the currency's minor unit.
type Plan struct {
	Name         string       `json:"name" mapstructure:"name"`
	Amount       int64        `json:"amount" mapstructure:"amount"`
	Currency     string       `json:"currency" mapstructure:"currency"`
	BillingCycle BillingCycle `json:"billing_cycle" mapstructure:"billing_cycle"`
	DurationDays int          `json:"duration_days" mapstructure:"duration_days"`
}

func (p *Plan) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("plan name is required")
	}
	if p.Amount <= 0 {
		return fmt.Errorf("plan %s: amount must be > 0", p.Name)
	}
	if p.Currency == "" {
		return fmt.Errorf("plan %s: currency is required", p.Name)
	}
	if p.DurationDays <= 0 {
		return fmt.Errorf("plan %s: duration_days must be > 0", p.Name)
	}
	return nil
}

// Matches reports whether a charge of amount (minor units) in currency pays for this plan.
func (p *Plan) Matches(amount int64, currency string) bool {
	return p.Amount == amount && strings.EqualFold(p.Currency, currency)
}

// zero-decimal currencies per the provider's documentation
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

func currencyExponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToLower(currency)]; ok {
		return 0
	}
	return 2
}

// FromMinorUnits converts a provider amount (e.g. cents) to a major-unit decimal.
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -currencyExponent(currency))
}

// ToMinorUnits converts a major-unit decimal back to the provider's minor unit.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(currencyExponent(currency)).Round(0).IntPart()
}

// NormalizeCurrency lowercases an ISO currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToLower(strings.TrimSpace(currency))
}
