package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestValidateInstitutionCode_Valid(t *testing.T) {
	for _, code := range []string{"UNILAG", "OAU", "ABU-ZARIA", "MIT", "A1", "UI-2"} {
		if err := ValidateInstitutionCode(code); err != nil {
			t.Errorf("expected %q to be valid, got %v", code, err)
		}
	}
}

func TestValidateInstitutionCode_Invalid(t *testing.T) {
	tests := []string{
		"",
		"A",                  // too short
		"unilag",             // lowercase
		"1ABC",               // must start with a letter
		"-ABC",               // must start with a letter
		"AB CD",              // no spaces
		"TOOLONGCODE123456789", // over 16 chars
	}
	for _, code := range tests {
		if err := ValidateInstitutionCode(code); err == nil {
			t.Errorf("expected error for code %q", code)
		}
	}
}

func TestMarket_Reserve(t *testing.T) {
	m := &Market{TotalSupply: d(1000000), CirculatingSupply: d(250000)}
	if !m.Reserve().Equal(d(750000)) {
		t.Errorf("expected reserve 750000, got %s", m.Reserve())
	}
}

func TestTransaction_Notional(t *testing.T) {
	tests := []struct {
		typ    TransactionType
		amount float64
		price  float64
		want   float64
	}{
		{TxBuy, 100, 2.0, 100},    // amount is already currency
		{TxSell, 50, 2.0, 50},     // amount is already currency
		{TxSwap, 10, 2.0, 20},     // amount is token qty
		{TxStake, 30, 1.5, 45},    // amount is token qty
		{TxGame, 4, 0.25, 1},      // amount is token qty
		{TxDeposit, 75, 9.9, 75},  // amount is already currency
	}
	for _, tc := range tests {
		tr := &Transaction{Type: tc.typ, Amount: d(tc.amount), Price: d(tc.price)}
		if !tr.Notional().Equal(d(tc.want)) {
			t.Errorf("%s: expected notional %v, got %s", tc.typ, tc.want, tr.Notional())
		}
	}
}
