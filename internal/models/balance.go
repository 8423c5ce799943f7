package models

// BalanceUnloaded is the sentinel for a balance that has not yet been
// read from persistence. While either balance carries it, nothing may
// be written back, or a startup race would clobber durable state with
// blank defaults.
const BalanceUnloaded = -1

// Balances is the pair of independent currency balances.
type Balances struct {
	USD float64 `json:"usd"`
	TRY float64 `json:"try"`
}

// NewUnloadedBalances returns the pre-load sentinel state.
func NewUnloadedBalances() Balances {
	return Balances{USD: BalanceUnloaded, TRY: BalanceUnloaded}
}

// Loaded reports whether both balances were read from persistence.
func (b Balances) Loaded() bool {
	return b.USD != BalanceUnloaded && b.TRY != BalanceUnloaded
}

// Get returns the balance for a currency.
func (b Balances) Get(currency string) float64 {
	if currency == CurrencyTRY {
		return b.TRY
	}
	return b.USD
}

// Set overwrites the balance for a currency.
func (b *Balances) Set(currency string, amount float64) {
	if currency == CurrencyTRY {
		b.TRY = amount
		return
	}
	b.USD = amount
}
