// README: Common money value object used across modules.
package types

import "fmt"

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// DefaultCurrency applies when a catalog entry is stored without one.
const DefaultCurrency = "INR"

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}
