package sales

import (
	"github.com/shopspring/decimal"

	"github.com/repchat/internal/identity"
)

var (
	websiteRate   = decimal.RequireFromString("0.10")
	instagramRate = decimal.RequireFromString("0.05")
)

// RateFor returns the commission rate for a channel.
func RateFor(ch identity.Channel) decimal.Decimal {
	if ch == identity.ChannelInstagram {
		return instagramRate
	}
	return websiteRate
}

// Commission is amount × rate rounded half away from zero to cents.
func Commission(amount decimal.Decimal, ch identity.Channel) decimal.Decimal {
	return amount.Mul(RateFor(ch)).Round(2)
}
