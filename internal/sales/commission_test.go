package sales

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/repchat/internal/identity"
)

func TestCommission(t *testing.T) {
	cases := []struct {
		amount  string
		channel identity.Channel
		want    string
	}{
		{"100.00", identity.ChannelWebsite, "10.00"},
		{"100.00", identity.ChannelInstagram, "5.00"},
		{"19.99", identity.ChannelWebsite, "2.00"},
		{"19.99", identity.ChannelInstagram, "1.00"},
		{"0.05", identity.ChannelWebsite, "0.01"},
		{"12.34", identity.ChannelInstagram, "0.62"},
		{"1234.56", identity.ChannelWebsite, "123.46"},
	}
	for _, tc := range cases {
		t.Run(tc.amount+"/"+string(tc.channel), func(t *testing.T) {
			got := Commission(decimal.RequireFromString(tc.amount), tc.channel)
			assert.Equal(t, tc.want, got.StringFixed(2))
		})
	}
}

func TestRateFor(t *testing.T) {
	assert.Equal(t, "0.1", RateFor(identity.ChannelWebsite).String())
	assert.Equal(t, "0.05", RateFor(identity.ChannelInstagram).String())
}
