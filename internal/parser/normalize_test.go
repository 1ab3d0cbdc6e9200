package parser

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrice(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   float64
		wantOK bool
	}{
		{"plain decimal", "19.99", 19.99, true},
		{"dollar sign", "$19.99", 19.99, true},
		{"thousands separator", "$1,234.50", 1234.50, true},
		{"US prefix", "US $7.05", 7.05, true},
		{"non-breaking space", "$\u00a012.00", 12, true},
		{"integer", "42", 42, true},
		{"empty", "", 0, false},
		{"range is rejected", "$49.99 - $104.99", 0, false},
		{"zero is not a price", "$0.00", 0, false},
		{"text", "See price in cart", 0, false},
		{"trailing garbage", "12.99/month", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Price(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}
}

func TestRating(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"4.5 out of 5 stars", 4.5},
		{"3.9", 3.9},
		{"5 out of 5 stars", 5},
		{"4,7 von 5", 4.7},
		{"", 0},
		{"   ", 0},
		{"no rating", 0},
		{"9.9 out of 10", 0},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.InDelta(t, tt.want, Rating(tt.raw), 0.0001)
		})
	}
}

func TestReviewCount(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"1,234", 1234},
		{"1,234 ratings", 1234},
		{"(87)", 87},
		{"500+ reviews", 500},
		{"12 product ratings", 12},
		{"3 Reviews", 3},
		{"", 0},
		{"no reviews yet", 0},
		{"12abc", 0},
		{"99999999999999999999999 ratings", 0},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ReviewCount(tt.raw))
		})
	}
}

func TestSalesCount(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"1,234 sold", 1234},
		{"2.5k", 2500},
		{"2.5K sold", 2500},
		{"10k+ sold", 10000},
		{"4.1k", 4100},
		{"(56)", 56},
		{"1K+ bought in past month", 1000},
		{"", 0},
		{"sold out", 0},
		{"3.5", 0},
		{"12abc", 0},
		{"99999999999999999999999 sold", 0},
		{"99999999999999999999k", 0},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, SalesCount(tt.raw))
		})
	}
}

func TestSalesCount_NormalizedIntegersRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 7, 99, 1234, 50000, 987654321} {
		s := strconv.Itoa(n)
		assert.Equal(t, n, SalesCount(s), s)
		assert.Equal(t, n, SalesCount(strconv.Itoa(SalesCount(s))), s)
	}
}

func TestBestSeller(t *testing.T) {
	assert.True(t, BestSeller("Best Seller"))
	assert.True(t, BestSeller("#1"))
	assert.False(t, BestSeller(""))
	assert.False(t, BestSeller("  \n "))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Samsung 990 PRO 2TB SSD", Title(` Samsung 990 PRO, 2TB "SSD" `))
	assert.Equal(t, "Kids Toy", Title("Kid's Toy"))
	assert.Equal(t, "", Title(""))
}

func TestAbsoluteURL(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		origin string
		want   string
	}{
		{"protocol relative", "//img.example.com/a.jpg", "https://www.example.com", "https://img.example.com/a.jpg"},
		{"site relative", "/dp/B0TEST", "https://www.amazon.com", "https://www.amazon.com/dp/B0TEST"},
		{"site relative with query", "/p/-/A-123?preselect=1", "https://www.target.com", "https://www.target.com/p/-/A-123?preselect=1"},
		{"absolute stays", "https://www.ebay.com/itm/1", "https://www.amazon.com", "https://www.ebay.com/itm/1"},
		{"http stays", "http://example.com/x", "", "http://example.com/x"},
		{"empty", "", "https://www.amazon.com", ""},
		{"no origin", "/dp/1", "", "/dp/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AbsoluteURL(tt.raw, tt.origin))
		})
	}
}
