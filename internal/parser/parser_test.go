package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkival/seqscan/internal/scrape"
)

const detailPage = `<html><body>
<h1 class="listing-title">Vintage desk lamp</h1>
<span class="listing-price">$1,250.50</span>
<div class="listing-location">Portland, OR</div>
<div class="listing-description">Brass, working switch.</div>
<ul class="listing-attributes">
  <li>Condition: Used</li>
  <li>Color: Brass</li>
  <li>malformed row</li>
</ul>
</body></html>`

func TestParseExtractsListing(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	listing, err := p.Parse(scrape.Page{
		ID:   42,
		URL:  "https://example.com/item/42",
		Body: []byte(detailPage),
	})
	require.NoError(t, err)
	require.NotNil(t, listing)
	require.Equal(t, int64(42), listing.SourceID)
	require.Equal(t, "Vintage desk lamp", listing.Title)
	require.Equal(t, int64(125050), listing.PriceCents)
	require.Equal(t, "USD", listing.Currency)
	require.Equal(t, "Portland, OR", listing.Location)
	require.Equal(t, "Brass, working switch.", listing.Description)
	require.Equal(t, map[string]string{"condition": "Used", "color": "Brass"}, listing.Attributes)
	require.Equal(t, "https://example.com/item/42", listing.URL)
}

func TestParseSoftNotFoundSelector(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	_, err := p.Parse(scrape.Page{
		ID:   7,
		Body: []byte(`<html><body><div class="listing-removed">Gone</div></body></html>`),
	})
	require.ErrorIs(t, err, scrape.ErrNotFound)
}

func TestParseSoftNotFoundKeyword(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	_, err := p.Parse(scrape.Page{
		ID:   8,
		Body: []byte(`<html><body><p>This listing has been removed by the seller.</p></body></html>`),
	})
	require.ErrorIs(t, err, scrape.ErrNotFound)
}

func TestParseUnusablePageReturnsNilListing(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	listing, err := p.Parse(scrape.Page{
		ID:   9,
		Body: []byte(`<html><body><p>Interstitial page, please wait.</p></body></html>`),
	})
	require.NoError(t, err)
	require.Nil(t, listing)
}

func TestParseMissingPriceIsZero(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	listing, err := p.Parse(scrape.Page{
		ID:   10,
		Body: []byte(`<html><body><h1>Free couch</h1></body></html>`),
	})
	require.NoError(t, err)
	require.NotNil(t, listing)
	require.Zero(t, listing.PriceCents)
	require.Equal(t, "USD", listing.Currency)
}

func TestParsePrice(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw      string
		cents    int64
		currency string
	}{
		{"$1,250.50", 125050, "USD"},
		{"$12", 1200, "USD"},
		{"€99.90", 9990, "EUR"},
		{"£5", 500, "GBP"},
		{"1250", 125000, "USD"},
		{"price on request", 0, "USD"},
		{"", 0, "USD"},
	}
	for _, tc := range cases {
		cents, currency := parsePrice(tc.raw, "USD")
		require.Equal(t, tc.cents, cents, "raw %q", tc.raw)
		require.Equal(t, tc.currency, currency, "raw %q", tc.raw)
	}
}
