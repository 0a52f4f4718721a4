// Package parser extracts listing records from fetched catalog pages.
package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/arkival/seqscan/internal/scrape"
)

// Config holds the CSS selectors for the catalog's detail-page layout.
// Zero-value fields fall back to the defaults below.
type Config struct {
	TitleSelector       string
	PriceSelector       string
	LocationSelector    string
	DescriptionSelector string
	// AttributeSelector matches rows whose text is "key: value".
	AttributeSelector string
	// NotFoundSelector marks soft-deleted pages served with HTTP 200.
	NotFoundSelector string
	// NotFoundKeywords are lowercase phrases that also mark soft deletions.
	NotFoundKeywords []string
	DefaultCurrency  string
}

func (c Config) withDefaults() Config {
	if c.TitleSelector == "" {
		c.TitleSelector = "h1.listing-title, h1"
	}
	if c.PriceSelector == "" {
		c.PriceSelector = ".listing-price, .price"
	}
	if c.LocationSelector == "" {
		c.LocationSelector = ".listing-location, .location"
	}
	if c.DescriptionSelector == "" {
		c.DescriptionSelector = ".listing-description, .description"
	}
	if c.AttributeSelector == "" {
		c.AttributeSelector = ".listing-attributes li, .attributes li"
	}
	if c.NotFoundSelector == "" {
		c.NotFoundSelector = ".listing-removed, .not-found"
	}
	if len(c.NotFoundKeywords) == 0 {
		c.NotFoundKeywords = []string{
			"listing has been removed",
			"no longer available",
			"listing not found",
		}
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = "USD"
	}
	return c
}

// ListingParser implements scrape.Parser on top of goquery.
type ListingParser struct {
	cfg Config
}

// New builds a ListingParser.
func New(cfg Config) *ListingParser {
	return &ListingParser{cfg: cfg.withDefaults()}
}

// Parse extracts a Listing from the page. It returns an error wrapping
// ErrNotFound when the page content marks the entity as removed even though
// the transport reported success, and (nil, nil) when the page exists but
// carries no usable record.
func (p *ListingParser) Parse(page scrape.Page) (*scrape.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse page for id %d: %w", page.ID, err)
	}

	if p.isSoftNotFound(doc, page.Body) {
		return nil, fmt.Errorf("%w: id %d marked removed", scrape.ErrNotFound, page.ID)
	}

	title := text(doc, p.cfg.TitleSelector)
	if title == "" {
		// Page exists but has no extractable record.
		return nil, nil
	}

	priceCents, currency := parsePrice(text(doc, p.cfg.PriceSelector), p.cfg.DefaultCurrency)

	listing := &scrape.Listing{
		SourceID:    page.ID,
		Title:       title,
		PriceCents:  priceCents,
		Currency:    currency,
		Location:    text(doc, p.cfg.LocationSelector),
		Description: text(doc, p.cfg.DescriptionSelector),
		Attributes:  p.parseAttributes(doc),
		URL:         page.URL,
	}
	return listing, nil
}

func (p *ListingParser) isSoftNotFound(doc *goquery.Document, body []byte) bool {
	if doc.Find(p.cfg.NotFoundSelector).Length() > 0 {
		return true
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range p.cfg.NotFoundKeywords {
		if bytes.Contains(lowerBody, []byte(kw)) {
			return true
		}
	}
	return false
}

func (p *ListingParser) parseAttributes(doc *goquery.Document) map[string]string {
	var attrs map[string]string
	doc.Find(p.cfg.AttributeSelector).Each(func(_ int, sel *goquery.Selection) {
		key, value, ok := strings.Cut(sel.Text(), ":")
		if !ok {
			return
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			return
		}
		if attrs == nil {
			attrs = make(map[string]string)
		}
		attrs[key] = value
	})
	return attrs
}

func text(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

// parsePrice turns a display price like "$1,250.50" into cents plus a
// currency code. Unparseable prices come back as zero with the default
// currency, which keeps free or price-on-request listings ingestable.
func parsePrice(raw, defaultCurrency string) (int64, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, defaultCurrency
	}

	currency := defaultCurrency
	switch {
	case strings.ContainsRune(raw, '$'):
		currency = "USD"
	case strings.ContainsRune(raw, '€'):
		currency = "EUR"
	case strings.ContainsRune(raw, '£'):
		currency = "GBP"
	}

	var digits strings.Builder
	seenDot := false
	fracDigits := 0
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
			if seenDot {
				fracDigits++
			}
		case r == '.' && !seenDot:
			seenDot = true
		}
		if fracDigits == 2 {
			break
		}
	}
	if digits.Len() == 0 {
		return 0, currency
	}
	n, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0, currency
	}
	for fracDigits < 2 {
		n *= 10
		fracDigits++
	}
	return n, currency
}
