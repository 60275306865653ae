package crawler

import (
	"testing"
	"time"

	"sjsage522/pricecrawler/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// This is a trimmed copy of a search results page
const listingHTML = `
<!DOCTYPE html>
<html>
<body>
  <div class="s-main-slot">
    <div data-component-type="s-search-result" data-asin="B0CK2FCG1K">
      <h2><a href="/Raspberry-Pi-5-8GB/dp/B0CK2FCG1K?ref=sr_1_1">
        <span>Raspberry Pi 5   8GB</span>
      </a></h2>
      <span class="a-price"><span class="a-offscreen">£24.99</span></span>
      <span class="a-price a-text-price"><span class="a-offscreen">£29.99</span></span>
      <span class="a-price"><span class="a-offscreen">£19.99</span></span>
    </div>
    <div data-component-type="s-search-result" data-asin="B0BJ5GT1ZN">
      <h2><a href="https://www.amazon.co.uk/Official-Pi-Case/dp/B0BJ5GT1ZN"><span>Official Pi Case</span></a></h2>
      <span class="a-price"><span class="a-offscreen">£5.00</span></span>
    </div>
    <div data-component-type="s-search-result" data-asin="B000000000">
      <h2><a href="/Unavailable-Thing/dp/B000000000"><span>Currently unavailable</span></a></h2>
    </div>
  </div>
</body>
</html>
`

const emptyListingHTML = `<html><body><div class="s-main-slot"><span>No results for your search.</span></div></body></html>`

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor("https://www.amazon.co.uk", DefaultSelectors())
	require.NoError(t, err)
	return e
}

func TestExtractFieldMapping(t *testing.T) {
	e := newTestExtractor(t)
	scrapedAt := time.Date(2024, 3, 5, 14, 30, 0, 0, time.Local)

	result, err := e.Extract([]byte(listingHTML), scrapedAt)
	require.NoError(t, err)
	assert.False(t, result.Empty)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Records, 2)

	first := result.Records[0]
	assert.Equal(t, "Raspberry Pi 5 8GB", first.Name)
	assert.Equal(t, "£24.99", first.Price)
	require.NotNil(t, first.OldPrice)
	assert.Equal(t, "£29.99", *first.OldPrice)
	assert.Equal(t, "https://www.amazon.co.uk/Raspberry-Pi-5-8GB/dp/B0CK2FCG1K?ref=sr_1_1", first.Link)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.Local), first.ScrapedAt)

	second := result.Records[1]
	assert.Equal(t, "Official Pi Case", second.Name)
	assert.Equal(t, "£5.00", second.Price)
	assert.Nil(t, second.OldPrice)
	assert.Equal(t, "https://www.amazon.co.uk/Official-Pi-Case/dp/B0BJ5GT1ZN", second.Link)
	assert.Equal(t, first.ScrapedAt, second.ScrapedAt)
}

func TestExtractIsIdempotent(t *testing.T) {
	e := newTestExtractor(t)
	scrapedAt := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

	a, err := e.Extract([]byte(listingHTML), scrapedAt)
	require.NoError(t, err)
	b, err := e.Extract([]byte(listingHTML), scrapedAt)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExtractEmptyPage(t *testing.T) {
	e := newTestExtractor(t)

	result, err := e.Extract([]byte(emptyListingHTML), time.Now())
	require.NoError(t, err)
	assert.True(t, result.Empty)
	assert.Empty(t, result.Records)
}

func TestExtractStructuralMismatch(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "missing title",
			html: `<div data-component-type="s-search-result"><h3><a href="/x">Moved</a></h3>
				<span class="a-price"><span class="a-offscreen">£1.00</span></span></div>`,
			want: "title element",
		},
		{
			name: "missing href",
			html: `<div data-component-type="s-search-result"><h2><a>No link</a></h2>
				<span class="a-price"><span class="a-offscreen">£1.00</span></span></div>`,
			want: "has no href",
		},
		{
			name: "blank title",
			html: `<div data-component-type="s-search-result"><h2><a href="/x">   </a></h2></div>`,
			want: "no text",
		},
	}

	e := newTestExtractor(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			good := `<div data-component-type="s-search-result"><h2><a href="/ok">Fine</a></h2>
				<span class="a-price"><span class="a-offscreen">£2.00</span></span></div>`
			result, err := e.Extract([]byte("<html><body>"+good+tt.html+"</body></html>"), time.Now())
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeStructural))
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, result.Records, "a faulted page yields no records")
		})
	}
}

func TestNewExtractorRejectsRelativeOrigin(t *testing.T) {
	_, err := NewExtractor("amazon.co.uk", DefaultSelectors())
	assert.Error(t, err)
}
