package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"sjsage522/pricecrawler/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

// Extractor converts listing markup into product records using CSS selectors
type Extractor struct {
	Selectors Selectors
	origin    *url.URL
}

// NewExtractor creates an extractor that resolves entry links against linkOrigin
func NewExtractor(linkOrigin string, selectors Selectors) (*Extractor, error) {
	origin, err := url.Parse(linkOrigin)
	if err != nil {
		return nil, fmt.Errorf("parse link origin: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("link origin %q must be absolute", linkOrigin)
	}
	return &Extractor{Selectors: selectors, origin: origin}, nil
}

// Extract parses one listing page. A page without result entries is reported
// as empty. An entry without a title or href fails the whole page with a
// structural error; an entry without any price is skipped.
func (e *Extractor) Extract(markup []byte, scrapedAt time.Time) (PageResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return PageResult{}, errors.NewTransient("extractor", "HTML parse failed", err)
	}

	entries := doc.Find(e.Selectors.ResultList)
	if entries.Length() == 0 {
		return PageResult{Empty: true}, nil
	}

	scrapedOn := DateOf(scrapedAt)
	result := PageResult{Records: make(CrawlBatch, 0, entries.Length())}

	var fault error
	entries.EachWithBreak(func(i int, s *goquery.Selection) bool {
		record, ok, err := e.processEntry(s, scrapedOn)
		if err != nil {
			fault = fmt.Errorf("entry %d: %w", i, err)
			return false
		}
		if !ok {
			result.Skipped++
			return true
		}
		result.Records = append(result.Records, record)
		return true
	})
	if fault != nil {
		return PageResult{}, fault
	}

	return result, nil
}

// processEntry extracts a single result entry. ok is false when the entry has no price.
func (e *Extractor) processEntry(s *goquery.Selection, scrapedOn time.Time) (ProductRecord, bool, error) {
	titleSel := s.Find(e.Selectors.Title).First()
	if titleSel.Length() == 0 {
		return ProductRecord{}, false, errors.NewStructural("extractor", fmt.Sprintf("title element %q not found", e.Selectors.Title))
	}

	name := strings.Join(strings.Fields(titleSel.Text()), " ")
	if name == "" {
		return ProductRecord{}, false, errors.NewStructural("extractor", "title element has no text")
	}

	href, exists := titleSel.Attr("href")
	href = strings.TrimSpace(href)
	if !exists || href == "" {
		return ProductRecord{}, false, errors.NewStructural("extractor", fmt.Sprintf("title element for %q has no href", name))
	}
	link, err := e.resolveURL(href)
	if err != nil {
		return ProductRecord{}, false, errors.NewStructural("extractor", fmt.Sprintf("href %q is not a URL: %v", href, err))
	}

	var prices []string
	s.Find(e.Selectors.Price).Each(func(_ int, p *goquery.Selection) {
		if text := strings.TrimSpace(p.Text()); text != "" {
			prices = append(prices, text)
		}
	})
	if len(prices) == 0 {
		return ProductRecord{}, false, nil
	}

	record := ProductRecord{
		Name:      name,
		Price:     prices[0],
		Link:      link,
		ScrapedAt: scrapedOn,
	}
	if len(prices) > 1 {
		oldPrice := prices[1]
		record.OldPrice = &oldPrice
	}
	return record, true, nil
}

// resolveURL joins a relative href with the link origin; absolute hrefs are kept
func (e *Extractor) resolveURL(href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return e.origin.ResolveReference(ref).String(), nil
}
