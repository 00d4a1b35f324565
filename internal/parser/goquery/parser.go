// Package goqueryparser extracts structured content from HTML documents
// using goquery.
package goqueryparser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/changhorizon/content-collector/internal/collector"
)

// Parser implements HTML parsing on top of goquery. It returns links and
// media URLs exactly as they appear in the document; resolving them
// against the base URL is the link extractor's job.
type Parser struct{}

// New creates a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse extracts the title, body, meta tags, anchor links and media
// resource URLs from one HTML document.
func (p *Parser) Parse(html []byte, baseURL string) (collector.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return collector.ParseResult{}, fmt.Errorf("parse html: %w", err)
	}

	result := collector.ParseResult{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Meta:  extractMeta(doc),
	}

	if body, err := doc.Find("body").First().Html(); err == nil {
		result.BodyHTML = strings.TrimSpace(body)
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			if href = strings.TrimSpace(href); href != "" {
				result.Links = append(result.Links, href)
			}
		}
	})

	result.MediaURLs = extractMediaURLs(doc)
	return result, nil
}

func extractMeta(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)
	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		key, ok := sel.Attr("name")
		if !ok {
			key, ok = sel.Attr("property")
		}
		if !ok || key == "" {
			return
		}
		if content, ok := sel.Attr("content"); ok {
			meta[strings.ToLower(key)] = content
		}
	})
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// extractMediaURLs collects embedded resource URLs: images, scripts,
// stylesheets and audio/video sources.
func extractMediaURLs(doc *goquery.Document) []string {
	var urls []string
	collect := func(selector, attr string) {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			if src, ok := sel.Attr(attr); ok {
				if src = strings.TrimSpace(src); src != "" {
					urls = append(urls, src)
				}
			}
		})
	}

	collect("img[src]", "src")
	collect("script[src]", "src")
	collect(`link[rel="stylesheet"][href]`, "href")
	collect("video[src]", "src")
	collect("audio[src]", "src")
	collect("source[src]", "src")
	return urls
}
