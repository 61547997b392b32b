// Package parser extracts entity links, pagination and thumbnails from
// MediaWiki category and entity pages.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

const (
	filePagePrefix = "/w/File:"
	imagesPrefix   = "/images/"
	nextPageText   = "next page"
)

// Wiki implements crawler.Parser for MediaWiki page templates.
type Wiki struct{}

var _ crawler.Parser = Wiki{}

// New returns a Wiki parser.
func New() Wiki {
	return Wiki{}
}

// ParseCategoryPage extracts entity links and the next-page link from a category page.
func (Wiki) ParseCategoryPage(html []byte, pageURL string) (crawler.CategoryPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return crawler.CategoryPage{}, &crawler.ParseError{URL: pageURL, Reason: fmt.Sprintf("read html: %v", err)}
	}

	// Subcategory and media listings also use div.mw-category; the entity
	// listing lives under #mw-pages and is the last block on the page.
	listing := doc.Find("#mw-pages div.mw-category")
	if listing.Length() == 0 {
		listing = doc.Find("div.mw-category")
	}
	if listing.Length() == 0 && doc.Find("#mw-pages").Length() == 0 {
		return crawler.CategoryPage{}, &crawler.ParseError{URL: pageURL, Reason: "no category listing found"}
	}

	page := crawler.CategoryPage{}
	seen := make(map[string]struct{})
	listing.Last().Find("li a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs, err := crawler.Resolve(pageURL, href)
		if err != nil {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		name := strings.TrimSpace(s.Text())
		if title, ok := s.Attr("title"); ok && strings.TrimSpace(title) != "" {
			name = strings.TrimSpace(title)
		}
		page.Entities = append(page.Entities, crawler.Link{Name: name, URL: abs})
	})

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(s.Text()), nextPageText) {
			return true
		}
		href, _ := s.Attr("href")
		abs, err := crawler.Resolve(pageURL, href)
		if err != nil {
			return true
		}
		page.NextPageURL = abs
		return false
	})

	return page, nil
}

// ParseEntityPage extracts the display name and thumbnail URL of an entity page.
func (Wiki) ParseEntityPage(html []byte, pageURL string) (crawler.EntityPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return crawler.EntityPage{}, &crawler.ParseError{URL: pageURL, Reason: fmt.Sprintf("read html: %v", err)}
	}

	heading := doc.Find("h1#firstHeading").First()
	hasContent := doc.Find("#mw-content-text").Length() > 0
	if heading.Length() == 0 && !hasContent {
		return crawler.EntityPage{}, &crawler.ParseError{URL: pageURL, Reason: "no heading or content block"}
	}

	page := crawler.EntityPage{Name: strings.TrimSpace(heading.Text())}
	if page.Name == "" {
		page.Name = crawler.TitleFromURL(pageURL)
	}

	doc.Find("a.mw-file-description[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		thumb, ok := thumbnailURL(pageURL, href)
		if !ok {
			return true
		}
		page.ThumbnailURL = thumb
		return false
	})

	return page, nil
}

// thumbnailURL rewrites a file description link ("/w/File:X.png") into the
// direct image URL ("/images/X.png") on the page's host.
func thumbnailURL(pageURL, href string) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	escaped := ref.EscapedPath()
	if !strings.HasPrefix(escaped, filePagePrefix) {
		return "", false
	}
	name := strings.TrimPrefix(escaped, filePagePrefix)
	if name == "" {
		return "", false
	}
	abs, err := crawler.Resolve(pageURL, imagesPrefix+name)
	if err != nil {
		return "", false
	}
	return abs, true
}
