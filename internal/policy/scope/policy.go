// Package scope decides which discovered links belong to a crawl.
package scope

import (
	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

// Policy keeps page fetches on the wiki that hosts the root category.
// Thumbnails are not gated; wikis commonly serve images from another host.
type Policy struct {
	host string
}

// New creates a Policy rooted at rootURL.
func New(rootURL string) *Policy {
	return &Policy{host: crawler.Host(rootURL)}
}

// AllowFetch reports whether a discovered page of the given kind may be
// enqueued.
func (p *Policy) AllowFetch(kind crawler.TargetKind, rawURL string) bool {
	if p == nil {
		return true
	}
	if !kind.Valid() {
		return false
	}
	host := crawler.Host(rawURL)
	return host != "unknown" && host == p.host
}
