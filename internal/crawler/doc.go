// Package crawler holds the domain vocabulary of the wiki crawler: crawl
// targets, frontier entries, entity records, the failure taxonomy, canonical
// URLs and the retry policy. Subsystems depend on the small interfaces declared
// here rather than on each other.
package crawler
