// Package merge collapses asynchronous partial scraper results into exactly
// one ready event per item.
//
// Scrapers deliver named fragments (a transcript, a comment thread) for the
// same item independently, in any order, from any goroutine. The Merger
// accumulates them and fires its ready callback the first time an item
// becomes eligible, and never again. The check-and-flip happens under a
// per-item lock; the callback itself always runs outside every lock so
// caller code can take its own locks or block without risking deadlock.
package merge
