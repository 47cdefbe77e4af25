// Command digest runs the scraping-to-summary pipeline from the terminal.
//
// The run command consumes a batch manifest of scraped contributions, feeds
// them through the merge and summarization layers, and reports per-item
// results. Supporting commands inspect registry state, print stored
// summaries, cancel items, and manage configuration.
package main
