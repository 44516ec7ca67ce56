// Paginated account fetching from the forge admin API under a request budget.
//
// Three strategies share one pagination loop: newest-first with an id watermark, recently
// updated with a small sliding window of ids already seen, and an oldest-first sweep over the
// whole instance. Cursors live in memory only; after a restart they are re-primed from page 1.
package fetcher
