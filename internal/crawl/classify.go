// Package crawl implements the crawl-and-classify engine: frontier
// management, link extraction, liveness classification, and per-run
// deduplication.
package crawl

import "github.com/cbmoss/linksentry/internal/linkscan"

// blockedCodes are responses that mean access was denied or throttled, not
// that the resource is gone.
var blockedCodes = map[int]struct{}{
	401: {},
	403: {},
	407: {},
	429: {},
	451: {},
}

// Classify maps the final HTTP status code (after redirects) to a link
// classification. Transport failures never reach here; the fetcher reports
// those as errors and they become no_response.
func Classify(statusCode int) linkscan.Classification {
	if _, ok := blockedCodes[statusCode]; ok {
		return linkscan.LinkBlocked
	}
	if statusCode >= 400 {
		return linkscan.LinkBroken
	}
	return linkscan.LinkOK
}
