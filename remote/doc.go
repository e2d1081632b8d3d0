// Package remote implements catalog.Source over the media server's REST API.
//
// Listings are requested minified and paged by page number (offset/limit).
// Counts reuse the listing endpoint with limit=1. Progress updates go to
// the batch endpoint as {"updates": [...]} in arrival order.
package remote
