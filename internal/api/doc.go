// Package api exposes the HTTP interface for the digitization service:
// item upload and lifecycle, newspaper corrections, topic rebuilds, and the
// analytics read endpoints.
package api
