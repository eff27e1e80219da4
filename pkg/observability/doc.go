// Package observability provides structured logging, Prometheus metrics and
// health checking for the rosterd service.
package observability
