// Package api exposes the membership resolution engine and group
// administration over HTTP.
package api
