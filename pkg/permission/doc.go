// Package permission indexes dotted permission strings into a tree that
// supports exact, prefix and wildcard ("*") lookups.
package permission
