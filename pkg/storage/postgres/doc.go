// Package postgres implements the membership repository and group
// administration store over PostgreSQL, with an optional Redis read-through
// cache in front of the repository.
package postgres
