package membership

import (
	"encoding/csv"
	"regexp"
	"strconv"
	"strings"
)

var argToken = regexp.MustCompile(`\$(\d+)`)

// ParseArgs decodes the stored CSV encoding of membership argument values.
// The stored text is treated as possibly holding multiple records, but only
// the first one is meaningful. Malformed input degrades to no arguments
// rather than failing the resolution.
func ParseArgs(raw string) []string {
	if raw == "" {
		return nil
	}
	record, err := csv.NewReader(strings.NewReader(raw)).Read()
	if err != nil {
		return nil
	}
	return record
}

// EncodeArgs is the inverse of ParseArgs, producing the single-record CSV
// encoding used by the membership store.
func EncodeArgs(args []string) string {
	if len(args) == 0 {
		return ""
	}
	var buf strings.Builder
	w := csv.NewWriter(&buf)
	_ = w.Write(args)
	w.Flush()
	return strings.TrimRight(buf.String(), "\n")
}

// RenderDisplayName substitutes positional $1..$N tokens in the group's
// display template with the membership's argument values. Without a
// template the plain group name is used. Tokens beyond the argument count
// are left as-is.
func RenderDisplayName(g *Group, args []string) string {
	if g.NameDisplay == "" {
		return g.NameBase
	}
	return argToken.ReplaceAllStringFunc(g.NameDisplay, func(tok string) string {
		n, err := strconv.Atoi(tok[1:])
		if err != nil || n < 1 || n > len(args) {
			return tok
		}
		return args[n-1]
	})
}
