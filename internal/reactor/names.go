package reactor

import (
	"regexp"

	"golang.org/x/text/unicode/norm"
)

var idPattern = regexp.MustCompile(`^[A-Za-z_$-][A-Za-z_$0-9-]*$`)

// Property ids that would shadow instance or scope operations.
var reservedIDs = map[string]bool{
	"get":           true,
	"update":        true,
	"set":           true,
	"request":       true,
	"dispatchEvent": true,
	"warn":          true,
	"log":           true,
	"die":           true,
	"expand":        true,
	"label":         true,
	"name":          true,
	"teardown":      true,
	"settings":      true,
	"services":      true,
	"properties":    true,
	"hacks":         true,
	"modules":       true,
}

// canonical normalizes identifiers to NFC so that visually identical ids
// written with different code point sequences collide.
func canonical(id string) string {
	return norm.NFC.String(id)
}

func validID(id string) bool {
	return idPattern.MatchString(id)
}

func canonicalAll(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = canonical(id)
	}
	return out
}
