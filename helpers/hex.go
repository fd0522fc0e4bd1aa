package helpers

import (
	"encoding/hex"
	"strings"
)

// MustHex builds test fixtures from hex strings. Spaces are allowed so
// long wire frames can be grouped by field. Panics on bad input.
func MustHex(s string) []byte {
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		panic(err)
	}
	return b
}
