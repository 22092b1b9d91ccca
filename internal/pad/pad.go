// Package pad builds random filler strings used to inflate response
// headers and bodies to a target size.
package pad

import (
	"math/rand/v2"
	"strings"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// String returns a random alphanumeric string so that, placed inside a
// structure already costing overhead bytes, the total comes to target bytes.
// An unreachable target (target < overhead) yields "".
func String(target, overhead uint64) string {
	if target < overhead {
		return ""
	}
	n := target - overhead

	var b strings.Builder
	b.Grow(int(n))
	for i := uint64(0); i < n; i++ {
		b.WriteByte(alphanumeric[rand.IntN(len(alphanumeric))])
	}
	return b.String()
}
