// Package xid generates prefixed identifiers for stored records: "prod"
// for products, "sale" for sales, "stk" for stock history entries and
// "ntf" for notifications.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a prefixed id built from the current time and random bytes.
// When the random source fails the timestamp alone still keeps ids unique
// enough for a single process.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
