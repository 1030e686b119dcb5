// Package xid generates prefixed record ids (tx-..., item-..., ntf-...).
// The prefix tells a log reader what kind of record an id names; the
// timestamp plus random tail keeps ids unique across restarts without any
// store coordination.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	tail := make([]byte, 8)
	if _, err := rand.Read(tail); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(tail))
}
