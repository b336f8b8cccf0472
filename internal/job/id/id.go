// Package id generates batch job identifiers.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Generate creates a new unique job ID of the form fetch-<unix>-<hex>,
// for example fetch-1701432000-a1b2c3d4.
func Generate() string {
	timestamp := time.Now().Unix()
	random := make([]byte, 4)
	if _, err := rand.Read(random); err != nil {
		return fmt.Sprintf("fetch-%d-%d", timestamp, time.Now().UnixNano())
	}
	return fmt.Sprintf("fetch-%d-%s", timestamp, hex.EncodeToString(random))
}
