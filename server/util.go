package main

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// Identifies this server process in every welcome frame
// Random 64bit hex, the clock is used if the random source fails
func newServerID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return fmt.Sprintf("%016x", binary.LittleEndian.Uint64(b[:]))
}
