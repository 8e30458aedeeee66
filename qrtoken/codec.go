// Package qrtoken defines the scannable code format and the optical
// decode step that turns captured frames back into raw code strings.
package qrtoken

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"strings"
)

const (
	prefix  = "qr-"
	bodyLen = 16
	sumLen  = 2
)

// Generate issues a new code: "qr-" + 16 random hex chars + 2 checksum
// chars. The checksum lets corrupted scans be rejected before a database
// round trip.
func Generate() string {
	buf := make([]byte, bodyLen/2)
	rand.Read(buf)
	body := hex.EncodeToString(buf)
	return prefix + body + checksum(body)
}

// Wellformed reports whether s has the shape and checksum of an issued
// code. It says nothing about whether such a code was ever issued.
func Wellformed(s string) bool {
	if len(s) != len(prefix)+bodyLen+sumLen {
		return false
	}
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	body := s[len(prefix) : len(prefix)+bodyLen]
	sum := s[len(prefix)+bodyLen:]
	if !isLowerHex(body) || !isLowerHex(sum) {
		return false
	}
	return checksum(body) == sum
}

func checksum(body string) string {
	sum := crc32.ChecksumIEEE([]byte(body))
	return fmt.Sprintf("%02x", byte(sum))
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}
