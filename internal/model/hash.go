package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DigestMessage = "xchange/message/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MessageDigest identifies an encoded cross-domain message by content. Two
// deliveries of the same bytes share a digest.
func MessageDigest(frame []byte) string {
	return hashWithDomain(DigestMessage, frame)
}
