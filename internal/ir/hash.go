package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows the
// algorithm to change without colliding with older digests.
const (
	DomainWrite  = "recsync/write/v1"
	DomainRecord = "recsync/record/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// WriteDigest identifies a server write notification. Two notifications
// with the same store, action and payload produce the same digest.
func WriteDigest(storeName, action string, payload IRValue) (string, error) {
	obj := IRObject{
		"store":   IRString(storeName),
		"action":  IRString(action),
		"payload": payload,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("WriteDigest: %w", err)
	}
	return hashWithDomain(DomainWrite, canonical), nil
}

// RecordDigest hashes a record's field data.
func RecordDigest(data IRObject) (string, error) {
	canonical, err := MarshalCanonical(data)
	if err != nil {
		return "", fmt.Errorf("RecordDigest: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}
