package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainPlan = "deid/plan/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // Null separator - CRITICAL for security
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PlanFingerprint computes the content-addressed identity of a compiled plan.
// Two compilations of the same table with unchanged inputs yield the same
// fingerprint; any change to the output fields (including order) or the
// rendered SQL changes it.
func PlanFingerprint(key TableKey, fields []string, sql string) (string, error) {
	obj := map[string]any{
		"dataset": key.Dataset,
		"table":   key.Table,
		"fields":  fields,
		"sql":     sql,
		"version": PlanVersion,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("PlanFingerprint: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainPlan, canonical), nil
}
