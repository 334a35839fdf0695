package reconcile

import (
	"fmt"

	"github.com/JakeFAU/transit-bulletin-crawler/internal/bulletin"
)

// RecordFingerprint hashes the canonical JSON form of rec.
func RecordFingerprint(h bulletin.Hasher, rec bulletin.Record) (string, error) {
	canonical, err := rec.Canonical()
	if err != nil {
		return "", fmt.Errorf("%w: %w", bulletin.ErrCache, err)
	}
	return digest(h, canonical)
}

// TextFingerprint hashes the raw text bytes.
func TextFingerprint(h bulletin.Hasher, raw string) (string, error) {
	return digest(h, []byte(raw))
}

func digest(h bulletin.Hasher, data []byte) (string, error) {
	sum, err := h.Hash(data)
	if err != nil {
		return "", fmt.Errorf("%w: fingerprint: %w", bulletin.ErrCache, err)
	}
	if sum == "" {
		return "", fmt.Errorf("%w: fingerprint: empty digest", bulletin.ErrCache)
	}
	return sum, nil
}
