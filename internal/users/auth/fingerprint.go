// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"crypto/subtle"
	"fmt"

	"github.com/taibuivan/schedula/internal/platform/sec"
)

// FingerprintManager issues and compares device fingerprints.
type FingerprintManager struct{}

// NewFingerprintManager returns a stateless manager.
func NewFingerprintManager() *FingerprintManager {
	return &FingerprintManager{}
}

// Resolve reuses supplied when it is well formed, otherwise generates a fresh
// fingerprint.
func (manager *FingerprintManager) Resolve(supplied string) (string, error) {
	if WellFormedFingerprint(supplied) {
		return supplied, nil
	}
	fingerprint, err := sec.GenerateSecureToken(FingerprintBytes)
	if err != nil {
		return "", fmt.Errorf("auth_fingerprint_generate_failed: %w", err)
	}
	return fingerprint, nil
}

// Matches compares two fingerprints in constant time. Empty never matches.
func (manager *FingerprintManager) Matches(stored, supplied string) bool {
	if stored == "" || supplied == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

// WellFormedFingerprint reports whether value is 64 lowercase hex characters.
func WellFormedFingerprint(value string) bool {
	if len(value) != FingerprintLength {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
