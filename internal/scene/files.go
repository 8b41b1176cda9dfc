package scene

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// EncodeDataURL builds a base64 data URL for the payload.
func EncodeDataURL(mimeType string, payload []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(payload)
}

// DecodeDataURL splits a base64 data URL into its mime type and payload.
func DecodeDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: data URL must start with \"data:\"", ErrInvalidInput)
	}
	header, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: data URL has no payload separator", ErrInvalidInput)
	}
	mimeType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("%w: data URL payload must be base64", ErrInvalidInput)
	}
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("%w: data URL payload: %v", ErrInvalidInput, err)
	}
	return mimeType, payload, nil
}

// ContentHash returns the hex SHA-256 digest of a payload.
func ContentHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ValidateFile checks that a file record carries a mime type and a
// decodable base64 data URL.
func ValidateFile(key string, f FileRecord) error {
	if f.ID != "" && f.ID != key {
		return fmt.Errorf("%w: file %q has mismatched id %q", ErrInvalidInput, key, f.ID)
	}
	if strings.TrimSpace(f.MimeType) == "" {
		return fmt.Errorf("%w: file %q has no mimeType", ErrInvalidInput, key)
	}
	if _, _, err := DecodeDataURL(f.DataURL); err != nil {
		return fmt.Errorf("file %q: %w", key, err)
	}
	return nil
}
