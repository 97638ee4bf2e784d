package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

type tokenPayload struct {
	AfterSeq int64 `json:"afterSeq"`
}

// EncodeToken serialises the last-seen sequence number into a base64 URL-safe
// page token. Zero produces an empty token.
func EncodeToken(afterSeq int64) (string, error) {
	if afterSeq <= 0 {
		return "", nil
	}
	data, err := json.Marshal(tokenPayload{AfterSeq: afterSeq})
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses the page token produced by EncodeToken back into the
// sequence number the next page starts after.
func DecodeToken(token string) (int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var payload tokenPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if payload.AfterSeq < 0 {
		return 0, fmt.Errorf("%w: negative sequence", ErrInvalidPageToken)
	}
	return payload.AfterSeq, nil
}
