package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"formflow/internal/errorz"

	"github.com/oklog/ulid/v2"
)

// MediaObject describes an uploaded question video
type MediaObject struct {
	Key    string `json:"key"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
	MIME   string `json:"mime"`
	SHA256 string `json:"sha256,omitempty"`
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ObjectKey builds a collision-free key under the workspace's prefix:
// <workspace>/<ulid>-<sanitized name>
func ObjectKey(workspaceID, fileName string) string {
	base := unsafeChars.ReplaceAllString(path.Base(strings.ReplaceAll(fileName, "\\", "/")), "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "upload"
	}
	return fmt.Sprintf("%s/%s-%s", unsafeChars.ReplaceAllString(workspaceID, "_"), strings.ToLower(ulid.Make().String()), base)
}

// ValidateKey rejects keys that could escape the storage root
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: object key is required", errorz.ErrInvalidInput)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: object key must be relative", errorz.ErrInvalidInput)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: invalid object key %q", errorz.ErrInvalidInput, key)
		}
	}
	return nil
}

// WorkspaceOf returns the workspace prefix of a key
func WorkspaceOf(key string) string {
	ws, _, _ := strings.Cut(key, "/")
	return ws
}
