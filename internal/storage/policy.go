package storage

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"formflow/internal/errorz"
)

// FilePolicy represents upload constraints for question media
type FilePolicy struct {
	MaxFileMB  *float64 `json:"maxFileMB,omitempty"`
	MimeTypes  []string `json:"mime,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
}

// VideoPolicy accepts the video containers browsers record and play
func VideoPolicy(maxFileMB float64) *FilePolicy {
	fp := &FilePolicy{
		MimeTypes:  []string{"video/*"},
		Extensions: []string{"mp4", "webm", "mov", "m4v"},
	}
	if maxFileMB > 0 {
		fp.MaxFileMB = &maxFileMB
	}
	return fp
}

// ValidateFile validates a file against the policy. A size of zero skips the size check.
func (fp *FilePolicy) ValidateFile(fileName, contentType string, fileSizeBytes int64) error {
	if fp == nil {
		return nil // No policy means no restrictions
	}

	if fp.MaxFileMB != nil && fileSizeBytes > 0 {
		maxBytes := int64(*fp.MaxFileMB * 1024 * 1024)
		if fileSizeBytes > maxBytes {
			return fmt.Errorf("%w: file size %d bytes exceeds maximum %d bytes (%.2f MB)",
				errorz.ErrInvalidInput, fileSizeBytes, maxBytes, *fp.MaxFileMB)
		}
	}

	if len(fp.MimeTypes) > 0 && !fp.matchesMimeType(contentType) {
		return fmt.Errorf("%w: content type %q is not allowed, allowed types: %v",
			errorz.ErrInvalidInput, contentType, fp.MimeTypes)
	}

	if len(fp.Extensions) > 0 && !fp.matchesExtension(fileName) {
		return fmt.Errorf("%w: file extension is not allowed, allowed extensions: %v",
			errorz.ErrInvalidInput, fp.Extensions)
	}

	return nil
}

// matchesMimeType checks if contentType matches any of the allowed MIME type patterns
func (fp *FilePolicy) matchesMimeType(contentType string) bool {
	// Parameters like "video/webm; codecs=vp9" are ignored
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}

	for _, allowed := range fp.MimeTypes {
		if strings.HasSuffix(allowed, "/*") {
			prefix := strings.TrimSuffix(allowed, "/*")
			if strings.HasPrefix(mediaType, prefix+"/") {
				return true
			}
		} else if mediaType == allowed {
			return true
		}
	}
	return false
}

// matchesExtension checks if fileName has an allowed extension
func (fp *FilePolicy) matchesExtension(fileName string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if ext == "" {
		return false
	}

	for _, allowed := range fp.Extensions {
		if ext == strings.TrimPrefix(strings.ToLower(allowed), ".") {
			return true
		}
	}
	return false
}
