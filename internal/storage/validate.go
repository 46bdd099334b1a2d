package storage

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	minDimension = 50
	maxDimension = 10000
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// validateUpload runs the size, type, and dimension checks on an upload.
// Every failure is a ValidationError; the caller maps it to a rejected
// request rather than a server error.
func (s *Store) validateUpload(filename string, data []byte) error {
	if len(data) == 0 {
		return &ValidationError{Reason: "file is empty"}
	}
	if int64(len(data)) > s.maxUploadBytes {
		return &ValidationError{Reason: fmt.Sprintf("file too large, limit is %.1fMB", float64(s.maxUploadBytes)/1024/1024)}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return &ValidationError{Reason: "unsupported file type, allowed: .jpg, .jpeg, .png, .webp"}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return &ValidationError{Reason: "corrupt or unreadable image file"}
	}
	if cfg.Width < minDimension || cfg.Height < minDimension {
		return &ValidationError{Reason: fmt.Sprintf("image too small, minimum is %dx%dpx", minDimension, minDimension)}
	}
	if cfg.Width > maxDimension || cfg.Height > maxDimension {
		return &ValidationError{Reason: fmt.Sprintf("image too large, maximum is %dx%dpx", maxDimension, maxDimension)}
	}
	return nil
}
