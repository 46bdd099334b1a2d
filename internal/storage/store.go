// Package storage owns the per-session directory layout on disk: an upload,
// output, and error folder per session, plus filename sanitation, quota
// enforcement, and bulk deletion.
package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Area names one of the three per-session folders.
type Area string

const (
	AreaUpload Area = "upload"
	AreaOutput Area = "output"
	AreaError  Area = "error"
)

// Top-level directory names under the data dir. The janitor walks the same
// layout.
const (
	UploadsDirName = "uploads"
	OutputDirName  = "output"
	ErrorsDirName  = "errors"
)

// ValidationError marks bad client input (oversized file, quota exceeded,
// unsupported type). It is a distinct kind from storage I/O failures so
// callers can map it to a 4xx response.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// FileInfo describes a stored file.
type FileInfo struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Area     Area      `json:"area"`
}

// Store translates session ids into isolated storage locations. All state
// lives on the filesystem; the struct itself is safe to share.
type Store struct {
	base           string
	maxFiles       int
	maxUploadBytes int64
	log            *slog.Logger
	now            func() time.Time
}

// New creates a Store rooted at base. maxFiles is the default per-session
// upload quota; maxUploadBytes caps a single upload.
func New(base string, maxFiles int, maxUploadBytes int64, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		base:           base,
		maxFiles:       maxFiles,
		maxUploadBytes: maxUploadBytes,
		log:            log,
		now:            time.Now,
	}
}

// Base returns the root data directory.
func (s *Store) Base() string { return s.base }

// SessionFolders returns the upload, output, and error directories for a
// session, creating any that are missing. Idempotent.
func (s *Store) SessionFolders(sessionID string) (uploadDir, outputDir, errorDir string, err error) {
	uploadDir = filepath.Join(s.base, UploadsDirName, sessionID)
	outputDir = filepath.Join(s.base, OutputDirName, sessionID)
	errorDir = filepath.Join(s.base, ErrorsDirName, sessionID)

	for _, dir := range []string{uploadDir, outputDir, errorDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", "", fmt.Errorf("create session folder: %w", err)
		}
	}
	return uploadDir, outputDir, errorDir, nil
}

// SaveUpload validates and stores one uploaded file in the session's upload
// folder, returning the absolute path of the stored file. maxFilesOverride
// replaces the default quota when > 0. Name collisions get a timestamp
// suffix instead of overwriting.
func (s *Store) SaveUpload(r io.Reader, filename, sessionID string, maxFilesOverride int) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxUploadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if err := s.validateUpload(filename, data); err != nil {
		return "", err
	}

	uploadDir, _, _, err := s.SessionFolders(sessionID)
	if err != nil {
		return "", err
	}

	maxFiles := s.maxFiles
	if maxFilesOverride > 0 {
		maxFiles = maxFilesOverride
	}
	entries, err := os.ReadDir(uploadDir)
	if err != nil {
		return "", fmt.Errorf("list session uploads: %w", err)
	}
	if len(entries) >= maxFiles {
		return "", &ValidationError{Reason: fmt.Sprintf("session upload limit reached (%d files)", maxFiles)}
	}

	name := SanitizeFilename(filename)
	path := filepath.Join(uploadDir, name)
	if _, err := os.Stat(path); err == nil {
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		ts := s.now().Unix()
		for n := 0; ; n++ {
			candidate := fmt.Sprintf("%s_%d%s", stem, ts, ext)
			if n > 0 {
				candidate = fmt.Sprintf("%s_%d_%d%s", stem, ts, n, ext)
			}
			path = filepath.Join(uploadDir, candidate)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				name = candidate
				break
			}
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}

// LatestOutput returns the name of the most recently modified file in the
// session's output folder. Ties are broken by name so the result is
// deterministic within a run.
func (s *Store) LatestOutput(sessionID string) (string, bool) {
	dir := filepath.Join(s.base, OutputDirName, sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var latestName string
	var latestMod time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if latestName == "" || mod.After(latestMod) || (mod.Equal(latestMod) && e.Name() > latestName) {
			latestName = e.Name()
			latestMod = mod
		}
	}
	return latestName, latestName != ""
}

// ClearSession recursively deletes all three session folders. It returns
// false on partial failure instead of raising; the cause is logged.
func (s *Store) ClearSession(sessionID string) bool {
	ok := true
	for _, top := range []string{UploadsDirName, OutputDirName, ErrorsDirName} {
		dir := filepath.Join(s.base, top, sessionID)
		if err := os.RemoveAll(dir); err != nil {
			s.log.Error("clear session folder failed", "session_id", sessionID, "dir", dir, "error", err)
			ok = false
		}
	}
	return ok
}

// Exists reports whether a file is present in one of the session's areas.
func (s *Store) Exists(sessionID, filename string, area Area) bool {
	info, err := os.Stat(s.FilePath(sessionID, filename, area))
	return err == nil && info.Mode().IsRegular()
}

// FileInfo returns metadata for a stored file, or nil if it does not exist.
func (s *Store) FileInfo(sessionID, filename string, area Area) *FileInfo {
	info, err := os.Stat(s.FilePath(sessionID, filename, area))
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	return &FileInfo{
		Filename: filename,
		Size:     info.Size(),
		Modified: info.ModTime(),
		Area:     area,
	}
}

// FilePath returns the on-disk path for a (sanitized) filename in an area.
func (s *Store) FilePath(sessionID, filename string, area Area) string {
	top := OutputDirName
	switch area {
	case AreaUpload:
		top = UploadsDirName
	case AreaError:
		top = ErrorsDirName
	}
	return filepath.Join(s.base, top, sessionID, SanitizeFilename(filename))
}

var (
	unsafeChars = regexp.MustCompile(`[^\w\-.]`)
	multiDots   = regexp.MustCompile(`\.{2,}`)
	sessionIDRe = regexp.MustCompile(`^[a-zA-Z0-9-]{10,50}$`)
)

// SanitizeFilename strips path components, replaces unsafe characters,
// collapses traversal dot runs, and caps the length. Empty or hidden names
// get a generated fallback.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = multiDots.ReplaceAllString(name, ".")

	if len(name) > 100 {
		ext := filepath.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = name[:100-len(ext)] + ext
	}

	if name == "" || name == "." || strings.HasPrefix(name, ".") {
		ext := filepath.Ext(name)
		if ext == "" || ext == name {
			ext = ".jpg"
		}
		name = "file_" + uuid.NewString()[:8] + ext
	}
	return name
}

// ValidSessionID reports whether a client-supplied session id is safe to use
// as a directory name.
func ValidSessionID(sessionID string) bool {
	return sessionIDRe.MatchString(sessionID)
}
