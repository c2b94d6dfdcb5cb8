// Package fsio handles deliverable file I/O under a crew's data
// directory, hardened with the path, extension and size checks from
// original_source/security.py's SecurityValidator (validate_path,
// validate_file_extension).
package fsio

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evocrew/evocrew/internal/domainerr"
	"github.com/evocrew/evocrew/internal/ids"
)

// Limits bounds what a deliverable write may do.
type Limits struct {
	AllowedExtensions map[string]bool
	MaxFileSize        int64

	// MaxTextFileSize is the tighter per-file bound SecurityConfig applies
	// to text deliverables specifically, distinct from MaxFileSize's
	// general ceiling. Every extension AllowedExtensions currently permits
	// is a text type, so in practice this is the bound that bites.
	MaxTextFileSize int64
}

// textExtensions names the extensions MaxTextFileSize applies to.
var textExtensions = map[string]bool{".txt": true, ".json": true, ".md": true, ".csv": true, ".log": true}

// DefaultLimits mirrors SecurityConfig.ALLOWED_EXTENSIONS / MAX_FILE_SIZE /
// MAX_TEXT_FILE_SIZE.
func DefaultLimits() Limits {
	return Limits{
		AllowedExtensions: map[string]bool{".txt": true, ".json": true, ".md": true, ".csv": true, ".log": true},
		MaxFileSize:       10 * 1024 * 1024,
		MaxTextFileSize:   100 * 1024,
	}
}

var safePathPattern = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)

// Store roots every crew's deliverables under dataRoot/deliverables/<crewID>/.
type Store struct {
	dataRoot string
	limits   Limits
}

// New builds a Store rooted at dataRoot.
func New(dataRoot string, limits Limits) *Store {
	return &Store{dataRoot: dataRoot, limits: limits}
}

func (s *Store) crewDir(crewID ids.CrewId) string {
	return filepath.Join(s.dataRoot, "deliverables", string(crewID))
}

// validatePath rejects traversal attempts and disallowed characters, then
// resolves the candidate path and confirms it stays within base.
func validatePath(base, relative string) (string, error) {
	if strings.Contains(relative, "..") || strings.HasPrefix(relative, "/") {
		return "", domainerr.New(domainerr.InvalidArgument, "path traversal attempt detected")
	}
	if !safePathPattern.MatchString(relative) {
		return "", domainerr.New(domainerr.InvalidArgument, "unsafe characters in path")
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", domainerr.Wrap(domainerr.Internal, "resolving base directory", err)
	}
	candidate := filepath.Join(absBase, relative)
	resolved, err := filepath.Abs(candidate)
	if err != nil {
		return "", domainerr.Wrap(domainerr.Internal, "resolving path", err)
	}
	rel, err := filepath.Rel(absBase, resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", domainerr.New(domainerr.InvalidArgument, "path outside allowed directory")
	}
	return resolved, nil
}

func (s *Store) validateExtension(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !s.limits.AllowedExtensions[ext] {
		return domainerr.Newf(domainerr.InvalidArgument, "file extension %q not allowed", ext)
	}
	return nil
}

// WriteDeliverable writes content under the crew's deliverable directory
// at relativeName, creating parent directories as needed.
func (s *Store) WriteDeliverable(crewID ids.CrewId, relativeName string, content []byte) error {
	if int64(len(content)) > s.limits.MaxFileSize {
		return domainerr.Newf(domainerr.InvalidArgument, "deliverable %q exceeds max file size", relativeName)
	}
	if err := s.validateExtension(relativeName); err != nil {
		return err
	}
	if s.limits.MaxTextFileSize > 0 && textExtensions[strings.ToLower(filepath.Ext(relativeName))] && int64(len(content)) > s.limits.MaxTextFileSize {
		return domainerr.Newf(domainerr.InvalidArgument, "deliverable %q exceeds max text file size of %d bytes", relativeName, s.limits.MaxTextFileSize)
	}
	dir := s.crewDir(crewID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return domainerr.Wrap(domainerr.Internal, "creating deliverable directory", err)
	}
	resolved, err := validatePath(dir, relativeName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o700); err != nil {
		return domainerr.Wrap(domainerr.Internal, "creating deliverable subdirectory", err)
	}
	if err := os.WriteFile(resolved, content, 0o600); err != nil {
		return domainerr.Wrap(domainerr.Internal, "writing deliverable", err)
	}
	return nil
}

// ReadDeliverable reads a previously written deliverable, rejecting files
// that exceed MaxFileSize.
func (s *Store) ReadDeliverable(crewID ids.CrewId, relativeName string) ([]byte, error) {
	dir := s.crewDir(crewID)
	resolved, err := validatePath(dir, relativeName)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domainerr.Newf(domainerr.NotFound, "deliverable %q not found", relativeName)
		}
		return nil, domainerr.Wrap(domainerr.Internal, "statting deliverable", err)
	}
	if info.Size() > s.limits.MaxFileSize {
		return nil, domainerr.New(domainerr.InvalidArgument, "deliverable too large to read")
	}
	if s.limits.MaxTextFileSize > 0 && textExtensions[strings.ToLower(filepath.Ext(relativeName))] && info.Size() > s.limits.MaxTextFileSize {
		return nil, domainerr.New(domainerr.InvalidArgument, "text deliverable too large to read")
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.Internal, "reading deliverable", err)
	}
	return data, nil
}

// PersistResult writes every deliverable in a CrewResult to disk under
// crewID, skipping silently if there are none.
func (s *Store) PersistResult(crewID ids.CrewId, deliverables map[string][]byte) error {
	for name, content := range deliverables {
		if err := s.WriteDeliverable(crewID, name, content); err != nil {
			return err
		}
	}
	return nil
}
