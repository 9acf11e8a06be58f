// Package validate implements the pluggable Validator contract from
// spec §6.5: accept/reject/quarantine decisions made before a file ever
// reaches extraction. The default implementation generalizes checks the
// teacher's Coordinator used to make inline (oversized-file skip,
// symlink skip, binary-content skip) into a single reusable policy with
// severity-graded outcomes instead of a silent skip.
package validate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minara-dev/minara/internal/fingerprint"
)

// Severity grades a rejection. Critical rejections quarantine the file;
// warnings accept it with a logged note.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Verdict is the outcome of validating one file.
type Verdict struct {
	Accepted bool
	Reason   string
	Severity Severity
}

// Validator decides whether a file should enter the pipeline.
type Validator interface {
	Validate(ctx context.Context, path string, info os.FileInfo, content []byte) (Verdict, error)
}

// Config controls the default Validator's policy.
type Config struct {
	// AllowedExtensions, if non-empty, restricts acceptance to these
	// extensions (case-insensitive, leading dot, e.g. ".go"). Empty
	// means no extension filtering.
	AllowedExtensions []string

	// MaxFileSize rejects files larger than this many bytes as
	// critical. Defaults to fingerprint-agnostic 100MB, matching the
	// teacher's DefaultMaxFileSize, when zero.
	MaxFileSize int64

	// ExcludedSubstrings rejects any path containing one of these as a
	// warning (accepted with a note) rather than critical, since these
	// are ordinary project hygiene exclusions rather than dangerous
	// content.
	ExcludedSubstrings []string

	// QuarantineDir receives copies of critically-rejected files for
	// audit, when set.
	QuarantineDir string
}

const defaultMaxFileSize int64 = 100 * 1024 * 1024

// DefaultExcludedSubstrings matches the teacher's own data directory
// and common VCS/dependency noise the watcher already skips.
var DefaultExcludedSubstrings = []string{
	".minara",
	".git",
	"node_modules",
	".quarantine",
}

// DefaultConfig returns the policy used when no explicit Config is
// supplied: no extension allow-list, 100MB size limit, the standard
// excluded substrings.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:        defaultMaxFileSize,
		ExcludedSubstrings: DefaultExcludedSubstrings,
	}
}

// DefaultValidator is the extension allow-list + size-limit + content
// sniffing implementation described in spec §6.5.
type DefaultValidator struct {
	cfg Config
}

// New creates a DefaultValidator. A zero Config is replaced with
// DefaultConfig.
func New(cfg Config) *DefaultValidator {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.ExcludedSubstrings == nil {
		cfg.ExcludedSubstrings = DefaultExcludedSubstrings
	}
	return &DefaultValidator{cfg: cfg}
}

var _ Validator = (*DefaultValidator)(nil)

func (v *DefaultValidator) Validate(_ context.Context, path string, info os.FileInfo, content []byte) (Verdict, error) {
	for _, substr := range v.cfg.ExcludedSubstrings {
		if strings.Contains(path, substr) {
			return Verdict{Accepted: false, Reason: fmt.Sprintf("path excluded by pattern %q", substr), Severity: SeverityWarning}, nil
		}
	}

	if len(v.cfg.AllowedExtensions) > 0 {
		ext := strings.ToLower(filepath.Ext(path))
		allowed := false
		for _, a := range v.cfg.AllowedExtensions {
			if strings.ToLower(a) == ext {
				allowed = true
				break
			}
		}
		if !allowed {
			return Verdict{Accepted: false, Reason: fmt.Sprintf("extension %q not in allow-list", ext), Severity: SeverityWarning}, nil
		}
	}

	if info != nil && info.Size() > v.cfg.MaxFileSize {
		return Verdict{
			Accepted: false,
			Reason:   fmt.Sprintf("file size %d exceeds limit %d", info.Size(), v.cfg.MaxFileSize),
			Severity: SeverityCritical,
		}, nil
	}

	if fingerprint.IsBinary(content) {
		return Verdict{Accepted: false, Reason: "binary content detected", Severity: SeverityCritical}, nil
	}

	return Verdict{Accepted: true}, nil
}

// Quarantine moves a rejected file's content into cfg.QuarantineDir,
// mirroring the original relative path, when the verdict's severity
// demands it and a quarantine directory is configured. It is a no-op
// (returning "", nil) for warnings or when no quarantine directory is
// set, matching spec §6.5's "critical triggers quarantine move" rule.
func (v *DefaultValidator) Quarantine(relPath string, content []byte, verdict Verdict) (string, error) {
	if verdict.Severity != SeverityCritical || v.cfg.QuarantineDir == "" {
		return "", nil
	}

	dest := filepath.Join(v.cfg.QuarantineDir, relPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create quarantine directory: %w", err)
	}
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write quarantined file: %w", err)
	}
	return dest, nil
}
