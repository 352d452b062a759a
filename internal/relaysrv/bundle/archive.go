package bundle

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"

	"github.com/gantryhq/gantry/internal/common/apperrors"
	"github.com/gantryhq/gantry/internal/relaysrv/config"
)

// Archive is a finished bundle staged in a temp file. Close removes it.
type Archive struct {
	Path string
	Size int64
}

// Open returns a reader over the archive.
func (a *Archive) Open() (*os.File, error) {
	return os.Open(a.Path)
}

// Close deletes the staged archive file.
func (a *Archive) Close() error {
	return os.Remove(a.Path)
}

// Builder packages the configured repo root into a tar.gz archive.
type Builder struct {
	repoRoot string
}

// NewBuilder creates a builder over the given repo root.
func NewBuilder(repoRoot string) *Builder {
	return &Builder{repoRoot: repoRoot}
}

// Exclusions lists the tar patterns kept out of the bundle: version control
// state, local secrets (the settings file and env files), dependency trees,
// and logs.
func (b *Builder) Exclusions() []string {
	excl := []string{".git", ".env", "node_modules", "*.log", "logs"}
	if settingsPath := config.Config().Auth.SettingsPath; settingsPath != "" {
		excl = append(excl, filepath.Base(settingsPath))
	}
	return excl
}

// Build validates the manifest and produces the archive in a per-request
// temp file, so concurrent downloads never share partial state. The archive
// is complete, non-empty, and gzip-verified before it is returned; the
// caller learns the exact size up front. Canceling the context kills the
// archiver.
func (b *Builder) Build(ctx context.Context) (*Archive, apperrors.Error) {
	if aerr := ValidateManifest(b.repoRoot); aerr != nil {
		return nil, aerr
	}
	if _, err := exec.LookPath("tar"); err != nil {
		return nil, ErrArchiveFailed.Msg("tar is not available on this host")
	}

	tmp, err := os.CreateTemp("", "gantry-bundle-*.tar.gz")
	if err != nil {
		return nil, ErrArchiveFailed.Err(err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	args := []string{"-czf", tmpPath}
	for _, pattern := range b.Exclusions() {
		args = append(args, "--exclude="+pattern)
	}
	args = append(args, "-C", b.repoRoot, ".")

	start := time.Now()
	cmd := exec.CommandContext(ctx, "tar", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(tmpPath)
		if ctx.Err() != nil {
			log.Ctx(ctx).Info().Msg("bundle archiving canceled")
			return nil, ErrArchiveFailed.Msg("archive canceled")
		}
		log.Ctx(ctx).Error().Err(err).Str("stderr", strings.TrimSpace(stderr.String())).Msg("tar failed")
		return nil, ErrArchiveFailed.Msg("archiver exited with an error")
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, ErrArchiveFailed.Err(err)
	}
	if info.Size() == 0 {
		os.Remove(tmpPath)
		return nil, ErrArchiveFailed.Msg("archive came out empty")
	}
	if !looksLikeGzip(tmpPath) {
		os.Remove(tmpPath)
		return nil, ErrArchiveFailed.Msg("archive is not valid gzip")
	}

	log.Ctx(ctx).Info().
		Int64("size", info.Size()).
		Dur("took", time.Since(start)).
		Msg("bundle archive built")
	return &Archive{Path: tmpPath, Size: info.Size()}, nil
}

// looksLikeGzip sniffs the file's magic bytes.
func looksLikeGzip(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 261)
	n, err := f.Read(head)
	if err != nil || n == 0 {
		return false
	}
	return filetype.Is(head[:n], "gz")
}
