// Package bundle validates the agent checkout and packages it into the
// downloadable installation archive.
package bundle

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gantryhq/gantry/internal/common/apperrors"
)

// Required bundle assets, relative to the repo root. The installer is a
// non-empty script; the agent and template directories must each carry at
// least one real file.
const (
	installScript = "install.sh"
	agentDir      = "agent"
	templatesDir  = "templates"
)

// ValidateManifest checks that the repo root holds everything an install
// needs. The returned error names every missing or empty asset plus
// remediation matching how the checkout got here.
func ValidateManifest(root string) apperrors.Error {
	var missing []string

	if !isNonEmptyFile(filepath.Join(root, installScript)) {
		missing = append(missing, installScript)
	}
	for _, dir := range []string{agentDir, templatesDir} {
		if !dirHasRegularFile(filepath.Join(root, dir)) {
			missing = append(missing, dir+"/")
		}
	}

	if len(missing) > 0 {
		return ErrManifestInvalid.Msg(fmt.Sprintf(
			"required bundle assets missing or empty: %s; %s",
			strings.Join(missing, ", "), remediation(root)))
	}
	return nil
}

// remediation picks recovery advice by how the repo root was produced: a
// checkout carries .git, a copy baked into a container image does not.
func remediation(root string) string {
	if _, err := os.Stat(filepath.Join(root, ".git")); err == nil {
		return "the checkout looks incomplete; run git checkout -- . and git submodule update --init --recursive in the repo root"
	}
	return "the bundled copy looks incomplete; rebuild the container image without cached layers (--no-cache)"
}

// isNonEmptyFile reports whether path is a regular file with content.
func isNonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// dirHasRegularFile reports whether dir contains at least one regular file
// at any depth.
func dirHasRegularFile(dir string) bool {
	found := false
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}
