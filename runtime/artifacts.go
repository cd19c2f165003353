package runtime

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/keelci/keel/config"
)

// collectArtifacts gathers a step's declared outputs after it ran.
// Archive globs are matched under workdir and copied into archiveDir; a
// glob matching nothing fails the step unless allow-empty is set.
// JUnit report paths are required outputs: a missing report is a hard
// failure, not a warning.
func collectArtifacts(workdir, archiveDir string, patterns []config.ArtifactPattern, junit []string) ([]string, error) {
	var collected []string

	for _, p := range patterns {
		matches, err := filepath.Glob(filepath.Join(workdir, p.Pattern))
		if err != nil {
			return collected, fmt.Errorf("bad archive pattern %q: %w", p.Pattern, err)
		}
		if len(matches) == 0 {
			if p.AllowEmpty {
				continue
			}
			return collected, fmt.Errorf("archive pattern %q matched nothing", p.Pattern)
		}
		for _, m := range matches {
			dest, err := archiveFile(workdir, archiveDir, m)
			if err != nil {
				return collected, err
			}
			collected = append(collected, dest)
		}
	}

	for _, report := range junit {
		path := filepath.Join(workdir, report)
		if _, err := os.Stat(path); err != nil {
			return collected, fmt.Errorf("required test report %q missing: %w", report, err)
		}
		dest, err := archiveFile(workdir, archiveDir, path)
		if err != nil {
			return collected, err
		}
		collected = append(collected, dest)
	}

	return collected, nil
}

// archiveFile copies one matched file into archiveDir, preserving its
// path relative to the workdir.
func archiveFile(workdir, archiveDir, path string) (string, error) {
	rel, err := filepath.Rel(workdir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	dest := filepath.Join(archiveDir, rel)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("cannot create archive dir: %w", err)
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot read artifact %q: %w", path, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("cannot write artifact %q: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", fmt.Errorf("cannot copy artifact %q: %w", path, err)
	}
	return dest, nil
}
