package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/keelci/keel/config"
)

func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCollectArtifacts_CopiesMatches(t *testing.T) {
	workdir := t.TempDir()
	archive := t.TempDir()
	writeFile(t, workdir, "dist/app-1.0.0.tar.gz")
	writeFile(t, workdir, "dist/app-1.0.0.sha256")

	collected, err := collectArtifacts(workdir, archive,
		[]config.ArtifactPattern{{Pattern: "dist/*"}}, nil)
	if err != nil {
		t.Fatalf("collectArtifacts failed: %v", err)
	}
	if len(collected) != 2 {
		t.Fatalf("collected %d files, want 2: %v", len(collected), collected)
	}
	// Relative layout survives into the archive.
	if _, err := os.Stat(filepath.Join(archive, "dist", "app-1.0.0.tar.gz")); err != nil {
		t.Errorf("archived file missing: %v", err)
	}
}

func TestCollectArtifacts_EmptyGlobFails(t *testing.T) {
	workdir := t.TempDir()
	archive := t.TempDir()

	_, err := collectArtifacts(workdir, archive,
		[]config.ArtifactPattern{{Pattern: "dist/*"}}, nil)
	if err == nil {
		t.Error("empty glob without allow-empty should fail")
	}

	_, err = collectArtifacts(workdir, archive,
		[]config.ArtifactPattern{{Pattern: "dist/*", AllowEmpty: true}}, nil)
	if err != nil {
		t.Errorf("allow-empty glob should not fail: %v", err)
	}
}

func TestCollectArtifacts_MissingJUnitReport(t *testing.T) {
	workdir := t.TempDir()
	archive := t.TempDir()

	_, err := collectArtifacts(workdir, archive, nil, []string{"reports/junit.xml"})
	if err == nil {
		t.Error("missing junit report should be a hard failure")
	}

	writeFile(t, workdir, "reports/junit.xml")
	collected, err := collectArtifacts(workdir, archive, nil, []string{"reports/junit.xml"})
	if err != nil {
		t.Fatalf("collectArtifacts failed: %v", err)
	}
	if len(collected) != 1 {
		t.Errorf("collected = %v", collected)
	}
}
