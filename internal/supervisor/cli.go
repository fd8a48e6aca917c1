package supervisor

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed launchers
var launchers embed.FS

// binPerm is owner+group read/execute, no write, matching spec.md §4.9's
// "sets executable permissions (owner+group read/execute)".
const binPerm = 0o550

// installCliTool reads the embedded launcher script named resource
// (e.g. "edged-launch.sh"), rewrites every `$[...]` token via the
// Supervisor's template engine, and atomically writes the result into
// bin/ with owner+group read/execute permissions.
func (s *Supervisor) installCliTool(resource string) error {
	data, err := launchers.ReadFile(filepath.Join("launchers", resource))
	if err != nil {
		return fmt.Errorf("supervisor: embedded launcher %q: %w", resource, err)
	}

	rewritten := s.engine.Expand(string(data))

	dest := filepath.Join(s.binDir, resource)
	if err := writeAtomic(dest, []byte(rewritten), binPerm); err != nil {
		return fmt.Errorf("supervisor: write %s: %w", dest, err)
	}
	return nil
}

// writeAtomic writes data to path via a temp-file-then-rename so readers
// never observe a partially-written launcher script, then sets perm —
// CommitableIO's Writer already gives the fsync/rename/backup discipline,
// but launcher scripts have no meaningful ".bak" to keep (they are
// regenerated from the embedded template every install), so this uses the
// same create-temp-in-same-dir-then-rename idiom directly rather than
// pulling in commitio's backup step for a file that's always regenerated.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
