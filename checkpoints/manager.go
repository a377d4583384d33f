package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// SnapshotDir is the directory under the saving path that holds snapshots.
const SnapshotDir = "snapshots"

// Manager writes numbered snapshots and prunes old ones.
type Manager struct {
	dir       string
	saver     *CheckpointSaver
	format    CheckpointFormat
	maxToKeep int
}

// NewManager stores snapshots under root/snapshots, creating it if needed.
// maxToKeep <= 0 keeps every snapshot.
func NewManager(root string, format CheckpointFormat, maxToKeep int) (*Manager, error) {
	dir := filepath.Join(root, SnapshotDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &Manager{dir: dir, saver: NewCheckpointSaver(format), format: format, maxToKeep: maxToKeep}, nil
}

func (m *Manager) Dir() string { return m.dir }

// Save writes snap-<step> and returns its path. Once more than maxToKeep
// snapshots exist the oldest are removed.
func (m *Manager) Save(c *Checkpoint) (string, error) {
	path := filepath.Join(m.dir, fmt.Sprintf("snap-%d%s", c.TrainingState.Step, m.format.Extension()))
	if err := m.saver.SaveCheckpoint(c, path); err != nil {
		return "", err
	}
	if err := m.prune(); err != nil {
		return path, err
	}
	return path, nil
}

// Snapshots lists snapshot paths ordered by step, oldest first.
func (m *Manager) Snapshots() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	type snap struct {
		step int
		path string
	}
	var snaps []snap
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		step, ok := parseSnapshotName(e.Name())
		if !ok {
			continue
		}
		snaps = append(snaps, snap{step, filepath.Join(m.dir, e.Name())})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].step < snaps[j].step })
	paths := make([]string, len(snaps))
	for i, s := range snaps {
		paths[i] = s.path
	}
	return paths, nil
}

// Latest returns the newest snapshot path, or "" when there is none.
func (m *Manager) Latest() (string, error) {
	paths, err := m.Snapshots()
	if err != nil || len(paths) == 0 {
		return "", err
	}
	return paths[len(paths)-1], nil
}

// Load reads the snapshot at path.
func (m *Manager) Load(path string) (*Checkpoint, error) {
	return Load(path)
}

func (m *Manager) prune() error {
	if m.maxToKeep <= 0 {
		return nil
	}
	paths, err := m.Snapshots()
	if err != nil {
		return err
	}
	for len(paths) > m.maxToKeep {
		if err := os.Remove(paths[0]); err != nil {
			return fmt.Errorf("failed to remove old snapshot: %w", err)
		}
		paths = paths[1:]
	}
	return nil
}

// parseSnapshotName extracts the step from "snap-<step>.<ext>".
func parseSnapshotName(name string) (int, bool) {
	if !strings.HasPrefix(name, "snap-") {
		return 0, false
	}
	ext := filepath.Ext(name)
	if ext != FormatJSON.Extension() && ext != FormatProto.Extension() {
		return 0, false
	}
	step, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "snap-"), ext))
	if err != nil {
		return 0, false
	}
	return step, true
}
