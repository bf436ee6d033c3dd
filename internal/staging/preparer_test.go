package staging

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"spese-desktop/internal/backup"
	"spese-desktop/internal/core"
	"spese-desktop/internal/storage"
)

const targetVersion = "1.3.0"

// seedBackup creates a backup database at the given schema version in dir.
func seedBackup(t *testing.T, dir, timestamp, appVersion string, schema uint, accounts int) string {
	t.Helper()

	path := filepath.Join(dir, backup.FileName(timestamp, appVersion))
	mg, err := storage.OpenMigrator(path)
	if err != nil {
		t.Fatalf("OpenMigrator() error = %v", err)
	}
	if err := mg.MigrateTo(schema); err != nil {
		t.Fatalf("MigrateTo(%d) error = %v", schema, err)
	}
	if err := mg.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer db.Close()
	for i := 0; i < accounts; i++ {
		if _, err := db.Exec("INSERT INTO accounts (name) VALUES (?)", "acc"); err != nil {
			t.Fatalf("insert account: %v", err)
		}
	}
	return path
}

func accountCount(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&n); err != nil {
		t.Fatalf("count accounts in %s: %v", path, err)
	}
	return n
}

func markDirty(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer db.Close()
	if _, err := db.Exec("UPDATE schema_migrations SET dirty = 1"); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
}

func newTree(t *testing.T) *Tree {
	t.Helper()
	root := filepath.Join(t.TempDir(), "staging")
	payload := filepath.Join(root, "Spese", PayloadDirName)
	if err := os.MkdirAll(payload, 0755); err != nil {
		t.Fatalf("mkdir payload: %v", err)
	}
	if err := os.WriteFile(filepath.Join(payload, VersionFile), []byte(targetVersion+"\n"), 0644); err != nil {
		t.Fatalf("write version: %v", err)
	}
	return NewTree(root, payload, "Backups", "Spese", "Spese-linux.zip")
}

func scan(t *testing.T, dir string) *backup.Registry {
	t.Helper()
	reg, err := backup.Scan(dir, nil)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	return reg
}

// hashTree maps every file below root to its sha256.
func hashTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		out[path] = hex.EncodeToString(sum[:])
		return nil
	})
	if err != nil {
		t.Fatalf("hash %s: %v", root, err)
	}
	return out
}

type recordingSink struct {
	mu       sync.Mutex
	stages   []string
	progress []float64
}

func (s *recordingSink) SetStage(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, name)
}

func (s *recordingSink) SetProgress(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, v)
}

func TestTargetVersion(t *testing.T) {
	tree := newTree(t)
	v, err := tree.TargetVersion()
	if err != nil {
		t.Fatalf("TargetVersion() error = %v", err)
	}
	if v != targetVersion {
		t.Errorf("TargetVersion() = %q, want %q", v, targetVersion)
	}

	if err := os.WriteFile(tree.VersionMarker, []byte("  \n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := tree.TargetVersion(); !errors.Is(err, ErrEmptyVersion) {
		t.Errorf("TargetVersion() error = %v, want ErrEmptyVersion", err)
	}
}

func TestNewTree_Layout(t *testing.T) {
	tree := NewTree("/stage", "/stage/Spese/_internal", "Backups", "Spese.exe", "Spese-windows.zip")
	if tree.BackupsDir != filepath.Join("/stage", "Backups") {
		t.Errorf("BackupsDir = %s", tree.BackupsDir)
	}
	if tree.Executable != filepath.Join("/stage/Spese", "Spese.exe") {
		t.Errorf("Executable = %s", tree.Executable)
	}
	if tree.Archive != filepath.Join("/stage", "Spese-windows.zip") {
		t.Errorf("Archive = %s", tree.Archive)
	}
	if tree.VersionMarker != filepath.Join("/stage/Spese/_internal", VersionFile) {
		t.Errorf("VersionMarker = %s", tree.VersionMarker)
	}
}

func TestPrepare_CopiesAndMigratesEveryBackup(t *testing.T) {
	live := t.TempDir()
	sources := []string{
		seedBackup(t, live, "01-01-2023_10-00-00", "1.0.0", 2, 1),
		seedBackup(t, live, "02-01-2023_10-00-00", "1.1.0", 3, 2),
		seedBackup(t, live, "03-01-2023_10-00-00", "1.2.0", 3, 3),
		seedBackup(t, live, "04-01-2023_10-00-00", "1.2.5", 1, 4),
	}
	tree := newTree(t)
	sink := &recordingSink{}

	p := NewPreparer(Config{CopyWorkers: 2, MigrateWorkers: 3}, sink, nil)
	res, err := p.Prepare(context.Background(), tree, scan(t, live))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	if len(res.Copied) != len(sources) {
		t.Fatalf("copied = %d, want %d", len(res.Copied), len(sources))
	}
	if res.Migrated != len(sources) || res.Skipped != 0 {
		t.Errorf("migrated = %d, skipped = %d", res.Migrated, res.Skipped)
	}

	head, err := storage.HeadVersion()
	if err != nil {
		t.Fatalf("HeadVersion() error = %v", err)
	}
	for _, src := range sources {
		b, err := backup.Parse(src)
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		dst := filepath.Join(tree.BackupsDir, backup.FileName(b.Timestamp, targetVersion))

		if got, want := accountCount(t, dst), accountCount(t, src); got != want {
			t.Errorf("%s accounts = %d, want %d", filepath.Base(dst), got, want)
		}

		mg, err := storage.OpenMigrator(dst)
		if err != nil {
			t.Fatalf("OpenMigrator() error = %v", err)
		}
		v, err := mg.Version()
		mg.Close()
		if err != nil || v != head {
			t.Errorf("%s version = %d, %v; want %d", filepath.Base(dst), v, err, head)
		}
	}

	if len(sink.stages) != 2 || sink.stages[0] != core.StageCopy || sink.stages[1] != core.StageMigrate {
		t.Errorf("stages = %v", sink.stages)
	}
	maxProgress := 0.0
	for _, v := range sink.progress {
		if v < 0 || v > 1 {
			t.Errorf("progress %v outside [0,1]", v)
		}
		maxProgress = max(maxProgress, v)
	}
	if maxProgress != 1 {
		t.Errorf("progress never reached 1: %v", sink.progress)
	}
}

func TestPrepare_RowCountsPreserved(t *testing.T) {
	live := t.TempDir()
	for i, ts := range []string{"01-01-2023_10-00-00", "02-01-2023_10-00-00", "03-01-2023_10-00-00"} {
		seedBackup(t, live, ts, "1.2.0", 3, i+1)
	}
	tree := newTree(t)

	res, err := NewPreparer(Config{CopyWorkers: 3, MigrateWorkers: 3}, nil, nil).
		Prepare(context.Background(), tree, scan(t, live))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	for _, b := range scan(t, live).Backups() {
		want, err := storage.CountRows(context.Background(), b.Path)
		if err != nil {
			t.Fatalf("CountRows(src) error = %v", err)
		}
		got, err := storage.CountRows(context.Background(), filepath.Join(tree.BackupsDir, backup.FileName(b.Timestamp, targetVersion)))
		if err != nil {
			t.Fatalf("CountRows(dst) error = %v", err)
		}
		if got != want {
			t.Errorf("%s: counts = %+v, want %+v", b.Timestamp, got, want)
		}
	}
	if res.Migrated != 3 {
		t.Errorf("migrated = %d, want 3", res.Migrated)
	}
}

func TestPrepare_OneBackupAlreadyAtHead(t *testing.T) {
	head, err := storage.HeadVersion()
	if err != nil {
		t.Fatalf("HeadVersion() error = %v", err)
	}

	live := t.TempDir()
	seedBackup(t, live, "01-01-2023_10-00-00", "1.0.0", 2, 1)
	seedBackup(t, live, "02-01-2023_10-00-00", "1.1.0", 3, 1)
	seedBackup(t, live, "03-01-2023_10-00-00", "1.2.9", head, 1)
	tree := newTree(t)

	var copies atomic.Int32
	p := NewPreparer(Config{CopyWorkers: 2, MigrateWorkers: 2}, nil, nil)
	copyDB := p.copyDB
	p.copyDB = func(ctx context.Context, src, dst string) error {
		copies.Add(1)
		return copyDB(ctx, src, dst)
	}

	res, err := p.Prepare(context.Background(), tree, scan(t, live))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if copies.Load() != 3 {
		t.Errorf("copy tasks = %d, want 3", copies.Load())
	}
	if res.Migrated != 2 || res.Skipped != 1 {
		t.Errorf("migrated = %d, skipped = %d; want 2 and 1", res.Migrated, res.Skipped)
	}
	for _, path := range res.Copied {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing copy %s: %v", path, err)
		}
	}
}

func TestPrepare_PartialFailure(t *testing.T) {
	live := t.TempDir()
	seedBackup(t, live, "01-01-2023_10-00-00", "1.0.0", 2, 1)
	broken := seedBackup(t, live, "02-01-2023_10-00-00", "1.1.0", 3, 1)
	seedBackup(t, live, "03-01-2023_10-00-00", "1.2.0", 3, 1)
	markDirty(t, broken)

	before := hashTree(t, live)
	tree := newTree(t)

	res, err := NewPreparer(Config{CopyWorkers: 3, MigrateWorkers: 3}, nil, nil).
		Prepare(context.Background(), tree, scan(t, live))
	if err == nil {
		t.Fatalf("Prepare() = %+v, want error", res)
	}
	if !errors.Is(err, core.ErrBackupMigration) {
		t.Errorf("Prepare() error = %v, want ErrBackupMigration", err)
	}
	if !errors.Is(err, storage.ErrDirty) {
		t.Errorf("Prepare() error = %v, want ErrDirty in chain", err)
	}

	for _, ts := range []string{"01-01-2023_10-00-00", "03-01-2023_10-00-00"} {
		dst := filepath.Join(tree.BackupsDir, backup.FileName(ts, targetVersion))
		counts, err := storage.CountRows(context.Background(), dst)
		if err != nil {
			t.Errorf("completed copy %s unusable: %v", filepath.Base(dst), err)
			continue
		}
		if counts.Accounts != 1 {
			t.Errorf("%s accounts = %d, want 1", filepath.Base(dst), counts.Accounts)
		}
	}

	after := hashTree(t, live)
	if len(after) != len(before) {
		t.Fatalf("live tree file count changed: %d -> %d", len(before), len(after))
	}
	for path, sum := range before {
		if after[path] != sum {
			t.Errorf("live file %s changed", filepath.Base(path))
		}
	}
}

func TestPrepare_CopyFailureSkipsMigration(t *testing.T) {
	live := t.TempDir()
	seedBackup(t, live, "01-01-2023_10-00-00", "1.0.0", 2, 1)
	seedBackup(t, live, "02-01-2023_10-00-00", "1.1.0", 3, 1)
	tree := newTree(t)

	// Occupy one destination so its copy fails.
	if err := os.MkdirAll(tree.BackupsDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	taken := filepath.Join(tree.BackupsDir, backup.FileName("02-01-2023_10-00-00", targetVersion))
	if err := os.WriteFile(taken, []byte("occupied"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p := NewPreparer(Config{CopyWorkers: 2, MigrateWorkers: 2}, nil, nil)
	var migrations atomic.Int32
	p.migrateDB = func(string) (bool, error) {
		migrations.Add(1)
		return true, nil
	}

	_, err := p.Prepare(context.Background(), tree, scan(t, live))
	if !errors.Is(err, core.ErrBackupCopy) {
		t.Fatalf("Prepare() error = %v, want ErrBackupCopy", err)
	}
	if migrations.Load() != 0 {
		t.Errorf("migration phase ran after a failed copy phase")
	}
	if _, err := os.Stat(filepath.Join(tree.BackupsDir, backup.FileName("01-01-2023_10-00-00", targetVersion))); err != nil {
		t.Errorf("sibling copy was not completed: %v", err)
	}
}

func TestPrepare_CarriesHistory(t *testing.T) {
	tests := []struct {
		name     string
		devMode  bool
		wantLink bool
	}{
		{"hard link", false, true},
		{"dev mode copies", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			live := t.TempDir()
			old := seedBackup(t, live, "01-01-2023_10-00-00", "1.0.0", 2, 1)
			newer := seedBackup(t, live, "01-01-2023_10-00-00", "1.2.0", 3, 1)
			tree := newTree(t)

			res, err := NewPreparer(Config{CopyWorkers: 1, MigrateWorkers: 1, DevMode: tt.devMode}, nil, nil).
				Prepare(context.Background(), tree, scan(t, live))
			if err != nil {
				t.Fatalf("Prepare() error = %v", err)
			}
			if len(res.Copied) != 1 || res.Migrated != 1 {
				t.Errorf("copied = %v, migrated = %d; want only the newest copy migrated", res.Copied, res.Migrated)
			}
			if len(res.Legacy) != 2 {
				t.Fatalf("legacy = %v, want both originals", res.Legacy)
			}

			for _, src := range []string{old, newer} {
				dst := filepath.Join(tree.BackupsDir, filepath.Base(src))
				si, err := os.Stat(src)
				if err != nil {
					t.Fatalf("stat src: %v", err)
				}
				di, err := os.Stat(dst)
				if err != nil {
					t.Fatalf("history file %s not carried: %v", filepath.Base(src), err)
				}
				if os.SameFile(si, di) != tt.wantLink {
					t.Errorf("%s: same file = %v, want %v", filepath.Base(src), os.SameFile(si, di), tt.wantLink)
				}
				if hashTree(t, src)[src] != hashTree(t, dst)[dst] {
					t.Errorf("%s: history content differs", filepath.Base(src))
				}
			}
		})
	}
}

func TestPrepare_NoBackups(t *testing.T) {
	tree := newTree(t)
	res, err := NewPreparer(Config{}, nil, nil).Prepare(context.Background(), tree, scan(t, t.TempDir()))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if len(res.Copied) != 0 || res.TargetVersion != targetVersion {
		t.Errorf("unexpected result %+v", res)
	}
	if info, err := os.Stat(tree.BackupsDir); err != nil || !info.IsDir() {
		t.Errorf("staged backups directory missing: %v", err)
	}
}

func TestPrepare_MissingVersionMarker(t *testing.T) {
	tree := newTree(t)
	os.Remove(tree.VersionMarker)

	_, err := NewPreparer(Config{}, nil, nil).Prepare(context.Background(), tree, scan(t, t.TempDir()))
	if !errors.Is(err, core.ErrBackupCopy) {
		t.Errorf("Prepare() error = %v, want ErrBackupCopy", err)
	}
}
