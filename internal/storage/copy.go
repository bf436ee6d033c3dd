package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
)

// backuper is implemented by the modernc driver connection.
type backuper interface {
	NewBackup(dstUri string) (*sqlite.Backup, error)
}

var errNoBackupAPI = errors.New("driver connection does not expose the backup API")

// Counts holds the number of rows in the user-data tables of a database.
type Counts struct {
	Accounts     int64
	Categories   int64
	Transactions int64
}

// BackupTo writes a page-consistent copy of the database at srcPath to
// dstPath. The copy runs through SQLite's online backup API on a dedicated
// read connection, so a concurrent writer on srcPath cannot produce a torn
// file. A partial destination is removed on failure.
func BackupTo(ctx context.Context, srcPath, dstPath string) (err error) {
	if _, err := os.Stat(srcPath); err != nil {
		return fmt.Errorf("stat source database: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if _, err := os.Stat(dstPath); err == nil {
		return fmt.Errorf("destination already exists: %s", dstPath)
	}

	defer func() {
		if err != nil {
			os.Remove(dstPath)
		}
	}()

	db, err := sql.Open("sqlite", srcPath)
	if err != nil {
		return fmt.Errorf("open source database: %w", err)
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire source connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn any) error {
		b, ok := driverConn.(backuper)
		if !ok {
			return errNoBackupAPI
		}
		bk, err := b.NewBackup(dstPath)
		if err != nil {
			return fmt.Errorf("start backup: %w", err)
		}
		for {
			more, err := bk.Step(-1)
			if err != nil {
				bk.Finish()
				return fmt.Errorf("backup step: %w", err)
			}
			if !more {
				break
			}
		}
		if err := bk.Finish(); err != nil {
			return fmt.Errorf("finish backup: %w", err)
		}
		return nil
	})
	if errors.Is(err, errNoBackupAPI) {
		// VACUUM INTO also reads the source inside a single read transaction.
		_, err = conn.ExecContext(ctx, "VACUUM INTO '"+strings.ReplaceAll(dstPath, "'", "''")+"'")
		if err != nil {
			return fmt.Errorf("vacuum into destination: %w", err)
		}
		return nil
	}
	return err
}

// CopyFile copies a file byte for byte without interpreting it. Used for
// history backups that are carried over unmodified.
func CopyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", srcPath, err)
	}

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dstPath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return fmt.Errorf("copy %s: %w", srcPath, err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return fmt.Errorf("sync %s: %w", dstPath, err)
	}
	return dst.Close()
}

// CountRows returns the row counts of the user-data tables in dbPath.
func CountRows(ctx context.Context, dbPath string) (Counts, error) {
	var c Counts

	if _, err := os.Stat(dbPath); err != nil {
		return c, fmt.Errorf("stat database: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return c, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	targets := []struct {
		table string
		dst   *int64
	}{
		{"accounts", &c.Accounts},
		{"categories", &c.Categories},
		{"transactions", &c.Transactions},
	}
	for _, t := range targets {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(t.dst); err != nil {
			return c, fmt.Errorf("count %s: %w", t.table, err)
		}
	}
	return c, nil
}
