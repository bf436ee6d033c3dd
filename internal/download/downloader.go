// Package download fetches a release archive into a fresh staging
// directory and extracts it.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"spese-desktop/internal/core"
	xhttp "spese-desktop/internal/http"
	"spese-desktop/internal/log"
	"spese-desktop/internal/staging"
)

// Release asset names, matched exactly.
const (
	WindowsAssetName = "Spese-windows.zip"
	LinuxAssetName   = "Spese-linux.zip"
)

// ChunkSize is the read size used while streaming an asset to disk.
const ChunkSize = 256 << 10

// AssetName returns the asset shipped for goos.
func AssetName(goos string) string {
	if goos == "windows" {
		return WindowsAssetName
	}
	return LinuxAssetName
}

type Config struct {
	StagingDir     string
	GOOS           string
	BackupsDirName string
	ExecutableName string
	// ExtractRetries is the number of extra extraction attempts made
	// from the archive already on disk.
	ExtractRetries int
}

type Downloader struct {
	cfg    Config
	http   *xhttp.Client
	sink   core.ProgressSink
	logger *log.Logger

	extract func(archive, dst string, progress func(float64)) error
}

func NewDownloader(cfg Config, httpClient *xhttp.Client, sink core.ProgressSink, logger *log.Logger) *Downloader {
	if sink == nil {
		sink = core.NopSink{}
	}
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.ExtractRetries < 0 {
		cfg.ExtractRetries = 0
	}
	return &Downloader{
		cfg:     cfg,
		http:    httpClient,
		sink:    sink,
		logger:  logger.WithComponent(log.ComponentDownload),
		extract: extractZip,
	}
}

// Download saves the platform asset of rel under the staging directory,
// extracts it there and returns the populated tree. Any existing staging
// directory is removed first. On failure the staging directory is removed
// again.
func (d *Downloader) Download(ctx context.Context, rel *core.Release) (tree *staging.Tree, err error) {
	name := AssetName(d.cfg.GOOS)
	asset, ok := rel.AssetFor(name)
	if !ok {
		return nil, fmt.Errorf("%w: release %s has no asset %s", core.ErrAssetNotFound, rel.Tag, name)
	}

	root := d.cfg.StagingDir
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("%w: remove old staging directory: %w", core.ErrDownloadFailed, err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("%w: create staging directory: %w", core.ErrDownloadFailed, err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(root); rmErr != nil {
				d.logger.Warn("Failed to remove staging directory", log.FieldPath, root, log.FieldError, rmErr)
			}
		}
	}()

	archive := filepath.Join(root, asset.Name)
	if err := d.fetch(ctx, asset, archive); err != nil {
		return nil, err
	}

	payload, err := d.extractWithRetry(archive, root)
	if err != nil {
		return nil, err
	}

	return staging.NewTree(root, payload, d.cfg.BackupsDirName, d.cfg.ExecutableName, asset.Name), nil
}

func (d *Downloader) fetch(ctx context.Context, asset core.Asset, dst string) error {
	start := time.Now()
	d.sink.SetStage(core.StageDownload)
	d.sink.SetProgress(0)
	d.logger.InfoContext(ctx, "Downloading release asset",
		log.FieldAsset, asset.Name,
		log.FieldURL, asset.DownloadURL,
		log.FieldTotalBytes, asset.Size)

	resp, err := d.http.Get(ctx, asset.DownloadURL, "application/octet-stream")
	if err != nil {
		return fmt.Errorf("%w: request %s: %w", core.ErrDownloadFailed, asset.Name, err)
	}
	defer resp.Body.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: create archive: %w", core.ErrDownloadFailed, err)
	}

	written, err := d.stream(resp.Body, out, asset.Size)
	if cerr := out.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", core.ErrDownloadFailed, asset.Name, err)
	}
	if asset.Size > 0 && written != asset.Size {
		return fmt.Errorf("%w: %s is %d bytes, expected %d", core.ErrDownloadFailed, asset.Name, written, asset.Size)
	}

	d.logger.InfoContext(ctx, "Download complete",
		log.NewFields().
			WithOperation(log.OpDownload).
			WithTransfer(written, asset.Size).
			WithResult(time.Since(start).Milliseconds(), true).
			ToSlice()...)
	return nil
}

// stream copies r to w in ChunkSize reads, reporting the fraction of total
// after every chunk.
func (d *Downloader) stream(r io.Reader, w io.Writer, total int64) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if total > 0 {
				d.sink.SetProgress(min(float64(written)/float64(total), 1))
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

func (d *Downloader) extractWithRetry(archive, root string) (string, error) {
	d.sink.SetStage(core.StageExtract)

	var err error
	for attempt := 0; attempt <= d.cfg.ExtractRetries; attempt++ {
		if attempt > 0 {
			d.logger.Warn("Retrying extraction from downloaded archive",
				log.FieldAttempt, attempt,
				log.FieldError, err)
			if cerr := clearExcept(root, archive); cerr != nil {
				return "", fmt.Errorf("%w: reset staging directory: %w", core.ErrExtractionFailed, cerr)
			}
		}
		d.sink.SetProgress(0)
		if err = d.extract(archive, root, d.sink.SetProgress); err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrExtractionFailed, err)
	}

	payload, err := findPayload(root)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrExtractionFailed, err)
	}
	d.logger.Info("Archive extracted", log.FieldPath, payload)
	return payload, nil
}

// findPayload locates the _internal folder at root or one level below.
func findPayload(root string) (string, error) {
	direct := filepath.Join(root, staging.PayloadDirName)
	if info, err := os.Stat(direct); err == nil && info.IsDir() {
		return direct, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(root, e.Name(), staging.PayloadDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no %s folder in archive", staging.PayloadDirName)
}

// clearExcept removes everything in dir but keep.
func clearExcept(dir, keep string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if path == keep {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	return nil
}
