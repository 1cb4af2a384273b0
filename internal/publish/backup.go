package publish

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xmastree/datasleigh/internal/store"
)

// doBackup performs the monthly cold-backup rotation (spec.md §4.8):
// pause ingestion, close the live store, tar+gzip its directory,
// upload the archive, move the old directory aside, and open a fresh
// store at the same path so ingestion can resume even though it's off
// season. Grounded on
// `_examples/original_source/data_sleigh/src/data_sleigh/backup.py`'s
// close-archive-reopen sequence; Badger's directory-based layout
// (versus the original's single DuckDB file) is why this archives a
// directory instead of copying one file.
func (p *Publisher) doBackup(ctx context.Context, now time.Time) error {
	p.logger.Info("starting monthly cold backup")

	p.buffer.SetPaused(true)
	defer p.buffer.SetPaused(false)

	oldStore := p.handle.Get()
	path := oldStore.Path()
	maxStorageBytes := oldStore.MaxStorageBytes()

	if err := oldStore.Close(); err != nil {
		return fmt.Errorf("closing store for backup: %w", err)
	}

	archiveName := fmt.Sprintf("%sdata-%s.tar.gz", p.cfg.BackupPrefix, now.Format("2006-01"))
	if err := p.archiveAndUpload(ctx, path, archiveName); err != nil {
		if reopenErr := p.reopenStore(path, maxStorageBytes); reopenErr != nil {
			p.logger.Error("failed to reopen store after failed backup", zap.Error(reopenErr))
		}
		return fmt.Errorf("archiving store: %w", err)
	}

	rotatedPath := path + ".rotated-" + now.Format("20060102-150405")
	if err := os.Rename(path, rotatedPath); err != nil {
		return fmt.Errorf("moving aside old store directory: %w", err)
	}

	if err := p.reopenStore(path, maxStorageBytes); err != nil {
		return fmt.Errorf("reopening store after backup: %w", err)
	}

	if err := os.RemoveAll(rotatedPath); err != nil {
		p.logger.Warn("could not remove rotated store directory", zap.String("path", rotatedPath), zap.Error(err))
	}

	p.logger.Info("monthly cold backup complete", zap.String("archive", archiveName))
	return nil
}

// reopenStore opens a fresh store at path and installs it on the
// handle. The store being replaced must already be closed by the
// caller (see store.Handle.Swap) before this runs.
func (p *Publisher) reopenStore(path string, maxStorageBytes int64) error {
	fresh, err := store.Open(store.Config{Path: path, MaxStorageMB: maxStorageBytes / (1 << 20)})
	if err != nil {
		return err
	}
	p.handle.Swap(fresh)
	return nil
}

// archiveAndUpload tars+gzips dir and streams it to the object store
// under key without buffering the whole archive in memory: the tar
// writer feeds a pipe that the bucket reads directly.
func (p *Publisher) archiveAndUpload(ctx context.Context, dir, key string) error {
	pr, pw := io.Pipe()

	go func() {
		gz := gzip.NewWriter(pw)
		tw := tar.NewWriter(gz)

		err := filepath.Walk(dir, func(file string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(dir, file)
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = rel
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(tw, f)
			return err
		})

		if err == nil {
			err = tw.Close()
		}
		if err == nil {
			err = gz.Close()
		}
		pw.CloseWithError(err)
	}()

	if err := p.bucket.Upload(ctx, key, pr); err != nil {
		pr.CloseWithError(err)
		return err
	}
	return nil
}
