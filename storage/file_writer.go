package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"cruise-scraper/models"
	"cruise-scraper/utils"
)

// ErrWriteFailed wraps every artifact write failure.
var ErrWriteFailed = errors.New("storage: batch write failed")

// FileWriter commits a batch as three date-stamped JSON artifacts. Either all
// three files are replaced or none is.
type FileWriter struct {
	dir    string
	logger *utils.Logger
	rename func(oldpath, newpath string) error
}

func NewFileWriter(dir string, logger *utils.Logger) *FileWriter {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &FileWriter{dir: dir, logger: logger, rename: os.Rename}
}

type artifact struct {
	path    string
	payload any
	tmp     string
	backup  string
}

// Write stages all artifacts next to their targets, then renames them into
// place. A failure at any point restores whatever was there before.
func (w *FileWriter) Write(ctx context.Context, b Batch) (models.Artifacts, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return models.Artifacts{}, fmt.Errorf("%w: create output dir: %w", ErrWriteFailed, err)
	}

	listings := b.Listings
	if listings == nil {
		listings = []models.Listing{}
	}
	byID := b.ByID
	if byID == nil {
		byID = map[string]models.Listing{}
	}

	arts := models.Artifacts{
		ListingsPath: filepath.Join(w.dir, fmt.Sprintf("listings_%s.json", b.RunDate)),
		ImportPath:   filepath.Join(w.dir, fmt.Sprintf("listings_import_%s.json", b.RunDate)),
		SummaryPath:  filepath.Join(w.dir, fmt.Sprintf("summary_%s.json", b.RunDate)),
	}
	files := []*artifact{
		{path: arts.ListingsPath, payload: listings},
		{path: arts.ImportPath, payload: byID},
		{path: arts.SummaryPath, payload: b.Summary},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tmp, err := writeTemp(w.dir, filepath.Base(f.path), f.payload)
			f.tmp = tmp
			return err
		})
	}
	if err := g.Wait(); err != nil {
		cleanupTemps(files)
		return models.Artifacts{}, fmt.Errorf("%w: stage: %w", ErrWriteFailed, err)
	}
	if err := ctx.Err(); err != nil {
		cleanupTemps(files)
		return models.Artifacts{}, err
	}

	if err := w.commit(files); err != nil {
		return models.Artifacts{}, fmt.Errorf("%w: commit: %w", ErrWriteFailed, err)
	}

	w.logger.Info("[storage] Wrote %d listings to %s", len(listings), w.dir)
	return arts, nil
}

func (w *FileWriter) commit(files []*artifact) error {
	for i, f := range files {
		if _, err := os.Stat(f.path); err == nil {
			f.backup = f.path + ".bak"
			if err := w.rename(f.path, f.backup); err != nil {
				f.backup = ""
				w.rollback(files[:i+1])
				cleanupTemps(files[i:])
				return err
			}
		}
		if err := w.rename(f.tmp, f.path); err != nil {
			w.rollback(files[:i+1])
			cleanupTemps(files[i:])
			return err
		}
		f.tmp = ""
	}
	for _, f := range files {
		if f.backup != "" {
			_ = os.Remove(f.backup)
		}
	}
	return nil
}

// rollback undoes renames already applied to files.
func (w *FileWriter) rollback(files []*artifact) {
	for _, f := range files {
		if f.tmp == "" {
			_ = os.Remove(f.path)
		}
		if f.backup != "" {
			if err := w.rename(f.backup, f.path); err != nil {
				w.logger.Error("[storage] Could not restore %s from %s: %v", f.path, f.backup, err)
			}
		}
	}
}

func writeTemp(dir, name string, payload any) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func cleanupTemps(files []*artifact) {
	for _, f := range files {
		if f.tmp != "" {
			_ = os.Remove(f.tmp)
			f.tmp = ""
		}
	}
}
