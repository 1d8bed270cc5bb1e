// Package persistence writes and restores the on-disk index state: the
// native HNSW graph export, the optional product-quantizer codebook, and
// a single combined file carrying everything else (BM25 postings, LSH
// signatures, and the engine's own auxiliary maps). An advisory file lock
// guards the whole save sequence against a concurrent incremental flush.
package persistence

import (
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/corvus-labs/hybridcore/internal/herrors"
	"github.com/corvus-labs/hybridcore/internal/store"
)

const (
	annFileName   = "hnsw.index"
	pqFileName    = "pq_quantizer.bin"
	otherFileName = "other_data.bin"
	lockFileName  = ".hybridcore.lock"

	lockAcquireTimeout = 10 * time.Second
	lockRetryDelay     = 50 * time.Millisecond
)

// Bundle is the full set of index state the persistence layer reads from
// and writes into. It never constructs or mutates index logic beyond
// calling each index's own Save/Load/Snapshot/Restore.
type Bundle struct {
	ANN  store.VectorStore
	BM25 *store.KeywordIndex
	LSH  *store.LSHIndex
	PQ   *store.ProductQuantizer

	Vectors      map[string][]float32
	PQCodes      map[string][]byte
	Metadata     map[string]*store.Metadata
	TextFeatures map[string]map[string]struct{}
}

// otherData is the combined gob payload written to other_data.bin.
type otherData struct {
	BM25         store.BM25Snapshot
	LSH          store.LSHSnapshot
	Vectors      map[string][]float32
	PQCodes      map[string][]byte
	Metadata     map[string]*store.Metadata
	TextFeatures map[string]map[string]struct{}
}

// Save writes the three-file layout under dir. pq_quantizer.bin is skipped
// entirely when the quantizer has never been trained, per §4.G.
func Save(ctx context.Context, dir string, b Bundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return herrors.NewPersistenceError(herrors.CodeSaveFailed, "create index directory", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	lockCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return herrors.NewPersistenceError(herrors.CodeLockUnavailable, "acquire index lock", err)
	}
	if !locked {
		return herrors.NewPersistenceError(herrors.CodeLockUnavailable, "index directory is locked by another process", nil)
	}
	defer lock.Unlock()

	if b.ANN != nil {
		if err := b.ANN.Save(filepath.Join(dir, annFileName)); err != nil {
			return herrors.NewPersistenceError(herrors.CodeSaveFailed, "save ann index", err)
		}
	}

	if b.PQ != nil && b.PQ.Trained() {
		if err := b.PQ.Save(filepath.Join(dir, pqFileName)); err != nil {
			return herrors.NewPersistenceError(herrors.CodeSaveFailed, "save product quantizer", err)
		}
	}

	od := otherData{
		Vectors:      b.Vectors,
		PQCodes:      b.PQCodes,
		Metadata:     b.Metadata,
		TextFeatures: b.TextFeatures,
	}
	if b.BM25 != nil {
		od.BM25 = b.BM25.Snapshot()
	}
	if b.LSH != nil {
		od.LSH = b.LSH.Snapshot()
	}

	if err := saveOtherData(filepath.Join(dir, otherFileName), od); err != nil {
		return herrors.NewPersistenceError(herrors.CodeSaveFailed, "save auxiliary state", err)
	}

	return nil
}

func saveOtherData(path string, od otherData) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if err := gob.NewEncoder(file).Encode(od); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode auxiliary state: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores state from dir into b. A missing hnsw.index, a missing
// pq_quantizer.bin, or a missing other_data.bin are all treated as "no
// prior save" rather than an error — the engine simply starts empty for
// whichever piece is absent. A file that IS present but fails to decode is
// logged and skipped rather than aborting the whole load: the engine ends
// up empty for that member only, same as if the file had never been
// written, per §4.G/§7 ("load errors are caught and logged").
func Load(ctx context.Context, dir string, logger *slog.Logger, b Bundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}

	annPath := filepath.Join(dir, annFileName)
	if _, err := os.Stat(annPath); err == nil && b.ANN != nil {
		if err := b.ANN.Load(annPath); err != nil {
			logger.Warn("load ann index failed, starting empty", "path", annPath, "error", err)
		}
	}

	pqPath := filepath.Join(dir, pqFileName)
	if _, err := os.Stat(pqPath); err == nil && b.PQ != nil {
		if err := b.PQ.Load(pqPath); err != nil {
			logger.Warn("load product quantizer failed, starting untrained", "path", pqPath, "error", err)
		}
	}

	otherPath := filepath.Join(dir, otherFileName)
	if _, err := os.Stat(otherPath); err != nil {
		return nil
	}

	od, err := loadOtherData(otherPath)
	if err != nil {
		logger.Warn("load auxiliary state failed, starting empty", "path", otherPath, "error", err)
		return nil
	}

	if b.BM25 != nil {
		b.BM25.Restore(od.BM25)
	}
	if b.LSH != nil {
		b.LSH.Restore(od.LSH)
	}
	for k, v := range od.Vectors {
		b.Vectors[k] = v
	}
	for k, v := range od.PQCodes {
		b.PQCodes[k] = v
	}
	for k, v := range od.Metadata {
		b.Metadata[k] = v
	}
	for k, v := range od.TextFeatures {
		b.TextFeatures[k] = v
	}

	return nil
}

func loadOtherData(path string) (otherData, error) {
	file, err := os.Open(path)
	if err != nil {
		return otherData{}, herrors.NewPersistenceError(herrors.CodeLoadFailed, "open auxiliary state", err)
	}
	defer file.Close()

	var od otherData
	if err := gob.NewDecoder(file).Decode(&od); err != nil {
		return otherData{}, herrors.NewPersistenceError(herrors.CodeCorruptIndex, "decode auxiliary state", err)
	}
	return od, nil
}
