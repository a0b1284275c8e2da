// Package cache memoizes source loading. Entries are keyed by the SHA-256 of the
// source bytes plus the loader options, so an edited file is never served stale.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rewired-gh/survivorship/internal/loader"
	"github.com/rewired-gh/survivorship/internal/logger"
	"github.com/rewired-gh/survivorship/internal/models"
)

// Store persists loaded datasets by key. Implementations must hand out copies.
type Store interface {
	Get(key string) (*models.Dataset, bool, error)
	Put(key string, ds *models.Dataset) error
}

// LoadFunc parses source bytes.
type LoadFunc func(name string, data []byte) (*models.Dataset, error)

// Loader loads sources through a Store. A nil store disables caching.
type Loader struct {
	store       Store
	load        LoadFunc
	fingerprint string
	group       singleflight.Group
	now         func() time.Time
}

// New wraps an arbitrary load function. fingerprint must change whenever the
// function would parse the same bytes differently.
func New(store Store, load LoadFunc, fingerprint string) *Loader {
	return &Loader{
		store:       store,
		load:        load,
		fingerprint: fingerprint,
		now:         time.Now,
	}
}

// NewLoader caches loader.LoadBytes with the given options.
func NewLoader(store Store, opts loader.Options) *Loader {
	return New(store, func(name string, data []byte) (*models.Dataset, error) {
		return loader.LoadBytes(name, data, opts)
	}, opts.Fingerprint())
}

// Key derives the cache key for source content.
func (l *Loader) Key(data []byte) string {
	sum := sha256.Sum256([]byte(l.fingerprint))
	return loader.ContentHash(data) + ":" + hex.EncodeToString(sum[:8])
}

// Load returns the dataset for path and whether it came from the cache.
func (l *Loader) Load(path string) (*models.Dataset, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read source: %w", err)
	}
	return l.LoadBytes(path, data)
}

// LoadBytes is Load for content already in memory.
func (l *Loader) LoadBytes(name string, data []byte) (*models.Dataset, bool, error) {
	key := l.Key(data)

	type outcome struct {
		ds  *models.Dataset
		hit bool
	}
	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		if l.store != nil {
			ds, ok, err := l.store.Get(key)
			if err != nil {
				logger.Warn("Cache lookup failed for %s: %v", name, err)
			} else if ok {
				return outcome{ds: ds, hit: true}, nil
			}
		}

		ds, err := l.load(name, data)
		if err != nil {
			return nil, err
		}
		ds.RunID = uuid.NewString()
		ds.LoadedAt = l.now().UTC()
		if ds.Report.ContentHash == "" {
			ds.Report.ContentHash = loader.ContentHash(data)
		}
		if l.store != nil {
			if err := l.store.Put(key, ds); err != nil {
				logger.Warn("Failed to cache %s: %v", name, err)
			}
		}
		return outcome{ds: ds}, nil
	})
	if err != nil {
		return nil, false, err
	}

	o := v.(outcome)
	if o.hit {
		logger.Debug("Cache hit for %s (run %s)", name, o.ds.RunID)
	}
	// Callers sharing a flight must not share the dataset. The key is content
	// only, so the stored source may name another file with identical bytes.
	ds := o.ds.Clone()
	ds.Report.Source = name
	return ds, o.hit, nil
}

// LoadAll loads several sources concurrently and returns them in input order.
// The first failure cancels the sources not yet started.
func (l *Loader) LoadAll(ctx context.Context, paths []string) ([]*models.Dataset, error) {
	datasets := make([]*models.Dataset, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ds, _, err := l.Load(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			datasets[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return datasets, nil
}
