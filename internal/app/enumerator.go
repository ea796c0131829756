package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ctfix/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoPrefixes is returned when Enumerate is given an empty prefix list
var ErrNoPrefixes = errors.New("at least one prefix is required")

// Enumerator builds the deduplicated candidate key set for a bucket
type Enumerator struct {
	client storage.Client
	logger *zap.Logger
}

// NewEnumerator creates a new enumerator
func NewEnumerator(client storage.Client, logger *zap.Logger) *Enumerator {
	return &Enumerator{
		client: client,
		logger: logger,
	}
}

// Enumerate lists every key under each prefix and merges them into one set.
// Overlapping prefixes are allowed and the empty prefix matches every key.
// Any listing error fails the whole enumeration.
func (e *Enumerator) Enumerate(ctx context.Context, bucket string, prefixes []string) (map[string]struct{}, error) {
	if len(prefixes) == 0 {
		return nil, ErrNoPrefixes
	}

	var mu sync.Mutex
	keys := make(map[string]struct{})

	g, gctx := errgroup.WithContext(ctx)
	for _, prefix := range uniquePrefixes(prefixes) {
		prefix := prefix
		g.Go(func() error {
			listed, err := e.listPrefix(gctx, bucket, prefix)
			if err != nil {
				return err
			}

			mu.Lock()
			for _, key := range listed {
				keys[key] = struct{}{}
			}
			mu.Unlock()

			e.logger.Debug("Listed prefix",
				zap.String("prefix", prefix),
				zap.Int("objects", len(listed)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return keys, nil
}

func (e *Enumerator) listPrefix(ctx context.Context, bucket, prefix string) ([]string, error) {
	objCh, errCh := e.client.ListObjects(ctx, bucket, prefix)

	var keys []string
	for obj := range objCh {
		keys = append(keys, obj.Key)
	}

	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("error listing prefix %q: %w", prefix, err)
	}
	// listing stops early without an error when ctx ends
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

func uniquePrefixes(prefixes []string) []string {
	seen := make(map[string]struct{}, len(prefixes))
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
