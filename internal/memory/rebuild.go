package memory

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/chatmem/chatmem/internal/vecindex"
)

// embedConcurrency bounds the number of in-flight embedding requests
// during a rebuild. Local model servers degrade badly past a handful of
// parallel calls.
const embedConcurrency = 4

// RebuildIndex re-embeds every dialogue unit's prompt and response into a
// fresh index, persists it, and swaps it in. A no-op unless units were
// added since the last build, or force is set. Queries keep hitting the
// old index until the swap.
func (s *Store) RebuildIndex(ctx context.Context, force bool) error {
	s.idxMu.RLock()
	dirty := s.dirty
	s.idxMu.RUnlock()
	if !dirty && !force {
		return nil
	}

	units, err := s.db.AllUnitTexts()
	if err != nil {
		return fmt.Errorf("listing units for rebuild: %w", err)
	}

	type unitVectors struct {
		prompt   []float32
		response []float32
	}
	vectors := make([]unitVectors, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, u := range units {
		g.Go(func() error {
			p, err := s.embed(gctx, u.Prompt)
			if err != nil {
				return fmt.Errorf("embedding prompt of unit %d: %w", u.ID, err)
			}
			r, err := s.embed(gctx, u.Response)
			if err != nil {
				return fmt.Errorf("embedding response of unit %d: %w", u.ID, err)
			}
			vectors[i] = unitVectors{prompt: p, response: r}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ix := vecindex.New(s.dim)
	for i, u := range units {
		if err := ix.Add(vecindex.PromptSlot(u.ID), vectors[i].prompt); err != nil {
			return err
		}
		if err := ix.Add(vecindex.ResponseSlot(u.ID), vectors[i].response); err != nil {
			return err
		}
	}
	if err := ix.Build(); err != nil {
		return err
	}
	if s.indexPath != "" {
		if err := ix.Save(s.indexPath); err != nil {
			return fmt.Errorf("persisting rebuilt index: %w", err)
		}
	}

	s.idxMu.Lock()
	s.index = ix
	s.dirty = false
	s.idxMu.Unlock()

	s.logger.Info("vector index rebuilt", "units", len(units), "vectors", ix.Len())
	return nil
}
