package api

import (
	"context"
	"testing"
	"time"

	"github.com/chatmem/chatmem/internal/memory"
	"github.com/chatmem/chatmem/internal/profile"
	"github.com/chatmem/chatmem/internal/storage"
)

// stubEngine hands back the same vector for every text. Semantic ranking
// is covered in the memory package; API tests only need the plumbing to
// hold together.
type stubEngine struct{}

func (stubEngine) Embed(context.Context, string, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (stubEngine) IsRunning(context.Context) bool { return true }

// newTestDeps builds a fully wired in-memory stack with an open session.
func newTestDeps(t *testing.T) (AppDeps, *memory.Store) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mem, err := memory.New(db, stubEngine{}, memory.Options{
		Model:             "test-model",
		Dimension:         3,
		MaxTokens:         512,
		Timezone:          "UTC",
		HeartbeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	if _, _, err := mem.OpenSession(); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	t.Cleanup(func() { mem.CloseSession(context.Background()) })

	return AppDeps{
		Memory:  mem,
		Profile: profile.NewManager(db),
		Token:   "test-token",
	}, mem
}
