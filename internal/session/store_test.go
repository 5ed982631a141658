package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexbrief/internal/config"
	"lexbrief/internal/models"
	"lexbrief/internal/redis"
	"lexbrief/internal/storage"
)

func newSession() *models.DocumentSession {
	return &models.DocumentSession{
		ID:                uuid.NewString(),
		FileName:          "invoice.pdf",
		StoredPath:        "/tmp/invoice.pdf",
		Text:              "Invoice 42. Total due: 500.",
		Task:              "simple_summarization",
		Summary:           "An invoice for 500.",
		Language:          "French",
		TranslatedSummary: "Une facture de 500.",
	}
}

type storeFactory func(t *testing.T) Store

func stores(t *testing.T) map[string]storeFactory {
	t.Helper()
	out := map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore(time.Hour, time.Minute, nil)
		},
		"sqlite": func(t *testing.T) Store {
			cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
				"sqlite3": {DSN: filepath.Join(t.TempDir(), "sessions.db")},
			}}
			db, err := storage.Open("sqlite3", cfg)
			require.NoError(t, err)
			require.NoError(t, storage.Migrate(db, "sqlite3"))
			s := NewSQLStore(db, time.Hour)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		out["redis"] = func(t *testing.T) Store {
			host, port, _ := strings.Cut(addr, ":")
			p, _ := strconv.Atoi(port)
			client, err := redis.NewRedisClient(context.Background(), config.RedisConfig{Host: host, Port: p})
			require.NoError(t, err)
			s := NewRedisStore(client, time.Hour)
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return out
}

func TestStoreRoundTrip(t *testing.T) {
	for name, factory := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			doc := newSession()
			require.NoError(t, store.Create(ctx, doc))
			assert.False(t, doc.ExpiresAt.IsZero())

			got, err := store.Get(ctx, doc.ID)
			require.NoError(t, err)
			assert.Equal(t, doc.Text, got.Text)
			assert.Equal(t, doc.TranslatedSummary, got.TranslatedSummary)
			assert.Empty(t, got.Transcript)

			require.NoError(t, store.AppendTurn(ctx, doc.ID, models.Turn{Question: "q1", Answer: "a1"}))
			require.NoError(t, store.AppendTurn(ctx, doc.ID, models.Turn{Question: "q2", Answer: "a2"}))

			got, err = store.Get(ctx, doc.ID)
			require.NoError(t, err)
			require.Len(t, got.Transcript, 2)
			assert.Equal(t, "q1", got.Transcript[0].Question)
			assert.Equal(t, "a2", got.Transcript[1].Answer)

			require.NoError(t, store.Delete(ctx, doc.ID))
			_, err = store.Get(ctx, doc.ID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreUnknownID(t *testing.T) {
	for name, factory := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			_, err := store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.AppendTurn(ctx, "missing", models.Turn{Question: "q"}), ErrNotFound)
			assert.ErrorIs(t, store.Delete(ctx, "missing"), ErrNotFound)
		})
	}
}

func TestStoreConcurrentAppends(t *testing.T) {
	for name, factory := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			doc := newSession()
			require.NoError(t, store.Create(ctx, doc))

			const n = 20
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs <- store.AppendTurn(ctx, doc.ID, models.Turn{
						Question: fmt.Sprintf("q%d", i),
						Answer:   fmt.Sprintf("a%d", i),
					})
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			got, err := store.Get(ctx, doc.ID)
			require.NoError(t, err)
			require.Len(t, got.Transcript, n)
			seen := map[string]bool{}
			for _, turn := range got.Transcript {
				assert.Equal(t, "a"+strings.TrimPrefix(turn.Question, "q"), turn.Answer)
				seen[turn.Question] = true
			}
			assert.Len(t, seen, n)
		})
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour, time.Minute, nil)
	doc := newSession()
	require.NoError(t, store.Create(ctx, doc))

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	got.Transcript = append(got.Transcript, models.Turn{Question: "local only"})
	got.Summary = "mutated"

	again, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Transcript)
	assert.Equal(t, doc.Summary, again.Summary)
}

func TestMemoryStoreExpiryEvicts(t *testing.T) {
	ctx := context.Background()
	evicted := make(chan string, 1)
	store := NewMemoryStore(time.Hour, time.Hour, func(s *models.DocumentSession) {
		evicted <- s.ID
	})
	doc := newSession()
	doc.CreatedAt = time.Now().Add(-time.Hour)
	doc.ExpiresAt = time.Now().Add(20 * time.Millisecond)
	require.NoError(t, store.Create(ctx, doc))

	time.Sleep(40 * time.Millisecond)
	_, err := store.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	select {
	case id := <-evicted:
		assert.Equal(t, doc.ID, id)
	case <-time.After(time.Second):
		t.Fatal("eviction hook not called")
	}
}

func TestSQLStorePurgeExpired(t *testing.T) {
	ctx := context.Background()
	store := stores(t)["sqlite"](t).(*SQLStore)

	live := newSession()
	require.NoError(t, store.Create(ctx, live))

	old := newSession()
	old.CreatedAt = time.Now().Add(-48 * time.Hour).UTC()
	old.ExpiresAt = time.Now().Add(-24 * time.Hour).UTC()
	old.Transcript = []models.Turn{{Question: "q", Answer: "a"}}
	require.NoError(t, store.Create(ctx, old))

	_, err := store.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	purged, err := store.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, purged, 1)
	assert.Equal(t, old.ID, purged[0].ID)
	assert.Equal(t, old.StoredPath, purged[0].StoredPath)

	_, err = store.Get(ctx, live.ID)
	assert.NoError(t, err)
}

func TestSQLStoreWithoutTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: filepath.Join(t.TempDir(), "sessions.db")},
	}}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	store := NewSQLStore(db, 0)
	t.Cleanup(func() { store.Close() })

	doc := newSession()
	require.NoError(t, store.Create(ctx, doc))
	require.NoError(t, store.AppendTurn(ctx, doc.ID, models.Turn{Question: "q", Answer: "a"}))

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.IsZero())
	assert.Len(t, got.Transcript, 1)

	purged, err := store.PurgeExpired(ctx, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, purged)
}

func TestOpenRejectsUnknownStore(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{SessionStore: "etcd"}, nil, nil)
	assert.Error(t, err)
}
