package configstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/imyashkale/hera/internal/apperrors"
	"github.com/imyashkale/hera/internal/models"
	"github.com/imyashkale/hera/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts durable reads and can be switched into a failing mode
type countingStore struct {
	objectstore.Store
	gets atomic.Int64
	fail atomic.Bool
}

func (c *countingStore) Get(ctx context.Context, bucket, p string) ([]byte, error) {
	c.gets.Add(1)
	if c.fail.Load() {
		return nil, errors.New("connection reset by peer")
	}
	return c.Store.Get(ctx, bucket, p)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store   *Store
	durable *countingStore
	clock   *fakeClock
}

func newFixture(t *testing.T, withDisk bool) *fixture {
	t.Helper()
	fsStore, err := objectstore.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	durable := &countingStore{Store: fsStore}
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}

	opts := Options{
		Bucket:       "artifacts",
		MemoryTTL:    5 * time.Minute,
		PersistedTTL: time.Hour,
		Now:          clock.Now,
	}
	if withDisk {
		disk, err := NewBadgerCache(t.TempDir(), time.Hour)
		require.NoError(t, err)
		t.Cleanup(func() { _ = disk.Close() })
		opts.Persisted = disk
	}
	return &fixture{store: New(durable, opts), durable: durable, clock: clock}
}

const packJSON = `{"id":"premium","kind":"template_pack","version":"2.0.0","modules":["dashboard",{"id":"appointments"}]}`

var premiumKey = models.ArtifactKey{Industry: "salon_beauty", ID: "premium"}

func TestStore_SaveThenLoadReturnsExactBytes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	saved, err := f.store.Save(ctx, premiumKey, []byte(packJSON), false)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", saved.Metadata.Version)
	assert.Equal(t, int64(len(packJSON)), saved.Metadata.Size)
	assert.Len(t, saved.Metadata.Checksum, 64)

	loaded, err := f.store.Load(ctx, premiumKey)
	require.NoError(t, err)
	assert.Equal(t, packJSON, string(loaded.Content))
	assert.Equal(t, saved.Metadata.Checksum, loaded.Metadata.Checksum)
	assert.Equal(t, []string{"dashboard", "appointments"}, PackModules(loaded.Content))
}

func TestStore_InvalidateRefetchesFromDurable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	_, err := f.store.Save(ctx, premiumKey, []byte(packJSON), false)
	require.NoError(t, err)

	_, err = f.store.Load(ctx, premiumKey)
	require.NoError(t, err)
	_, err = f.store.Load(ctx, premiumKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.durable.gets.Load(), "second load must be served from cache")

	require.NoError(t, f.store.Invalidate(ctx, premiumKey))
	_, err = f.store.Load(ctx, premiumKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.durable.gets.Load())
}

func TestStore_SaveOverwriteInvalidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	_, err := f.store.Save(ctx, premiumKey, []byte(packJSON), false)
	require.NoError(t, err)
	_, err = f.store.Load(ctx, premiumKey)
	require.NoError(t, err)

	updated := `{"id":"premium","kind":"template_pack","version":"2.1.0","modules":["dashboard"]}`
	_, err = f.store.Save(ctx, premiumKey, []byte(updated), false)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))

	_, err = f.store.Save(ctx, premiumKey, []byte(updated), true)
	require.NoError(t, err)

	loaded, err := f.store.Load(ctx, premiumKey)
	require.NoError(t, err)
	assert.Equal(t, updated, string(loaded.Content))
}

func TestStore_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	_, err := f.store.Save(ctx, premiumKey, []byte(packJSON), false)
	require.NoError(t, err)
	_, err = f.store.Load(ctx, premiumKey)
	require.NoError(t, err)
	require.Equal(t, int64(1), f.durable.gets.Load())

	// past the memory TTL: the stale memory entry is dropped on lookup and
	// the persisted layer answers
	f.clock.Advance(6 * time.Minute)
	_, err = f.store.Load(ctx, premiumKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.durable.gets.Load())

	// past the persisted TTL as well
	f.clock.Advance(2 * time.Hour)
	_, err = f.store.Load(ctx, premiumKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.durable.gets.Load())
}

func TestStore_MemoryOnlyExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	_, err := f.store.Save(ctx, premiumKey, []byte(packJSON), false)
	require.NoError(t, err)
	_, err = f.store.Load(ctx, premiumKey)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, err = f.store.Load(ctx, premiumKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.durable.gets.Load(), "an entry exactly TTL old is expired")
}

func TestStore_BundledDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	salon, err := f.store.Load(ctx, models.ArtifactKey{Industry: "salon_beauty", ID: "standard"})
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", salon.Metadata.Version)
	assert.Contains(t, PackModules(salon.Content), "appointments")

	// unknown industry falls back to the generic pack
	spa, err := f.store.Load(ctx, models.ArtifactKey{Industry: "day_spa", ID: "standard"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard", "customers", "invoicing", "reports"}, PackModules(spa.Content))

	_, err = f.store.Load(ctx, models.ArtifactKey{Industry: "day_spa", ID: "nonexistent"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestStore_DurableFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.durable.fail.Store(true)

	a, err := f.store.Load(ctx, models.ArtifactKey{Industry: "retail", ID: "standard"})
	require.NoError(t, err)
	assert.Equal(t, "standard", a.Key.ID)

	_, err = f.store.Load(ctx, premiumKey)
	assert.True(t, apperrors.IsKind(err, apperrors.KindProvider))
}

func TestStore_DurableFailureDoesNotCacheDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	standard := models.ArtifactKey{Industry: "retail", ID: "standard"}
	custom := `{"id":"standard","kind":"template_pack","version":"9.0.0","modules":["pos"]}`

	_, err := f.store.Save(ctx, standard, []byte(custom), false)
	require.NoError(t, err)

	f.durable.fail.Store(true)
	a, err := f.store.Load(ctx, standard)
	require.NoError(t, err)
	assert.NotEqual(t, "9.0.0", a.Metadata.Version, "outage serves the bundled default")

	f.durable.fail.Store(false)
	a, err = f.store.Load(ctx, standard)
	require.NoError(t, err)
	assert.Equal(t, "9.0.0", a.Metadata.Version)
	assert.Equal(t, int64(2), f.durable.gets.Load())
}

func TestStore_InvalidateAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	_, err := f.store.Save(ctx, premiumKey, []byte(packJSON), false)
	require.NoError(t, err)
	_, err = f.store.Load(ctx, premiumKey)
	require.NoError(t, err)

	require.NoError(t, f.store.InvalidateAll(ctx))
	_, err = f.store.Load(ctx, premiumKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.durable.gets.Load())
}

func TestStore_ConcurrentColdLoads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.store.Save(ctx, premiumKey, []byte(packJSON), false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := f.store.Load(ctx, premiumKey)
			if assert.NoError(t, err) {
				assert.Equal(t, packJSON, string(a.Content))
			}
		}()
	}
	wg.Wait()
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	fsStore, err := objectstore.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	s := New(fsStore, Options{
		Bucket: "artifacts",
		Defaults: fstest.MapFS{
			"salon_beauty/standard.json": {Data: []byte(`{}`)},
			"salon_beauty/client.json":   {Data: []byte(`{}`)},
		},
	})

	_, err = s.Save(ctx, premiumKey, []byte(packJSON), false)
	require.NoError(t, err)

	keys, err := s.List(ctx, "salon_beauty")
	require.NoError(t, err)
	assert.Equal(t, []models.ArtifactKey{
		{Industry: "salon_beauty", ID: "client"},
		{Industry: "salon_beauty", ID: "premium"},
		{Industry: "salon_beauty", ID: "standard"},
	}, keys)
}

func TestValidateArtifact(t *testing.T) {
	key := models.ArtifactKey{Industry: "generic", ID: "x"}
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"template pack", `{"id":"x","kind":"template_pack","version":"1","modules":[]}`, false},
		{"entity template", `{"id":"x","kind":"entity_template","version":"1","fields":[]}`, false},
		{"theme", `{"id":"x","kind":"theme","version":"1","colors":{}}`, false},
		{"not json", `{"id":`, true},
		{"array", `[]`, true},
		{"missing version", `{"id":"x","kind":"theme","colors":{}}`, true},
		{"id mismatch", `{"id":"y","kind":"theme","version":"1","colors":{}}`, true},
		{"pack without modules", `{"id":"x","kind":"template_pack","version":"1"}`, true},
		{"unknown kind", `{"id":"x","kind":"widget","version":"1"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArtifact(key, []byte(tt.content))
			if tt.wantErr {
				assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, ValidateKey(models.ArtifactKey{Industry: "../etc", ID: "passwd"}))
}

func TestBadgerCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d, err := NewBadgerCache(dir, time.Hour)
	require.NoError(t, err)

	_, ok, err := d.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Set(ctx, "a/b", []byte("one")))
	require.NoError(t, d.Set(ctx, "a/c", []byte("two")))
	data, ok, err := d.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "one", string(data))

	require.NoError(t, d.Delete(ctx, "a/b"))
	require.NoError(t, d.Delete(ctx, "a/b"))
	_, ok, err = d.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("survives reopen", func(t *testing.T) {
		require.NoError(t, d.Close())
		d, err = NewBadgerCache(dir, time.Hour)
		require.NoError(t, err)

		data, ok, err := d.Get(ctx, "a/c")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "two", string(data))
	})

	require.NoError(t, d.Clear(ctx))
	_, ok, err = d.Get(ctx, "a/c")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, d.Close())
}
