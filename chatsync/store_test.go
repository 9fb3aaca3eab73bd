package chatsync

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"teamly-chat/models"
)

func TestStoreInitializePreservesOrder(t *testing.T) {
	m1, m2, m3 := msgAt("m1", 0), msgAt("m2", time.Second), msgAt("m3", 2*time.Second)

	store := NewStore()
	store.Initialize([]models.Message{m1, m2, m3})

	if diff := cmp.Diff([]models.Message{m1, m2, m3}, store.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, store.Ordered())
}

func TestStoreInitializeEmptyIsNoop(t *testing.T) {
	store := NewStore()
	store.Initialize([]models.Message{msgAt("m1", 0)})
	store.Initialize(nil)

	assert.Equal(t, 1, store.Len())
	assert.True(t, store.Contains("m1"))
}

func TestStoreInitializeReplacesContents(t *testing.T) {
	store := NewStore()
	store.Initialize([]models.Message{msgAt("m1", 0)})
	store.Initialize([]models.Message{msgAt("m2", time.Second), msgAt("m2", time.Second)})

	assert.Equal(t, []string{"m2"}, models.MessageIDs(store.Snapshot()))
	assert.False(t, store.Contains("m1"))
}

func TestStoreMergeIsIdempotent(t *testing.T) {
	batch := []models.Message{msgAt("m1", 0), msgAt("m2", time.Second)}

	once := NewStore()
	once.Merge(batch)

	twice := NewStore()
	twice.Merge(batch)
	appended := twice.Merge(batch)

	assert.Empty(t, appended)
	if diff := cmp.Diff(once.Snapshot(), twice.Snapshot()); diff != "" {
		t.Errorf("merging twice changed the store (-once +twice):\n%s", diff)
	}
}

func TestStoreMergeReturnsOnlyAppended(t *testing.T) {
	store := NewStore()
	store.Initialize([]models.Message{msgAt("m1", 0), msgAt("m2", time.Second)})

	appended := store.Merge([]models.Message{msgAt("m2", time.Second), msgAt("m3", 2*time.Second), msgAt("m3", 2*time.Second)})

	assert.Equal(t, []string{"m3"}, models.MessageIDs(appended))
	assert.Equal(t, []string{"m1", "m2", "m3"}, models.MessageIDs(store.Snapshot()))
}

func TestStoreMergeOutOfOrderBreaksOrdering(t *testing.T) {
	store := NewStore()
	store.Initialize([]models.Message{msgAt("m1", 0), msgAt("m3", 2*time.Second)})

	// merge non ordinato: m2 è più vecchio di m3 ma viene accodato
	appended := store.Merge([]models.Message{msgAt("m2", time.Second)})

	assert.Equal(t, []string{"m2"}, models.MessageIDs(appended))
	assert.Equal(t, []string{"m1", "m3", "m2"}, models.MessageIDs(store.Snapshot()))
	assert.False(t, store.Ordered())
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	store := NewStore()
	store.Initialize([]models.Message{msgAt("m1", 0)})

	snap := store.Snapshot()
	snap[0].Body = "changed"

	assert.Equal(t, "body m1", store.Snapshot()[0].Body)
}

func TestStoreLastAndMaxCreatedAt(t *testing.T) {
	store := NewStore()
	_, ok := store.Last()
	assert.False(t, ok)
	_, ok = store.MaxCreatedAt()
	assert.False(t, ok)

	late, early := msgAt("late", 5*time.Second), msgAt("early", time.Second)
	store.Merge([]models.Message{late, early})

	last, ok := store.Last()
	assert.True(t, ok)
	assert.Equal(t, "early", last.ID)

	newest, ok := store.MaxCreatedAt()
	assert.True(t, ok)
	assert.True(t, newest.Equal(late.CreatedAt))
}
