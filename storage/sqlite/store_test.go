package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/store"
	"github.com/c0deZ3R0/listsync/store/storetest"
)

func openTemp(t *testing.T, watch bool) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lists.db")
	config := DefaultConfig(path)
	config.WatchExternal = watch
	s, err := New(context.Background(), config)
	require.NoError(t, err)
	return s, path
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, _ := openTemp(t, false)
		return s
	})
}

func TestStoreContract_InMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(context.Background(), &Config{Path: ":memory:"})
		require.NoError(t, err)
		return s
	})
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(context.Background(), &Config{})
	assert.Error(t, err)

	_, err = New(context.Background(), nil)
	assert.Error(t, err)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t, false)
	require.NoError(t, storetest.Write(ctx, s, storetest.Seed()))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	snap, err := reopened.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, storetest.Normalize(storetest.Seed()), storetest.Normalize(snap))
}

func TestStore_ClosedStoreErrors(t *testing.T) {
	s, _ := openTemp(t, false)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	_, err := s.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
	err = s.Update(context.Background(), func(ctx context.Context, tx store.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestStore_ExternalCommitNotifies(t *testing.T) {
	ctx := context.Background()
	watched, path := openTemp(t, true)
	defer watched.Close()

	events := make(chan store.ChangeEvent, 8)
	watched.Subscribe(func(ev store.ChangeEvent) { events <- ev })

	other, err := New(ctx, &Config{Path: path, EnableWAL: true})
	require.NoError(t, err)
	defer other.Close()

	err = other.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.PutList(ctx, model.List{ID: "l-ext", Name: "From elsewhere"})
	})
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Origin != store.OriginExternal {
				continue
			}
			snap, err := watched.Snapshot(ctx)
			require.NoError(t, err)
			if len(snap.Lists) == 0 {
				continue
			}
			assert.Equal(t, "From elsewhere", snap.Lists[0].Name)
			return
		case <-deadline:
			t.Fatal("external commit was not reported")
		}
	}
}

func TestStore_OwnCommitIsLocalOnly(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t, true)
	defer s.Close()

	events := make(chan store.ChangeEvent, 8)
	s.Subscribe(func(ev store.ChangeEvent) { events <- ev })

	require.NoError(t, storetest.Write(ctx, s, storetest.Seed()))

	timeout := time.After(500 * time.Millisecond)
	var local int
	for {
		select {
		case ev := <-events:
			if ev.Origin == store.OriginExternal {
				t.Fatal("own commit reported as external")
			}
			local++
		case <-timeout:
			assert.Equal(t, 1, local)
			return
		}
	}
}
