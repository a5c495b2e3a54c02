package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "channel closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func requireSilent(t *testing.T, ch <-chan Change, wait time.Duration) {
	t.Helper()
	select {
	case c, ok := <-ch:
		if ok {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(wait):
	}
}

func TestMemory_GetSetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "at")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Set(ctx, "at", "v1"))
	v, ok, err := m.Get(ctx, "at")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", v)

	require.NoError(t, m.Delete(ctx, "at"))
	require.NoError(t, m.Delete(ctx, "at"))
	_, ok, _ = m.Get(ctx, "at")
	require.False(t, ok)
}

func TestMemory_TabsShareDataAndNotifyOthersOnly(t *testing.T) {
	backend := NewMemoryBackend()
	tab1 := backend.Tab(WithOrigin("tab1"))
	tab2 := backend.Tab(WithOrigin("tab2"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w1, err := tab1.Watch(ctx, "at")
	require.NoError(t, err)
	w2, err := tab2.Watch(ctx, "at")
	require.NoError(t, err)

	require.NoError(t, tab1.Set(ctx, "at", "from-1"))
	require.NoError(t, tab1.Set(ctx, "other", "ignored"))
	require.NoError(t, tab2.Delete(ctx, "at"))

	c := recv(t, w2)
	assert.Equal(t, Change{Key: "at", Value: "from-1", Origin: "tab1"}, c)

	c = recv(t, w1)
	assert.Equal(t, Change{Key: "at", Deleted: true, Origin: "tab2"}, c)

	requireSilent(t, w1, 50*time.Millisecond)
	requireSilent(t, w2, 50*time.Millisecond)
}

func TestMemory_WatchPreservesOrder(t *testing.T) {
	backend := NewMemoryBackend()
	writer := backend.Tab()
	reader := backend.Tab()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := reader.Watch(ctx, "k")
	require.NoError(t, err)

	for _, v := range []string{"1", "2", "3", "4"} {
		require.NoError(t, writer.Set(ctx, "k", v))
	}
	for _, want := range []string{"1", "2", "3", "4"} {
		require.Equal(t, want, recv(t, ch).Value)
	}
}

func TestMemory_WatchClosesOnCancel(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := m.Watch(ctx, "at")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestBuildOptions_Defaults(t *testing.T) {
	o := buildOptions(nil)
	assert.NotEmpty(t, o.origin)
	assert.Equal(t, 500*time.Millisecond, o.pollInterval)
	assert.NotNil(t, o.logger)

	o = buildOptions([]Option{WithOrigin("x"), WithPollInterval(-1)})
	assert.Equal(t, "x", o.origin)
	assert.Equal(t, 500*time.Millisecond, o.pollInterval)
}
