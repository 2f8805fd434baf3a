package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloser struct {
	closed int
	err    error
}

func (f *fakeCloser) Close() error {
	f.closed++
	return f.err
}

func TestSessionTable_Lifecycle(t *testing.T) {
	table := NewSessionTable[*fakeCloser]()
	c := &fakeCloser{}

	id := table.Create(c)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, table.Len())

	got, err := table.Get(id)
	require.NoError(t, err)
	assert.Same(t, c, got)

	require.NoError(t, table.Close(id))
	assert.Equal(t, 1, c.closed)
	assert.Zero(t, table.Len())

	_, err = table.Get(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, table.Close(id), ErrSessionNotFound)
	assert.Equal(t, 1, c.closed, "a removed session must not be closed twice")
}

func TestSessionTable_IDsAreUnique(t *testing.T) {
	table := NewSessionTable[*fakeCloser]()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := table.Create(&fakeCloser{})
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestSessionTable_CloseReturnsCloserError(t *testing.T) {
	table := NewSessionTable[*fakeCloser]()
	boom := errors.New("boom")
	id := table.Create(&fakeCloser{err: boom})

	assert.ErrorIs(t, table.Close(id), boom)
	assert.Zero(t, table.Len())
}

func TestSessionTable_CloseAll(t *testing.T) {
	table := NewSessionTable[*fakeCloser]()
	a, b := &fakeCloser{}, &fakeCloser{err: errors.New("ignored")}
	table.Create(a)
	table.Create(b)

	table.CloseAll()
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
	assert.Zero(t, table.Len())
}

func TestSessionTable_Concurrent(t *testing.T) {
	table := NewSessionTable[*fakeCloser]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := table.Create(&fakeCloser{})
			_, err := table.Get(id)
			assert.NoError(t, err)
			assert.NoError(t, table.Close(id))
		}()
	}
	wg.Wait()
	assert.Zero(t, table.Len())
}
