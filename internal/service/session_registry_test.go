package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repertory-sheet-server/internal/domain"
)

func newTestRegistry(size int, ttl time.Duration) *SessionRegistry {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewSessionRegistry(size, ttl, logger)
}

func TestSessionRegistry_Lifecycle(t *testing.T) {
	reg := newTestRegistry(10, time.Hour)

	s := reg.Create()
	require.NotEmpty(t, s.ID())
	assert.Equal(t, 1, reg.Len())

	got, err := reg.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	assert.True(t, reg.Delete(s.ID()))
	assert.False(t, reg.Delete(s.ID()))

	_, err = reg.Get(s.ID())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSessionRegistry_SessionsAreIsolated(t *testing.T) {
	reg := newTestRegistry(10, time.Hour)
	a := reg.Create()
	b := reg.Create()
	assert.NotEqual(t, a.ID(), b.ID())

	_, err := a.AddRubric(rubric("r1", "Mind", link("X", 3)))
	require.NoError(t, err)

	assert.Len(t, a.Rubrics(), 1)
	assert.Empty(t, b.Rubrics())
}

func TestSessionRegistry_DeleteDuringGet(t *testing.T) {
	reg := newTestRegistry(100, time.Hour)

	for i := 0; i < 50; i++ {
		s := reg.Create()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = reg.Get(s.ID())
			}
		}()
		go func() {
			defer wg.Done()
			reg.Delete(s.ID())
		}()
		wg.Wait()

		_, err := reg.Get(s.ID())
		assert.True(t, errors.Is(err, domain.ErrNotFound), "deleted session came back")
	}
	assert.Equal(t, 0, reg.Len())
}

func TestSessionRegistry_SizeBound(t *testing.T) {
	reg := newTestRegistry(2, time.Hour)
	first := reg.Create()
	reg.Create()
	reg.Create()

	assert.Equal(t, 2, reg.Len())
	_, err := reg.Get(first.ID())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSessionRegistry_IdleExpiry(t *testing.T) {
	reg := newTestRegistry(10, 50*time.Millisecond)
	s := reg.Create()

	time.Sleep(150 * time.Millisecond)
	_, err := reg.Get(s.ID())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
