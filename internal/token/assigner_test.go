package token

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
	"github.com/Riboost-Studio/order-print-desk/internal/utils"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAssignIsIdempotentPerOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), utils.TokenFile)
	day := time.Date(2026, 10, 16, 9, 0, 0, 0, time.Local)
	a := NewAssigner(path, quietLogger(), WithClock(fixedClock(day)))

	first := a.Assign(model.Order{ID: 1})
	second := a.Assign(model.Order{ID: 2})
	dup := a.Assign(model.Order{ID: 1})

	assert.Equal(t, 1, first.Token)
	assert.Equal(t, 2, second.Token)
	assert.Equal(t, 1, dup.Token, "duplicate delivery keeps its original token")

	st := a.State()
	assert.Equal(t, 3, st.Counter, "duplicate does not advance the counter")
	assert.Equal(t, []int64{1, 2}, st.ProcessedOrders)
	assert.Equal(t, "2026-10-16", st.Date)
}

func TestAssignResetsOnNewDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), utils.TokenFile)
	require.NoError(t, utils.WriteJSONAtomic(path, model.TokenState{
		Counter:         7,
		Date:            "2026-10-15",
		ProcessedOrders: []int64{10, 11},
	}))

	a := NewAssigner(path, quietLogger(), WithClock(fixedClock(time.Date(2026, 10, 16, 0, 5, 0, 0, time.Local))))
	order := a.Assign(model.Order{ID: 10})

	assert.Equal(t, 1, order.Token, "yesterday's ids are forgotten")
	assert.Equal(t, 2, a.State().Counter)
}

func TestAssignPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), utils.TokenFile)
	clock := fixedClock(time.Date(2026, 10, 16, 12, 0, 0, 0, time.Local))

	a := NewAssigner(path, quietLogger(), WithClock(clock))
	a.Assign(model.Order{ID: 5})
	a.Assign(model.Order{ID: 6})

	b := NewAssigner(path, quietLogger(), WithClock(clock))
	assert.Equal(t, 2, b.Assign(model.Order{ID: 6}).Token)
	assert.Equal(t, 3, b.Assign(model.Order{ID: 7}).Token)

	n, ok := b.Lookup(5)
	assert.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestRolloverPersistsImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), utils.TokenFile)
	require.NoError(t, utils.WriteJSONAtomic(path, model.TokenState{Counter: 4, Date: "2026-10-01"}))

	a := NewAssigner(path, quietLogger(), WithClock(fixedClock(time.Date(2026, 10, 16, 8, 0, 0, 0, time.Local))))
	_, ok := a.Lookup(99)
	assert.False(t, ok)

	var stored model.TokenState
	require.NoError(t, utils.ReadJSON(path, &stored))
	assert.Equal(t, 1, stored.Counter)
	assert.Equal(t, "2026-10-16", stored.Date)
	assert.Empty(t, stored.ProcessedOrders)
}

func TestCorruptStateStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), utils.TokenFile)
	require.NoError(t, utils.WriteJSONAtomic(path, "not a state object"))

	a := NewAssigner(path, quietLogger(), WithClock(fixedClock(time.Date(2026, 10, 16, 8, 0, 0, 0, time.Local))))
	assert.Equal(t, 1, a.Assign(model.Order{ID: 1}).Token)
}
