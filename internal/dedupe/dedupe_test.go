package dedupe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/quoting-switch/internal/store"
	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

func seed(t *testing.T, m *store.Memory, id string, payload []byte) {
	t.Helper()
	ctx := context.Background()
	h, err := Hash(payload)
	require.NoError(t, err)
	tx, _ := m.Begin(ctx)
	require.NoError(t, tx.CreateDuplicateCheck(ctx, fspiop.ResourceQuotes, model.DirectionRequest, model.DuplicateCheck{ID: id, Hash: h}))
	require.NoError(t, tx.Commit(ctx))
}

func TestHash_Canonical(t *testing.T) {
	a, err := Hash([]byte(`{"quoteId":"Q1","amount":{"currency":"USD","amount":"10"}}`))
	require.NoError(t, err)
	b, err := Hash([]byte("{ \"amount\": {\"amount\":\"10\", \"currency\":\"USD\"},\n \"quoteId\": \"Q1\" }"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, _ := Hash([]byte(`{"quoteId":"Q1","amount":{"currency":"EUR","amount":"10"}}`))
	assert.NotEqual(t, a, c)
}

func TestHash_NumbersKeptVerbatim(t *testing.T) {
	a, _ := Hash([]byte(`{"n":1.10}`))
	b, _ := Hash([]byte(`{"n":1.1}`))
	assert.NotEqual(t, a, b)
}

func TestHash_InvalidJSON(t *testing.T) {
	_, err := Hash([]byte(`{nope`))
	var fe *fspiop.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fspiop.MalformedSyntax, fe.Code)
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	orig := []byte(`{"quoteId":"Q1","amount":{"currency":"USD"}}`)
	seed(t, m, "Q1", orig)
	c := New(m)

	res, err := c.Check(ctx, fspiop.ResourceQuotes, model.DirectionRequest, "Q2", orig)
	require.NoError(t, err)
	assert.Equal(t, Result{false, false, res.Hash}, res)
	assert.True(t, res.IsNew())

	res, err = c.Check(ctx, fspiop.ResourceQuotes, model.DirectionRequest, "Q1", orig)
	require.NoError(t, err)
	assert.True(t, res.IsResend)
	assert.True(t, res.IsDuplicateID)

	res, err = c.Check(ctx, fspiop.ResourceQuotes, model.DirectionRequest, "Q1", []byte(`{"quoteId":"Q1","amount":{"currency":"EUR"}}`))
	require.NoError(t, err)
	assert.False(t, res.IsResend)
	assert.True(t, res.IsDuplicateID)
	assert.True(t, res.IsConflict())

	// direction is part of the key
	res, err = c.Check(ctx, fspiop.ResourceQuotes, model.DirectionResponse, "Q1", orig)
	require.NoError(t, err)
	assert.True(t, res.IsNew())
}

type failingLookup struct{}

func (failingLookup) GetDuplicateCheck(context.Context, fspiop.Resource, model.Direction, string) (*model.DuplicateCheck, error) {
	return nil, errors.New("db down")
}

func TestCheck_LookupError(t *testing.T) {
	_, err := New(failingLookup{}).Check(context.Background(), fspiop.ResourceQuotes, model.DirectionRequest, "Q1", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
