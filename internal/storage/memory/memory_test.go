package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envelopes/internal/core"
	"envelopes/internal/storage"
	"envelopes/internal/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return New() })
}

func TestViewRejectsWrites(t *testing.T) {
	s := New()
	err := s.View(context.Background(), func(tx storage.Tx) error {
		_, err := tx.InsertEnvelope(context.Background(), core.Envelope{Name: "x"})
		return err
	})
	assert.ErrorIs(t, err, errReadOnly)
}

func TestClosedStore(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	err := s.Update(context.Background(), func(tx storage.Tx) error { return nil })
	assert.Error(t, err)
}

func TestCanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.Update(ctx, func(tx storage.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
