package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A rate written during invoice creation references an order row the caller
// has not committed yet, so the write has to land on the caller's
// transaction rather than a fresh one.
func TestJoinOrBeginReusesOpenTransaction(t *testing.T) {
	tx := &sqlx.Tx{}
	// no db handle: opening a second transaction here would dereference nil
	s := &pgStorage{ext: tx}

	var got Factory
	err := s.joinOrBegin(context.Background(), func(f Factory) error {
		got = f
		return nil
	})
	require.NoError(t, err)

	bound, ok := got.(*pgStorage)
	require.True(t, ok)
	assert.Same(t, tx, bound.ext, "the callback runs on the caller's transaction")
}

func TestJoinOrBeginPropagatesCallbackError(t *testing.T) {
	s := &pgStorage{ext: &sqlx.Tx{}}

	wantErr := fmt.Errorf("rate conflict")
	err := s.joinOrBegin(context.Background(), func(Factory) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr, "joined calls leave rollback to the owner")
}
