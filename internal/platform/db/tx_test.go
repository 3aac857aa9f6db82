package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeBeginner struct {
	opts pgx.TxOptions
	tx   *fakeTx
}

func (b *fakeBeginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.opts = opts
	b.tx = &fakeTx{}
	return b.tx, nil
}

func TestWithTxDefaultsToRepeatableRead(t *testing.T) {
	b := &fakeBeginner{}
	require.NoError(t, WithTx(context.Background(), b, func(pgx.Tx) error { return nil }))

	assert.Equal(t, pgx.RepeatableRead, b.opts.IsoLevel)
	assert.True(t, b.tx.committed)
}

func TestWithTxOptionsPassesIsolation(t *testing.T) {
	b := &fakeBeginner{}
	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	require.NoError(t, WithTxOptions(context.Background(), b, opts, func(pgx.Tx) error { return nil }))

	assert.Equal(t, pgx.ReadCommitted, b.opts.IsoLevel)
	assert.True(t, b.tx.committed)
}

func TestWithTxOptionsRollsBackOnError(t *testing.T) {
	b := &fakeBeginner{}
	boom := errors.New("boom")
	err := WithTxOptions(context.Background(), b, pgx.TxOptions{}, func(pgx.Tx) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.False(t, b.tx.committed)
	assert.True(t, b.tx.rolledBack)
}
