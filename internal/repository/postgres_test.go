package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTx реализует только Commit и Rollback; остальные методы pgx.Tx не вызываются.
type stubTx struct {
	pgx.Tx
	commitErr error
	commits   int
	rollbacks int
}

func (t *stubTx) Commit(ctx context.Context) error {
	t.commits++
	return t.commitErr
}

func (t *stubTx) Rollback(ctx context.Context) error {
	t.rollbacks++
	return nil
}

type stubBeginner struct {
	txs      []*stubTx
	beginErr []error
	calls    int
}

func (b *stubBeginner) begin(ctx context.Context) (pgx.Tx, error) {
	i := b.calls
	b.calls++
	if i < len(b.beginErr) && b.beginErr[i] != nil {
		return nil, b.beginErr[i]
	}
	return b.txs[i], nil
}

func newTxTestRepository(b *stubBeginner) *PostgresRepository {
	return &PostgresRepository{
		begin:  b.begin,
		delays: []time.Duration{0, 0, 0},
	}
}

func TestWithinTx_CommitConnectionErrorIsNotRetried(t *testing.T) {
	b := &stubBeginner{txs: []*stubTx{
		{commitErr: errors.New("write tcp: connection reset by peer")},
		{},
	}}
	r := newTxTestRepository(b)

	runs := 0
	err := r.WithinTx(context.Background(), func(ctx context.Context) error {
		runs++
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit tx")
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, b.calls)
}

func TestWithinTx_SerializationFailureIsRetried(t *testing.T) {
	b := &stubBeginner{txs: []*stubTx{{}, {}}}
	r := newTxTestRepository(b)

	runs := 0
	err := r.WithinTx(context.Background(), func(ctx context.Context) error {
		runs++
		if runs == 1 {
			return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, runs)
	assert.Equal(t, 1, b.txs[0].rollbacks)
	assert.Equal(t, 1, b.txs[1].commits)
}

func TestWithinTx_DeadlockOnCommitIsRetried(t *testing.T) {
	b := &stubBeginner{txs: []*stubTx{
		{commitErr: &pgconn.PgError{Code: pgerrcode.DeadlockDetected}},
		{},
	}}
	r := newTxTestRepository(b)

	runs := 0
	err := r.WithinTx(context.Background(), func(ctx context.Context) error {
		runs++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, runs)
}

func TestWithinTx_BeginConnectionErrorIsRetried(t *testing.T) {
	b := &stubBeginner{
		txs:      []*stubTx{nil, {}},
		beginErr: []error{errors.New("dial tcp: connection refused")},
	}
	r := newTxTestRepository(b)

	runs := 0
	err := r.WithinTx(context.Background(), func(ctx context.Context) error {
		runs++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 2, b.calls)
}

func TestWithinTx_ConnectionErrorInsideTxIsNotRetried(t *testing.T) {
	b := &stubBeginner{txs: []*stubTx{{}, {}}}
	r := newTxTestRepository(b)

	runs := 0
	err := r.WithinTx(context.Background(), func(ctx context.Context) error {
		runs++
		return errors.New("decrement stock: broken pipe")
	})

	require.Error(t, err)
	assert.Equal(t, "decrement stock: broken pipe", err.Error())
	assert.Equal(t, 1, runs)
	assert.Zero(t, b.txs[0].commits)
}

func TestWithinTx_DomainErrorKeepsIdentity(t *testing.T) {
	b := &stubBeginner{txs: []*stubTx{{}}}
	r := newTxTestRepository(b)

	err := r.WithinTx(context.Background(), func(ctx context.Context) error {
		return &StockError{MedicineID: "m1", Available: 1}
	})

	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(1), stockErr.Available)
	assert.Equal(t, 1, b.calls)
}
