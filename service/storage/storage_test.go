package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "@u1/last_location")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "@u1/last_location", []byte(`{"a":1}`)))
	require.NoError(t, kv.Set(ctx, "@u1/last_location", []byte(`{"a":2}`)))

	v, ok, err := kv.Get(ctx, "@u1/last_location")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":2}`, string(v))

	require.NoError(t, kv.Remove(ctx, "@u1/last_location"))
	_, ok, err = kv.Get(ctx, "@u1/last_location")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemKV(t *testing.T) {
	kv := NewMemKV()
	exerciseKV(t, kv)

	buf := []byte("x")
	require.NoError(t, kv.Set(context.Background(), "k", buf))
	buf[0] = 'y'
	v, _, _ := kv.Get(context.Background(), "k")
	assert.Equal(t, "x", string(v))
	assert.Equal(t, []string{"k"}, kv.Keys())
}

func TestRedisKV(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	kv := NewRedisKV(rdb, "test:")
	exerciseKV(t, kv)

	require.NoError(t, kv.Set(context.Background(), "k", []byte("v")))
	assert.True(t, mr.Exists("test:k"))
}

func TestRedisKVError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.SetError("boom")

	_, _, err := NewRedisKV(rdb, "").Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestPgKV(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	ctx := context.Background()
	kv := NewPgKV(mock)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS kv_store`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, kv.EnsureSchema(ctx))

	mock.ExpectQuery(`SELECT value FROM kv_store`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, ok, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(`INSERT INTO kv_store`).
		WithArgs("k", []byte("v")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, kv.Set(ctx, "k", []byte("v")))

	mock.ExpectQuery(`SELECT value FROM kv_store`).
		WithArgs("k").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte("v")))
	v, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))

	mock.ExpectExec(`DELETE FROM kv_store`).
		WithArgs("k").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, kv.Remove(ctx, "k"))

	mock.ExpectExec(`INSERT INTO kv_store`).
		WithArgs("k", []byte("w")).
		WillReturnError(errors.New("conn reset"))
	assert.Error(t, kv.Set(ctx, "k", []byte("w")))

	require.NoError(t, mock.ExpectationsWereMet())
}
