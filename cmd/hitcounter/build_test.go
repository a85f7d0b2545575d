package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aluko123/hitcounter/pkg/config"
	"github.com/aluko123/hitcounter/proxy/downstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStore_Memory(t *testing.T) {
	store, err := buildStore(context.Background(), config.Default())
	require.NoError(t, err)
	defer store.Close()

	n, err := store.Increment(context.Background(), "GET /hello")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestBuildStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Store.Backend = config.BackendRedis
	cfg.Store.Redis.Addr = mr.Addr()

	store, err := buildStore(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Increment(context.Background(), "GET /hello")
	require.NoError(t, err)
	assert.Equal(t, "1", mr.HGet(cfg.Store.Redis.HashKey, "GET /hello"))
}

func TestBuildStore_Unknown(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "etcd"
	_, err := buildStore(context.Background(), cfg)
	assert.Error(t, err)
}

func TestBuildDownstream(t *testing.T) {
	cfg := config.Default().Downstream

	h, c, err := buildDownstream(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.IsType(t, &downstream.HTTP{}, h)

	cfg.Kind = config.DownstreamGRPC
	cfg.Address = "localhost:9000"
	h, c, err = buildDownstream(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Close()
	assert.IsType(t, &downstream.GRPC{}, h)

	cfg.Kind = "smtp"
	_, _, err = buildDownstream(context.Background(), cfg)
	assert.Error(t, err)
}

func TestClosers_ReverseOrder(t *testing.T) {
	var order []int
	res := closers{closeFunc(func() { order = append(order, 1) }), closeFunc(func() { order = append(order, 2) })}
	res.Close()
	assert.Equal(t, []int{2, 1}, order)
}

type closeFunc func()

func (f closeFunc) Close() error {
	f()
	return nil
}
