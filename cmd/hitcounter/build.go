package main

import (
	"context"
	"fmt"
	"io"

	"github.com/aluko123/hitcounter/counter"
	"github.com/aluko123/hitcounter/pkg/config"
	"github.com/aluko123/hitcounter/proxy"
	"github.com/aluko123/hitcounter/proxy/downstream"
)

// closers collects resources to release on shutdown, in reverse order
type closers []io.Closer

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i].Close()
	}
}

// buildStore opens the configured backend and wraps it with retries
func buildStore(ctx context.Context, cfg config.Config) (*counter.Retrying, error) {
	s := cfg.Store

	var store counter.Store
	switch s.Backend {
	case config.BackendMemory:
		store = counter.NewMemoryStore()

	case config.BackendRedis:
		rs, err := counter.DialRedis(ctx, counter.RedisOptions{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			HashKey:  s.Redis.HashKey,
		})
		if err != nil {
			return nil, err
		}
		store = rs

	case config.BackendPostgres:
		ps, err := counter.OpenPostgres(ctx, s.Postgres.URL, s.Postgres.Table)
		if err != nil {
			return nil, err
		}
		if s.Postgres.CreateSchema {
			if err := ps.EnsureSchema(ctx); err != nil {
				ps.Close()
				return nil, err
			}
		}
		store = ps

	case config.BackendMySQL:
		ms, err := counter.OpenMySQL(ctx, s.MySQL.DSN, s.MySQL.Table)
		if err != nil {
			return nil, err
		}
		if s.MySQL.CreateSchema {
			if err := ms.EnsureSchema(ctx); err != nil {
				ms.Close()
				return nil, err
			}
		}
		store = ms

	case config.BackendDynamoDB:
		ds, err := counter.OpenDynamo(ctx, counter.DynamoOptions{
			Table:    s.DynamoDB.Table,
			Region:   s.DynamoDB.Region,
			Endpoint: s.DynamoDB.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		store = ds

	default:
		return nil, fmt.Errorf("unknown store backend %q", s.Backend)
	}

	return counter.NewRetrying(store, cfg.RetryPolicy()), nil
}

// buildDownstream connects the configured downstream. The returned closer
// is nil when there is nothing to release.
func buildDownstream(ctx context.Context, cfg config.DownstreamConfig) (proxy.Handler, io.Closer, error) {
	switch cfg.Kind {
	case config.DownstreamHTTP:
		hc := downstream.DefaultHTTPConfig()
		hc.BaseURL = cfg.URL
		if cfg.MaxResponseBytes > 0 {
			hc.MaxResponseBytes = cfg.MaxResponseBytes
		}
		h, err := downstream.NewHTTP(hc)
		return h, nil, err

	case config.DownstreamGRPC:
		g, err := downstream.NewGRPC(cfg.Address)
		if err != nil {
			return nil, nil, err
		}
		return g, g, nil

	case config.DownstreamLambda:
		l, err := downstream.OpenLambda(ctx, downstream.LambdaOptions{
			Function: cfg.Function,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
		return l, nil, err

	default:
		return nil, nil, fmt.Errorf("unknown downstream kind %q", cfg.Kind)
	}
}
