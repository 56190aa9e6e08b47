package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/theriq/internal/config"
)

func TestOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	tests := []struct {
		name     string
		cacheCfg config.Cache
		redisCfg config.RedisConnection
		wantType any
		wantErr  bool
	}{
		{name: "default is memory", cacheCfg: config.Cache{}, wantType: &Memory{}},
		{name: "memory", cacheCfg: config.Cache{Backend: BackendMemory, DefaultTTL: time.Minute}, wantType: &Memory{}},
		{
			name:     "redis",
			cacheCfg: config.Cache{Backend: BackendRedis, Version: "1", KeyPrefix: "open:"},
			redisCfg: config.RedisConnection{AddressRedis: mr.Addr()},
			wantType: &Cache{},
		},
		{
			name:     "redis unreachable",
			cacheCfg: config.Cache{Backend: BackendRedis},
			redisCfg: config.RedisConnection{AddressRedis: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond},
			wantErr:  true,
		},
		{name: "unknown backend", cacheCfg: config.Cache{Backend: "memcached"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(context.Background(), tt.cacheCfg, tt.redisCfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, store)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			assert.IsType(t, tt.wantType, store)

			require.NoError(t, store.Set(UserKey("u1", "tier"), "pro", time.Minute))
			var got string
			found, err := store.Get(UserKey("u1", "tier"), &got)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "pro", got)
		})
	}
}
