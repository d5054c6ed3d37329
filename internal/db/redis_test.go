package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisOptions(t *testing.T) {
	_, err := RedisConfig{}.options()
	require.Error(t, err)

	single, err := RedisConfig{Addresses: []string{"a:6379", "b:6379"}, DB: 2, PoolSize: 4}.options()
	require.NoError(t, err)
	assert.Equal(t, []string{"a:6379"}, single.Addrs)
	assert.Equal(t, 2, single.DB)
	assert.Equal(t, 5*time.Second, single.DialTimeout)
	assert.Equal(t, "a:6379", single.Simple().Addr)

	cluster, err := RedisConfig{
		ClusterMode: true,
		Addresses:   []string{"a:6379", "b:6379"},
		DB:          2,
		DialTimeout: time.Second,
	}.options()
	require.NoError(t, err)
	assert.Equal(t, []string{"a:6379", "b:6379"}, cluster.Cluster().Addrs)
	assert.Zero(t, cluster.DB)
	assert.Equal(t, time.Second, cluster.DialTimeout)
}
