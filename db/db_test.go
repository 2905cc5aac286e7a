package db

import (
	"context"
	"net"
	"strings"
	"testing"

	"cotrack/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLDSN(t *testing.T) {
	cfg := &config.Config{DBUser: "u", DBPassword: "p", DBHost: "db", DBPort: "3306", DBName: "cotrack"}
	assert.Equal(t, "u:p@tcp(db:3306)/cotrack?charset=utf8mb4&parseTime=True&loc=Local", MySQLDSN(cfg))
}

func TestMigratePostgres(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for range postgresSchema {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, MigratePostgres(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigratePostgres_DeferrablePositionConstraint(t *testing.T) {
	var tracksDDL string
	for _, stmt := range postgresSchema {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS playlist_tracks") {
			tracksDDL = stmt
		}
	}
	assert.Contains(t, tracksDDL, "UNIQUE (playlist_id, position) DEFERRABLE INITIALLY DEFERRED")
	assert.Contains(t, tracksDDL, "ON DELETE CASCADE")
}

func TestOpenStore(t *testing.T) {
	store, closeFn, err := OpenStore(context.Background(), &config.Config{DBDriver: config.DriverMemory}, true)
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.NoError(t, closeFn())

	_, _, err = OpenStore(context.Background(), &config.Config{DBDriver: "sqlite"}, false)
	assert.Error(t, err)

	_, _, err = OpenStore(context.Background(), &config.Config{DBDriver: config.DriverPostgres}, false)
	assert.Error(t, err, "postgres requires DATABASE_URL")
}

func TestRedisConnectivity(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)

	client, err := ConnectRedis(context.Background(), &config.Config{RedisHost: host, RedisPort: port})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, TestRedis(context.Background(), client))
	assert.False(t, mr.Exists("cotrack:test_key"))

	mr.Close()
	_, err = ConnectRedis(context.Background(), &config.Config{RedisHost: host, RedisPort: port})
	assert.Error(t, err)
}
