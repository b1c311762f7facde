package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"attendance-kiosk/internal/model"
)

// newSQLiteDB opens a file-backed sqlite database in a temp dir.
func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "kiosk.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Blob{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// A helper function to create a mock database connection.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestGormStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(newSQLiteDB(t))

	_, err := s.LoadBlob(ctx, "identity_cache:2026-10-19")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveBlob(ctx, "identity_cache:2026-10-19", []byte(`{"v":1}`)))
	got, err := s.LoadBlob(ctx, "identity_cache:2026-10-19")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got))

	// Saving again replaces the value instead of failing on the primary key.
	require.NoError(t, s.SaveBlob(ctx, "identity_cache:2026-10-19", []byte(`{"v":2}`)))
	got, err = s.LoadBlob(ctx, "identity_cache:2026-10-19")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))

	require.NoError(t, s.DeleteBlob(ctx, "identity_cache:2026-10-19"))
	_, err = s.LoadBlob(ctx, "identity_cache:2026-10-19")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting something that is not there is fine.
	assert.NoError(t, s.DeleteBlob(ctx, "identity_cache:2026-10-19"))
}

func TestGormStore_ListKeys(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(newSQLiteDB(t))

	for _, k := range []string{
		"identity_cache:2026-10-19",
		"identity_cache:2026-10-17",
		"identityXcache:2026-10-18",
		"settings:session",
	} {
		require.NoError(t, s.SaveBlob(ctx, k, []byte("{}")))
	}

	keys, err := s.ListKeys(ctx, "identity_cache:")
	require.NoError(t, err)
	assert.Equal(t, []string{"identity_cache:2026-10-17", "identity_cache:2026-10-19"}, keys)

	keys, err = s.ListKeys(ctx, "nothing:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestGormStore_LoadBlobError(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(`SELECT \* FROM "blobs"`).
		WillReturnError(errors.New("connection reset"))

	_, err := s.LoadBlob(context.Background(), "identity_cache:2026-10-19")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	s := NewRedisStore(client, "kiosk")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := s.LoadBlob(ctx, "identity_cache:2026-10-19")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.SaveBlob(ctx, "identity_cache:2026-10-19", []byte("{}")))
	assert.Error(t, s.DeleteBlob(ctx, "identity_cache:2026-10-19"))
	_, err = s.ListKeys(ctx, "identity_cache:")
	assert.Error(t, err)
}

// newRedisStore starts an in-process redis and returns a store on it.
func newRedisStore(t *testing.T, namespace string) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, namespace), mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, "kiosk")

	_, err := s.LoadBlob(ctx, "identity_cache:2026-10-19")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveBlob(ctx, "identity_cache:2026-10-19", []byte(`{"v":1}`)))
	got, err := s.LoadBlob(ctx, "identity_cache:2026-10-19")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got))

	// Keys are namespaced on the server.
	raw, err := mr.Get("kiosk:identity_cache:2026-10-19")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, raw)

	require.NoError(t, s.SaveBlob(ctx, "identity_cache:2026-10-19", []byte(`{"v":2}`)))
	got, err = s.LoadBlob(ctx, "identity_cache:2026-10-19")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))

	require.NoError(t, s.DeleteBlob(ctx, "identity_cache:2026-10-19"))
	_, err = s.LoadBlob(ctx, "identity_cache:2026-10-19")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists("kiosk:identity_cache:2026-10-19"))

	assert.NoError(t, s.DeleteBlob(ctx, "identity_cache:2026-10-19"))
}

func TestRedisStore_ListKeys(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, "kiosk")

	for _, k := range []string{
		"identity_cache:2026-10-19",
		"identity_cache:2026-10-17",
		"identityXcache:2026-10-18",
		"settings:session",
	} {
		require.NoError(t, s.SaveBlob(ctx, k, []byte("{}")))
	}
	// Another kiosk sharing the instance.
	require.NoError(t, mr.Set("kiosk-2:identity_cache:2026-10-18", "{}"))

	tests := []struct {
		name   string
		prefix string
		want   []string
	}{
		{"Identity caches", "identity_cache:", []string{"identity_cache:2026-10-17", "identity_cache:2026-10-19"}},
		{"Single key", "settings:session", []string{"settings:session"}},
		{"No match", "nothing:", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := s.ListKeys(ctx, tt.prefix)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keys)
		})
	}
}

func TestRedisStore_ServerGoesAway(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, "kiosk")
	require.NoError(t, s.SaveBlob(ctx, "identity_cache:2026-10-19", []byte("{}")))

	mr.Close()

	_, err := s.LoadBlob(ctx, "identity_cache:2026-10-19")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
