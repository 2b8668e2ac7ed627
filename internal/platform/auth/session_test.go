package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	u1 = uuid.MustParse("6f1c1d1e-0000-4000-8000-000000000001")
	u2 = uuid.MustParse("6f1c1d1e-0000-4000-8000-000000000002")
)

func TestMemoryStore_TouchAndExpire(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(15 * time.Minute)
	defer store.Close()

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	sess := NewSession(u1, "D001", "Dr. Grey", RoleDoctor, start)
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Touch(ctx, sess.ID, start.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, start.Add(10*time.Minute), got.LastSeen)

	// Activity reset the idle clock.
	_, err = store.Touch(ctx, sess.ID, start.Add(24*time.Minute))
	require.NoError(t, err)

	_, err = store.Touch(ctx, sess.ID, start.Add(40*time.Minute))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(15 * time.Minute)
	defer store.Close()

	now := time.Now()
	idle := NewSession(u1, "D001", "A", RoleDoctor, now.Add(-20*time.Minute))
	fresh := NewSession(u2, "N001", "B", RoleNurse, now.Add(-time.Minute))
	require.NoError(t, store.Save(ctx, idle))
	require.NoError(t, store.Save(ctx, fresh))

	assert.Equal(t, 1, store.Sweep(now))
	assert.Equal(t, 1, store.Len())
	_, err := store.Touch(ctx, fresh.ID, now)
	assert.NoError(t, err)
}

func TestMemoryStore_DeleteUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	now := time.Now()
	require.NoError(t, store.Save(ctx, NewSession(u1, "D001", "A", RoleDoctor, now)))
	require.NoError(t, store.Save(ctx, NewSession(u1, "D001", "A", RoleDoctor, now)))
	require.NoError(t, store.Save(ctx, NewSession(u2, "N001", "B", RoleNurse, now)))

	require.NoError(t, store.DeleteUser(ctx, u1))
	assert.Equal(t, 1, store.Len())
}

func newRedisStore(t *testing.T, idle time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, idle), mr
}

func TestRedisStore_SaveTouch(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, 15*time.Minute)

	sess := NewSession(u1, "D001", "Dr. Grey", RoleDoctor, time.Now())
	require.NoError(t, store.Save(ctx, sess))
	assert.Equal(t, 15*time.Minute, mr.TTL(sessionRedisKey(sess.ID)))

	mr.FastForward(10 * time.Minute)
	got, err := store.Touch(ctx, sess.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Dr. Grey", got.Name)
	assert.Equal(t, RoleDoctor, got.Role)
	assert.Equal(t, 15*time.Minute, mr.TTL(sessionRedisKey(sess.ID)), "touch refreshes TTL")
}

func TestRedisStore_IdleExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, 15*time.Minute)

	sess := NewSession(u1, "D001", "Dr. Grey", RoleDoctor, time.Now())
	require.NoError(t, store.Save(ctx, sess))

	mr.FastForward(16 * time.Minute)
	_, err := store.Touch(ctx, sess.ID, time.Now())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore_Delete(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, time.Hour)

	a := NewSession(u1, "D001", "A", RoleDoctor, time.Now())
	b := NewSession(u1, "D001", "A", RoleDoctor, time.Now())
	require.NoError(t, store.Save(ctx, a))
	require.NoError(t, store.Save(ctx, b))

	require.NoError(t, store.Delete(ctx, a.ID))
	assert.False(t, mr.Exists(sessionRedisKey(a.ID)))
	require.NoError(t, store.Delete(ctx, a.ID), "deleting twice is fine")

	require.NoError(t, store.DeleteUser(ctx, u1))
	assert.False(t, mr.Exists(sessionRedisKey(b.ID)))
	assert.False(t, mr.Exists(userSessionsRedisKey(u1)))
}

func TestMemoryStore_LookupDoesNotRefresh(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(15 * time.Minute)
	defer store.Close()

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	sess := NewSession(u1, "D001", "Dr. Grey", RoleDoctor, start)
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Lookup(ctx, sess.ID, start.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, start, got.LastSeen)

	_, err = store.Lookup(ctx, sess.ID, start.Add(16*time.Minute))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, store.Delete(ctx, sess.ID))
	_, err = store.Lookup(ctx, sess.ID, start)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore_UserIndexExpires(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, 15*time.Minute)

	sess := NewSession(u1, "D001", "Dr. Grey", RoleDoctor, time.Now())
	require.NoError(t, store.Save(ctx, sess))
	assert.Equal(t, 15*time.Minute, mr.TTL(userSessionsRedisKey(u1)))

	mr.FastForward(10 * time.Minute)
	_, err := store.Touch(ctx, sess.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, mr.TTL(userSessionsRedisKey(u1)), "touch refreshes the index TTL")

	mr.FastForward(16 * time.Minute)
	assert.False(t, mr.Exists(userSessionsRedisKey(u1)))
}

func TestRedisStore_Lookup(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, 15*time.Minute)

	sess := NewSession(u1, "D001", "Dr. Grey", RoleDoctor, time.Now())
	require.NoError(t, store.Save(ctx, sess))
	mr.FastForward(10 * time.Minute)

	got, err := store.Lookup(ctx, sess.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, 5*time.Minute, mr.TTL(sessionRedisKey(sess.ID)), "lookup leaves the TTL alone")

	mr.FastForward(6 * time.Minute)
	_, err = store.Lookup(ctx, sess.ID, time.Now())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
