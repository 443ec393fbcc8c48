package distlock

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisLockAcquireRelease(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "campaign:c-1", time.Minute)

	ok, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !ok {
		t.Fatal("Acquire() = false, want true on free lock")
	}

	// A second holder must not get the same key
	other := NewRedisLock(client, "campaign:c-1", time.Minute)
	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if ok {
		t.Fatal("Acquire() = true on held lock, want false")
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() after release error: %v", err)
	}
	if !ok {
		t.Fatal("Acquire() = false after release, want true")
	}
}

func TestRedisLockReleaseOnlyByOwner(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "campaign:c-2", time.Minute)
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("Acquire() = false, want true")
	}

	// A lock instance with a different ownership value must not delete it
	intruder := NewRedisLock(client, "campaign:c-2", time.Minute)
	if err := intruder.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	if !mr.Exists("lock:campaign:c-2") {
		t.Fatal("lock key deleted by non-owner")
	}
}

func TestRedisLockExtend(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "campaign:c-3", 2*time.Second)
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("Acquire() = false, want true")
	}

	if err := lock.Extend(ctx, time.Minute); err != nil {
		t.Fatalf("Extend() error: %v", err)
	}

	// Past the original TTL the key must still be there
	mr.FastForward(5 * time.Second)
	if !mr.Exists("lock:campaign:c-3") {
		t.Fatal("lock expired despite Extend")
	}
}

func TestRedisLockExpires(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "campaign:c-4", time.Second)
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("Acquire() = false, want true")
	}

	mr.FastForward(2 * time.Second)

	other := NewRedisLock(client, "campaign:c-4", time.Minute)
	ok, err := other.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !ok {
		t.Fatal("Acquire() = false after TTL expiry, want true")
	}
}

func setupPG(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPGAdvisoryLockPinsSession(t *testing.T) {
	db, mock := setupPG(t)
	ctx := context.Background()

	lock := NewPGAdvisoryLock(db, "campaign:c-5")
	mock.ExpectQuery("pg_try_advisory_lock").
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("pg_advisory_unlock").
		WithArgs(lock.lockID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !ok {
		t.Fatal("Acquire() = false, want true")
	}
	// The session connection must stay pinned between lock and unlock:
	// advisory locks are per-connection, so unlocking through a different
	// pooled connection would leave the lock behind.
	if lock.conn == nil {
		t.Fatal("acquired lock must hold its session connection")
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if lock.conn != nil {
		t.Fatal("released lock must return its connection to the pool")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGAdvisoryLockMissHoldsNothing(t *testing.T) {
	db, mock := setupPG(t)
	ctx := context.Background()

	lock := NewPGAdvisoryLock(db, "campaign:c-6")
	mock.ExpectQuery("pg_try_advisory_lock").
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if ok {
		t.Fatal("Acquire() = true on held lock, want false")
	}
	if lock.conn != nil {
		t.Fatal("missed acquire must not pin a connection")
	}

	// Release without a held lock issues no unlock statement.
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestNewLockPrefersRedis(t *testing.T) {
	client, _ := setupRedis(t)

	if _, ok := NewLock(client, nil, "k", time.Minute).(*RedisLock); !ok {
		t.Fatal("NewLock with redis client did not return a RedisLock")
	}
	if _, ok := NewLock(nil, nil, "k", time.Minute).(*PGAdvisoryLock); !ok {
		t.Fatal("NewLock without redis client did not return a PGAdvisoryLock")
	}
}
