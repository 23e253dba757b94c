package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"gar"
)

// mockRedisClient is a minimal mock for testing lock behavior
type mockRedisClient struct {
	redis.Cmdable
	mu         sync.Mutex
	locks      map[string]string // key -> token
	ttls       map[string]time.Duration
	setNXCalls []setNXCall
	setNXErr   error
}

type setNXCall struct {
	key   string
	value string
	ttl   time.Duration
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{
		locks: make(map[string]string),
		ttls:  make(map[string]time.Duration),
	}
}

func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setNXCalls = append(m.setNXCalls, setNXCall{key: key, value: value.(string), ttl: expiration})

	cmd := redis.NewBoolCmd(ctx)
	if m.setNXErr != nil {
		cmd.SetErr(m.setNXErr)
		return cmd
	}
	if _, exists := m.locks[key]; exists {
		cmd.SetVal(false)
	} else {
		m.locks[key] = value.(string)
		m.ttls[key] = expiration
		cmd.SetVal(true)
	}
	return cmd
}

// Eval emulates the extend script (token, ttl) and the release script (token).
func (m *mockRedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := redis.NewCmd(ctx)
	key := keys[0]
	token, _ := args[0].(string)

	if stored, exists := m.locks[key]; !exists || stored != token {
		cmd.SetVal(int64(0))
		return cmd
	}
	if len(args) == 2 {
		m.ttls[key] = time.Duration(args[1].(int64)) * time.Millisecond
	} else {
		delete(m.locks, key)
		delete(m.ttls, key)
	}
	cmd.SetVal(int64(1))
	return cmd
}

func (m *mockRedisClient) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return m.Eval(ctx, sha1, keys, args...)
}

func (m *mockRedisClient) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	cmd := redis.NewBoolSliceCmd(ctx)
	cmd.SetVal(make([]bool, len(hashes)))
	return cmd
}

// steal replaces the holder of key, as if the lock expired and another
// process took it.
func (m *mockRedisClient) steal(key string) {
	m.mu.Lock()
	m.locks[key] = "someone-else"
	m.mu.Unlock()
}

func (m *mockRedisClient) held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[key]
	return ok
}

func TestRedisLocker_Acquire(t *testing.T) {
	mock := newMockRedisClient()
	locker := NewRedisLocker(mock)

	handle, err := locker.Acquire(context.Background(), "sweep:GAR-0115-ABC123", 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if handle.Key() != "sweep:GAR-0115-ABC123" {
		t.Errorf("unexpected key %s", handle.Key())
	}

	if len(mock.setNXCalls) != 1 {
		t.Fatalf("expected 1 SetNX call, got %d", len(mock.setNXCalls))
	}
	call := mock.setNXCalls[0]
	if call.key != "gar:lock:sweep:GAR-0115-ABC123" {
		t.Errorf("expected key 'gar:lock:sweep:GAR-0115-ABC123', got '%s'", call.key)
	}
	if call.ttl != 30*time.Second {
		t.Errorf("expected TTL 30s, got %v", call.ttl)
	}
	if call.value == "" {
		t.Error("expected a non-empty token")
	}
}

func TestRedisLocker_Acquire_AlreadyLocked(t *testing.T) {
	mock := newMockRedisClient()
	locker := NewRedisLocker(mock)

	if _, err := locker.Acquire(context.Background(), "k", time.Second); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	_, err := locker.Acquire(context.Background(), "k", time.Second)
	if !errors.Is(err, gar.ErrLockAcquisitionFailed) {
		t.Errorf("expected ErrLockAcquisitionFailed, got %v", err)
	}
}

func TestRedisLocker_Acquire_RedisError(t *testing.T) {
	mock := newMockRedisClient()
	mock.setNXErr = errors.New("connection refused")

	_, err := NewRedisLocker(mock).Acquire(context.Background(), "k", time.Second)
	if !errors.Is(err, gar.ErrLockAcquisitionFailed) {
		t.Errorf("expected ErrLockAcquisitionFailed, got %v", err)
	}
}

func TestRedisLocker_WithPrefix(t *testing.T) {
	mock := newMockRedisClient()
	locker := NewRedisLocker(mock, WithPrefix("test:"))

	locker.Acquire(context.Background(), "k", time.Second)

	if mock.setNXCalls[0].key != "test:k" {
		t.Errorf("expected key 'test:k', got '%s'", mock.setNXCalls[0].key)
	}
}

func TestLockHandle_Release(t *testing.T) {
	mock := newMockRedisClient()
	handle, _ := NewRedisLocker(mock).Acquire(context.Background(), "k", time.Second)

	if err := handle.Release(context.Background()); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if mock.held("gar:lock:k") {
		t.Error("expected lock to be released")
	}
	if err := handle.Release(context.Background()); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
	if err := handle.Extend(context.Background(), time.Second); !errors.Is(err, gar.ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld after release, got %v", err)
	}
}

func TestLockHandle_ReleaseDoesNotFreeOtherHolder(t *testing.T) {
	mock := newMockRedisClient()
	handle, _ := NewRedisLocker(mock).Acquire(context.Background(), "k", time.Second)
	mock.steal("gar:lock:k")

	handle.Release(context.Background())

	if !mock.held("gar:lock:k") {
		t.Error("release deleted a lock owned by another process")
	}
}

func TestLockHandle_Extend(t *testing.T) {
	mock := newMockRedisClient()
	handle, _ := NewRedisLocker(mock).Acquire(context.Background(), "k", time.Second)

	if err := handle.Extend(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if mock.ttls["gar:lock:k"] != 5*time.Second {
		t.Errorf("expected TTL 5s, got %v", mock.ttls["gar:lock:k"])
	}

	mock.steal("gar:lock:k")
	if err := handle.Extend(context.Background(), 5*time.Second); !errors.Is(err, gar.ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld after takeover, got %v", err)
	}
}
