// Package testinfra provides test infrastructure for validating the engine
// against real MySQL and Redis. Tests using it skip when either is missing.
package testinfra

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"gar"
	"gar/circuit/memory"
	"gar/event"
	redisidem "gar/idempotency/redis"
	redislock "gar/lock/redis"
	"gar/notify"
	"gar/store/mysql"
	"gar/sweeper"
)

// DefaultConfig returns default test configuration
func DefaultConfig() TestConfig {
	return TestConfig{
		MySQLDSN:      getEnvOrDefault("GAR_TEST_MYSQL_DSN", "root:123456@tcp(localhost:3306)/gar_test?parseTime=true"),
		RedisAddr:     getEnvOrDefault("GAR_TEST_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnvOrDefault("GAR_TEST_REDIS_PASSWORD", ""),
		RedisDB:       0,
		PropertyRuns:  50,
	}
}

// TestConfig holds test configuration
type TestConfig struct {
	MySQLDSN      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PropertyRuns  int
}

// Clock is a settable time source shared by the engine and the workers.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// RecordingNotifier records every status change it is asked to send.
type RecordingNotifier struct {
	mu      sync.Mutex
	changes []gar.StatusChange
}

// Notify records change.
func (n *RecordingNotifier) Notify(ctx context.Context, change gar.StatusChange) error {
	n.mu.Lock()
	n.changes = append(n.changes, change)
	n.mu.Unlock()
	return nil
}

// Count returns the number of notifications sent for reference.
func (n *RecordingNotifier) Count(reference string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, c := range n.changes {
		if c.Transaction.Reference == reference {
			count++
		}
	}
	return count
}

// TestInfrastructure wires the engine, sweeper and dispatcher on real MySQL
// and Redis.
type TestInfrastructure struct {
	DB         *sql.DB
	Redis      *redis.Client
	Store      *mysql.MySQLStore
	EventBus   *event.MemoryEventBus
	Clock      *Clock
	Notifier   *RecordingNotifier
	Engine     *gar.Engine
	Sweeper    *sweeper.Worker
	Dispatcher *notify.Dispatcher
	Config     TestConfig

	mu   sync.Mutex
	refs []string
}

// NewTestInfrastructure creates a new test infrastructure with real MySQL and Redis.
// It skips the test if the infrastructure is not available.
func NewTestInfrastructure(t *testing.T) *TestInfrastructure {
	t.Helper()
	return NewTestInfrastructureWithConfig(t, DefaultConfig())
}

// NewTestInfrastructureWithConfig creates test infrastructure with custom config
func NewTestInfrastructureWithConfig(t *testing.T, cfg TestConfig) *TestInfrastructure {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Connect to MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		t.Skipf("Skipping test: MySQL connection failed: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("Skipping test: MySQL ping failed: %v", err)
	}
	store := mysql.New(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		t.Fatalf("Migrate failed: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		db.Close()
		t.Skipf("Skipping test: Redis ping failed: %v", err)
	}

	ti := &TestInfrastructure{
		DB:       db,
		Redis:    redisClient,
		Store:    store,
		EventBus: event.NewMemoryEventBus(),
		Clock:    &Clock{now: time.Now().UTC().Truncate(time.Microsecond)},
		Notifier: &RecordingNotifier{},
		Config:   cfg,
	}

	// Keys are namespaced per run so parallel runs never share locks or
	// delivery records.
	prefix := fmt.Sprintf("gar:test-%d:", time.Now().UnixNano())
	outbox := notify.NewMemoryOutbox(64)

	ti.Engine = gar.NewEngine(
		gar.WithEngineStore(store),
		gar.WithEngineOutbox(outbox),
		gar.WithEngineEventBus(ti.EventBus),
		gar.WithEngineClock(ti.Clock.Now),
	)
	ti.Sweeper = sweeper.NewWorker(
		sweeper.WithEngine(ti.Engine),
		sweeper.WithLocker(redislock.NewRedisLocker(redisClient, redislock.WithPrefix(prefix+"lock:"))),
		sweeper.WithEventBus(ti.EventBus),
	)
	ti.Dispatcher = notify.NewDispatcher(
		notify.WithEngine(ti.Engine),
		notify.WithNotifier(ti.Notifier),
		notify.WithOutbox(outbox),
		notify.WithBreaker(memory.NewMemoryBreaker()),
		notify.WithChecker(redisidem.New(redisClient, redisidem.WithPrefix(prefix+"idem:"))),
		notify.WithEventBus(ti.EventBus),
	)

	t.Cleanup(func() {
		ti.Cleanup(t)
		ti.Close()
	})
	return ti
}

// Create creates a transaction and remembers its reference for cleanup.
func (ti *TestInfrastructure) Create(t *testing.T, p gar.CreateParams) *gar.Transaction {
	t.Helper()
	tx, err := ti.Engine.Create(context.Background(), p)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ti.mu.Lock()
	ti.refs = append(ti.refs, tx.Reference)
	ti.mu.Unlock()
	return tx
}

// Cleanup deletes the transactions created through ti.
func (ti *TestInfrastructure) Cleanup(t *testing.T) {
	t.Helper()
	ti.mu.Lock()
	refs := ti.refs
	ti.refs = nil
	ti.mu.Unlock()
	if len(refs) == 0 {
		return
	}

	args := make([]any, len(refs))
	for i, r := range refs {
		args[i] = r
	}
	query := "DELETE FROM gar_transactions WHERE reference IN (?" + strings.Repeat(",?", len(refs)-1) + ")"
	if _, err := ti.DB.ExecContext(context.Background(), query, args...); err != nil {
		t.Logf("Warning: failed to cleanup transactions: %v", err)
	}
}

// Close closes all connections
func (ti *TestInfrastructure) Close() {
	if ti.DB != nil {
		ti.DB.Close()
	}
	if ti.Redis != nil {
		ti.Redis.Close()
	}
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
