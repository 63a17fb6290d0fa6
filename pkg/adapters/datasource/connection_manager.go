package datasource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/logging"
	"github.com/new-bakery/nga/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultMaxConnections       = 50
)

// ConnectionManagerConfig holds configuration for the connection manager
type ConnectionManagerConfig struct {
	TTLMinutes     int
	MaxConnections int
}

// ConnectionManager caches open source connections with TTL-based expiry so
// that repeated previews and signature runs against one source reuse a pool.
type ConnectionManager struct {
	mu             sync.RWMutex
	connections    map[string]*ManagedConnection // key: "{sourceType}:{sourceKey}:{paramsDigest}"
	ttl            time.Duration
	maxConnections int
	stopped        bool
	stopChan       chan struct{}
	logger         *zap.Logger
}

// ManagedConnection is a cached connection, its last use and how many
// callers hold it. A held connection is never closed by expiry or eviction;
// once retired from the cache it closes when the last holder releases it.
type ManagedConnection struct {
	conn     Conn
	lastUsed time.Time
	inUse    int
	retired  bool
	closed   bool
	mu       sync.Mutex
}

// acquireLocked hands out the connection. Caller must hold mc.mu.
func (mc *ManagedConnection) acquireLocked() Conn {
	mc.inUse++
	mc.lastUsed = time.Now()
	return &releasedOnClose{Conn: mc.conn, owner: mc}
}

func (mc *ManagedConnection) release() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.inUse--
	mc.lastUsed = time.Now()
	if mc.retired && mc.inUse == 0 {
		_ = mc.closeLocked()
	}
}

// closeLocked closes the underlying connection once. Caller must hold mc.mu.
func (mc *ManagedConnection) closeLocked() error {
	if mc.closed || mc.conn == nil {
		return nil
	}
	mc.closed = true
	return mc.conn.Close()
}

// retire marks the connection as dropped from the cache and closes it now
// if nobody holds it.
func (mc *ManagedConnection) retire() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.retired {
		return
	}
	mc.retired = true
	if mc.inUse == 0 {
		_ = mc.closeLocked()
	}
}

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}

	manager := &ConnectionManager{
		connections:    make(map[string]*ManagedConnection),
		ttl:            time.Duration(cfg.TTLMinutes) * time.Minute,
		maxConnections: cfg.MaxConnections,
		stopChan:       make(chan struct{}),
		logger:         logger.Named("connections"),
	}

	go manager.cleanupExpiredConnections()
	return manager
}

// Acquire returns a cached connection for (backend, sourceKey, params),
// opening one if needed. The returned Conn must be closed by the caller;
// closing it only releases it, the pool stays cached until it has been idle
// for the TTL.
func (m *ConnectionManager) Acquire(ctx context.Context, backend Backend, sourceKey string, params map[string]any) (Conn, error) {
	key, err := connectionKey(backend.Info().Type, sourceKey, params)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	managed, exists := m.connections[key]
	m.mu.RUnlock()

	if exists {
		managed.mu.Lock()
		if managed.retired {
			managed.mu.Unlock()
			return m.createConnection(ctx, key, backend, params)
		}

		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
			return managed.conn.Ping(healthCtx)
		})
		cancel()

		if err != nil {
			m.logger.Warn("connection unhealthy, recreating",
				zap.String("key", key),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock()
			m.removeConnection(key, managed)
			return m.createConnection(ctx, key, backend, params)
		}

		conn := managed.acquireLocked()
		managed.mu.Unlock()
		return conn, nil
	}

	return m.createConnection(ctx, key, backend, params)
}

// createConnection opens a new connection with retry on transient failures.
// Caller must NOT hold any locks.
func (m *ConnectionManager) createConnection(ctx context.Context, key string, backend Backend, params map[string]any) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	// Another goroutine may have created it
	if managed, exists := m.connections[key]; exists && managed != nil {
		managed.mu.Lock()
		if !managed.retired {
			conn := managed.acquireLocked()
			managed.mu.Unlock()
			return conn, nil
		}
		managed.mu.Unlock()
		delete(m.connections, key)
	}

	if len(m.connections) >= m.maxConnections {
		m.evictOldestLocked()
	}

	// Only transient failures are retried; bad credentials fail fast.
	var conn Conn
	err := retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		c, err := backend.Open(ctx, params)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		m.logger.Error("failed to open source connection",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, err
	}

	managed := &ManagedConnection{conn: conn}
	m.connections[key] = managed

	m.logger.Info("opened source connection",
		zap.String("key", key),
		zap.Int("total_connections", len(m.connections)),
	)

	managed.mu.Lock()
	defer managed.mu.Unlock()
	return managed.acquireLocked(), nil
}

// evictOldestLocked drops the least recently used connection from the
// cache, preferring idle ones. A held connection closes on its release.
// Caller must hold m.mu.
func (m *ConnectionManager) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	oldestIdle := false
	for key, managed := range m.connections {
		managed.mu.Lock()
		used, idle := managed.lastUsed, managed.inUse == 0
		managed.mu.Unlock()
		if oldestKey == "" || (idle && !oldestIdle) || (idle == oldestIdle && used.Before(oldest)) {
			oldestKey, oldest, oldestIdle = key, used, idle
		}
	}
	if oldestKey == "" {
		return
	}
	m.connections[oldestKey].retire()
	delete(m.connections, oldestKey)
	m.logger.Debug("evicted connection", zap.String("key", oldestKey), zap.Bool("idle", oldestIdle))
}

// removeConnection retires managed and drops it from the cache unless key
// has already been replaced. Caller must NOT hold m.mu lock.
func (m *ConnectionManager) removeConnection(key string, managed *ManagedConnection) {
	managed.retire()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connections[key] == managed {
		delete(m.connections, key)
		m.logger.Debug("removed connection", zap.String("key", key))
	}
}

// cleanupExpiredConnections runs until stopChan is closed.
func (m *ConnectionManager) cleanupExpiredConnections() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup closes connections nobody holds that have been idle longer
// than the TTL. Lock ordering: manager lock, then connection lock.
func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	var expiredKeys []string
	for key, managed := range m.connections {
		managed.mu.Lock()
		expired := managed.inUse == 0 && now.Sub(managed.lastUsed) > m.ttl
		managed.mu.Unlock()
		if expired {
			expiredKeys = append(expiredKeys, key)
		}
	}

	for _, key := range expiredKeys {
		m.connections[key].retire()
		delete(m.connections, key)
	}

	if len(expiredKeys) > 0 {
		m.logger.Info("cleaned up expired connections",
			zap.Int("count", len(expiredKeys)),
			zap.Int("remaining", len(m.connections)),
		)
	}
}

// Count returns the number of cached connections.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Close closes all connections, held or not, and stops the cleanup
// goroutine. Idempotent.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true
	close(m.stopChan)

	var firstErr error
	for key, managed := range m.connections {
		managed.mu.Lock()
		managed.retired = true
		if err := managed.closeLocked(); err != nil && firstErr == nil {
			firstErr = err
		}
		managed.mu.Unlock()
		delete(m.connections, key)
	}
	return firstErr
}

// connectionKey digests params so credentials never appear in keys or logs,
// and changed credentials open a fresh connection.
func connectionKey(sourceType, sourceKey string, params map[string]any) (string, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("digest connection parameters: %w", err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s:%s:%s", sourceType, sourceKey, hex.EncodeToString(sum[:8])), nil
}

// releasedOnClose turns Close into a release of the cached connection.
type releasedOnClose struct {
	Conn
	owner *ManagedConnection
	once  sync.Once
}

func (c *releasedOnClose) Close() error {
	c.once.Do(c.owner.release)
	return nil
}
