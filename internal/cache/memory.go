package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory кеш в памяти процесса. Создаётся явно, Start запускает фоновую
// очистку, Close её останавливает.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry

	now           func() time.Time
	defaultTTL    time.Duration
	sweepInterval time.Duration

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// MemoryOption настраивает Memory.
type MemoryOption func(*Memory)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// WithDefaultTTL задаёт время жизни по умолчанию.
func WithDefaultTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		m.defaultTTL = ttl
	}
}

// WithSweepInterval задаёт период фоновой очистки.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.sweepInterval = d
	}
}

// NewMemory создаёт пустой кеш. Фоновая очистка не запущена до вызова Start.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries:       make(map[string]entry),
		now:           time.Now,
		defaultTTL:    DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sweepInterval <= 0 {
		m.sweepInterval = DefaultSweepInterval
	}
	return m
}

// Start запускает периодическую очистку. Повторные вызовы ничего не делают.
func (m *Memory) Start() {
	m.startOnce.Do(func() {
		go m.sweepLoop()
	})
}

// Close останавливает очистку и освобождает записи.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.stop)
		started := true
		m.startOnce.Do(func() { started = false })
		if started {
			<-m.done
		}
		_ = m.Clear()
	})
	return nil
}

func (m *Memory) sweepLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Get декодирует свежую запись в result. Устаревшая или повреждённая запись
// удаляется, и вызов возвращает промах.
func (m *Memory) Get(key string, result any) (bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !e.expiresAt.After(m.now()) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(e.data, result); err != nil {
		_ = m.Invalidate(key)
		return false, nil
	}
	return true, nil
}

// Set сохраняет значение, безусловно перезаписывая прежнее.
func (m *Memory) Set(key string, value any, expiration time.Duration) error {
	const op = "cache.Memory.Set"

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m.mu.Lock()
	m.entries[key] = entry{
		data:      data,
		expiresAt: m.now().Add(ttlOrDefault(expiration, m.defaultTTL)),
	}
	m.mu.Unlock()
	return nil
}

// Invalidate удаляет запись.
func (m *Memory) Invalidate(key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// ClearUser удаляет все записи пользователя. Линейный проход по всем ключам.
func (m *Memory) ClearUser(userID string) error {
	prefix := UserPrefix(userID)

	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

// Clear удаляет все записи.
func (m *Memory) Clear() error {
	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.mu.Unlock()
	return nil
}

// Sweep удаляет устаревшие записи и возвращает их количество.
func (m *Memory) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.entries {
		if !e.expiresAt.After(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Len количество хранимых записей, включая ещё не вычищенные устаревшие.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
