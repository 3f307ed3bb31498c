package firmware

import (
	"errors"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/zl2brg/cudasdr/internal/database"
	"github.com/zl2brg/cudasdr/internal/protocol"
)

const (
	DEFAULT_CACHE_SIZE   = 32
	DEFAULT_CACHE_EXPIRY = 5 * time.Minute
)

// DatabaseSourceConfig holds the cache options of a DatabaseSource
type DatabaseSourceConfig struct {
	EnableCache bool
	CacheSize   int
	CacheExpiry time.Duration
}

// DatabaseSource reads requirements from the firmware_requirements table
// through a small in-memory cache
type DatabaseSource struct {
	repository *database.FirmwareRepository

	mutex       sync.Mutex
	lookupCount uint32
	hitCount    uint32
	missCount   uint32
	errorCount  uint32

	enableCache   bool
	cacheSize     int
	cacheExpiry   time.Duration
	cache         map[protocol.BoardID]cacheEntry
	lastClearTime time.Time
}

type cacheEntry struct {
	req   Requirement
	found bool
}

// NewDatabaseSource creates a cached source with default settings
func NewDatabaseSource(repository *database.FirmwareRepository) *DatabaseSource {
	return NewDatabaseSourceWithConfig(repository, DatabaseSourceConfig{
		EnableCache: true,
		CacheSize:   DEFAULT_CACHE_SIZE,
		CacheExpiry: DEFAULT_CACHE_EXPIRY,
	})
}

// NewDatabaseSourceWithConfig creates a source with custom cache settings
func NewDatabaseSourceWithConfig(repository *database.FirmwareRepository, config DatabaseSourceConfig) *DatabaseSource {
	s := &DatabaseSource{
		repository:    repository,
		enableCache:   config.EnableCache,
		cacheSize:     config.CacheSize,
		cacheExpiry:   config.CacheExpiry,
		lastClearTime: time.Now(),
	}
	if s.cacheSize <= 0 {
		s.cacheSize = DEFAULT_CACHE_SIZE
	}
	if s.cacheExpiry <= 0 {
		s.cacheExpiry = DEFAULT_CACHE_EXPIRY
	}
	if s.enableCache {
		s.cache = make(map[protocol.BoardID]cacheEntry)
	}
	return s
}

// Seed writes table into an empty firmware_requirements table
func Seed(repository *database.FirmwareRepository, table Table) error {
	list := table.List()
	rows := make([]database.FirmwareRequirement, 0, len(list))
	for _, req := range list {
		rows = append(rows, database.FirmwareRequirement{
			Board:       uint8(req.Board),
			Name:        req.Name,
			Constraint:  req.Constraint,
			Remediation: req.Remediation,
		})
	}

	n, err := repository.Seed(rows)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[INFO] Firmware: seeded %d requirements", n)
	}
	return nil
}

// Requirement implements Source
func (s *DatabaseSource) Requirement(board protocol.BoardID) (Requirement, bool, error) {
	s.mutex.Lock()
	s.lookupCount++
	s.expireCache()
	if s.enableCache {
		if entry, ok := s.cache[board]; ok {
			s.hitCount++
			s.mutex.Unlock()
			return entry.req, entry.found, nil
		}
	}
	s.mutex.Unlock()

	row, err := s.repository.GetByBoard(uint8(board))
	var entry cacheEntry
	switch {
	case err == nil:
		entry = cacheEntry{
			req: Requirement{
				Board:       board,
				Name:        row.Name,
				Constraint:  row.Constraint,
				Remediation: row.Remediation,
			},
			found: true,
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry = cacheEntry{}
	default:
		s.mutex.Lock()
		s.errorCount++
		s.mutex.Unlock()
		return Requirement{}, false, err
	}

	s.mutex.Lock()
	s.missCount++
	if s.enableCache && len(s.cache) < s.cacheSize {
		s.cache[board] = entry
	}
	s.mutex.Unlock()

	return entry.req, entry.found, nil
}

// expireCache empties the cache once it is older than the expiry; called
// with mutex held
func (s *DatabaseSource) expireCache() {
	if !s.enableCache || time.Since(s.lastClearTime) < s.cacheExpiry {
		return
	}
	s.cache = make(map[protocol.BoardID]cacheEntry)
	s.lastClearTime = time.Now()
}

// ClearCache drops every cached entry
func (s *DatabaseSource) ClearCache() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.enableCache {
		s.cache = make(map[protocol.BoardID]cacheEntry)
	}
	s.lastClearTime = time.Now()
}

// GetStats returns lookup counters
func (s *DatabaseSource) GetStats() (lookups, hits, misses, failures uint32) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lookupCount, s.hitCount, s.missCount, s.errorCount
}
