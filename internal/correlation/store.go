package correlation

import (
	"fmt"
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/mrzor/postfix-tracer/internal/txn"
)

// KeySpace selects one of the independent correlation maps.
type KeySpace int

// Key spaces.
const (
	ByConnection KeySpace = iota
	ByQueue
	ByMessage
	ByScanner
	numKeySpaces
)

func (k KeySpace) String() string {
	switch k {
	case ByConnection:
		return "connection"
	case ByQueue:
		return "queue"
	case ByMessage:
		return "message"
	case ByScanner:
		return "scanner"
	default:
		return fmt.Sprintf("keyspace(%d)", int(k))
	}
}

// EvictReason tells why a transaction left the store.
type EvictReason string

// Eviction reasons.
const (
	EvictRetained EvictReason = "retained" // grace window after finalization elapsed
	EvictIdle     EvictReason = "idle"     // never finalized, no activity
	EvictCapacity EvictReason = "capacity" // LRU bound reached
	EvictDeleted  EvictReason = "deleted"  // explicit Delete
)

// Policy bounds the memory held by the store.
type Policy struct {
	// RetainLines keeps a finalized transaction reachable for this many
	// further lines so late lines still correlate. Zero purges it at the
	// next sweep.
	RetainLines uint64
	// IdleLines evicts unfinalized transactions untouched for this many
	// lines. Zero disables idle eviction.
	IdleLines uint64
	// MaxTransactions caps the number of tracked transactions. Zero or less
	// means no cap.
	MaxTransactions int
}

// EvictFunc is called synchronously for every transaction leaving the store.
type EvictFunc func(t *txn.Transaction, reason EvictReason)

type key struct {
	space KeySpace
	value string
}

type entry struct {
	t           *txn.Transaction
	lastSeen    uint64
	finalizedAt uint64
	keys        []key
}

// Store manages the correlation key spaces.
type Store struct {
	mu         sync.RWMutex
	index      [numKeySpaces]map[string]*entry
	tracked    *simplelru.LRU[uint64, *entry] // serial -> entry
	policy     Policy
	clock      uint64
	nextSerial uint64
	onEvict    EvictFunc
	reason     EvictReason // reason reported by the LRU callback
}

// NewStore creates an empty store. onEvict may be nil.
func NewStore(policy Policy, onEvict EvictFunc) (*Store, error) {
	size := policy.MaxTransactions
	if size <= 0 {
		size = math.MaxInt32
	}

	s := &Store{
		policy:  policy,
		onEvict: onEvict,
		reason:  EvictCapacity,
	}
	for i := range s.index {
		s.index[i] = make(map[string]*entry)
	}

	tracked, err := simplelru.NewLRU[uint64, *entry](size, s.evicted)
	if err != nil {
		return nil, fmt.Errorf("creating transaction LRU: %w", err)
	}
	s.tracked = tracked

	return s, nil
}

// Get retrieves the transaction indexed under key (query).
// Returns nil if the key is unknown.
func (s *Store) Get(space KeySpace, k string) *txn.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.index[space][k]; e != nil {
		return e.t
	}
	return nil
}

// Len returns the number of keys in a key space (query).
func (s *Store) Len(space KeySpace) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index[space])
}

// Tracked returns the number of transactions held by the store (query).
func (s *Store) Tracked() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracked.Len()
}

// Clock returns the current logical clock (query).
func (s *Store) Clock() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock
}

// Track starts tracking t and assigns its serial (command).
// Tracking an already tracked transaction only touches it.
func (s *Store) Track(t *txn.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackLocked(t)
}

// Put indexes t under key, replacing whatever was there (command).
// The replaced transaction keeps its other keys.
func (s *Store) Put(space KeySpace, k string, t *txn.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.trackLocked(t)
	s.index[space][k] = e
	e.keys = append(e.keys, key{space: space, value: k})
}

// Touch records activity on t at the current clock (command).
func (s *Store) Touch(t *txn.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.tracked.Get(t.Serial); ok && e.t == t {
		e.lastSeen = s.clock
	}
}

// MarkFinalized flags t as finalized and starts its retention window (command).
func (s *Store) MarkFinalized(t *txn.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.Finalized = true
	if e, ok := s.tracked.Peek(t.Serial); ok && e.t == t {
		e.finalizedAt = s.clock
		e.lastSeen = s.clock
	}
}

// Tick advances the logical clock by one line and returns the new value (command).
func (s *Store) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock++
	return s.clock
}

// Delete removes t and every key pointing at it (command).
func (s *Store) Delete(t *txn.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(t.Serial, EvictDeleted)
}

// Sweep purges finalized transactions past their retention window and idle
// unfinalized ones (command). Returns the number evicted per reason.
func (s *Store) Sweep() map[EvictReason]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := make(map[EvictReason]int)
	for _, serial := range s.tracked.Keys() {
		e, ok := s.tracked.Peek(serial)
		if !ok {
			continue
		}

		switch {
		case e.t.Finalized && s.clock-e.finalizedAt >= s.policy.RetainLines:
			s.removeLocked(serial, EvictRetained)
			evicted[EvictRetained]++
		case !e.t.Finalized && s.policy.IdleLines > 0 && s.clock-e.lastSeen >= s.policy.IdleLines:
			s.removeLocked(serial, EvictIdle)
			evicted[EvictIdle]++
		}
	}

	return evicted
}

func (s *Store) trackLocked(t *txn.Transaction) *entry {
	if t.Serial != 0 {
		if e, ok := s.tracked.Get(t.Serial); ok && e.t == t {
			e.lastSeen = s.clock
			return e
		}
	}

	s.nextSerial++
	t.Serial = s.nextSerial
	e := &entry{t: t, lastSeen: s.clock}
	s.tracked.Add(t.Serial, e)
	return e
}

func (s *Store) removeLocked(serial uint64, reason EvictReason) {
	s.reason = reason
	s.tracked.Remove(serial)
	s.reason = EvictCapacity
}

// evicted is the LRU callback; it runs with s.mu held.
func (s *Store) evicted(_ uint64, e *entry) {
	for _, k := range e.keys {
		if s.index[k.space][k.value] == e {
			delete(s.index[k.space], k.value)
		}
	}
	e.keys = nil

	if s.onEvict != nil {
		s.onEvict(e.t, s.reason)
	}
}
