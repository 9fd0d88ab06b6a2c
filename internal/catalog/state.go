package catalog

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rickgao/bidup-live/internal/model"
)

// catalogState holds the thread-safe auction cache.
type catalogState struct {
	mu sync.RWMutex

	// Known auctions indexed by lower-cased id.
	auctions map[string]*model.Auction

	// Auctions currently open for bidding.
	activeSet map[string]struct{}

	lastSyncAt time.Time

	changes chan Change
}

func newState() *catalogState {
	return &catalogState{
		auctions:  make(map[string]*model.Auction),
		activeSet: make(map[string]struct{}),
		changes:   make(chan Change, ChangeBufferSize),
	}
}

func key(id string) string {
	return strings.ToLower(id)
}

func (s *catalogState) get(id string) (model.Auction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[key(id)]
	if !ok {
		return model.Auction{}, false
	}
	return *a, true
}

func (s *catalogState) active() []model.Auction {
	s.mu.RLock()
	result := make([]model.Auction, 0, len(s.activeSet))
	for k := range s.activeSet {
		if a, ok := s.auctions[k]; ok {
			result = append(result, *a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].EndTime.Equal(result[j].EndTime.Time) {
			return result[i].EndTime.Before(result[j].EndTime.Time)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *catalogState) activeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activeSet)
}

// upsertLocked adds or updates an auction (caller must hold write lock).
func (s *catalogState) upsertLocked(a model.Auction) {
	k := key(a.ID)
	aCopy := a
	s.auctions[k] = &aCopy

	if a.Status.IsOpen() {
		s.activeSet[k] = struct{}{}
	} else {
		delete(s.activeSet, k)
	}
}

// updateStatus updates an auction's status (write-locked).
func (s *catalogState) updateStatus(id string, status model.AuctionStatus) (old model.AuctionStatus, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(id)
	a, ok := s.auctions[k]
	if !ok {
		return "", false
	}

	old = a.Status
	a.Status = status
	if status.IsOpen() {
		s.activeSet[k] = struct{}{}
	} else {
		delete(s.activeSet, k)
	}
	return old, true
}

// notifyChange sends a change to the changes channel (non-blocking).
func (s *catalogState) notifyChange(change Change) {
	select {
	case s.changes <- change:
	default:
		// Channel full, drop oldest by consuming one and retrying.
		select {
		case <-s.changes:
		default:
		}
		select {
		case s.changes <- change:
		default:
		}
	}
}
