package common

import (
	"fmt"
	"sync"
	"time"

	"github.com/latoulicious/reelcore/pkg/decoder"
	"github.com/latoulicious/reelcore/pkg/logging"
)

// QueueItem is one source in the sequence
type QueueItem struct {
	Source  decoder.SourceHandle
	Offset  float64 // timeline time at which the source starts
	AddedAt time.Time
}

// SourceQueue is the ordered list of sources played back to back. It
// implements playback.SourceSequence.
type SourceQueue struct {
	sessionID string
	items     []*QueueItem
	index     map[string]int
	mu        sync.RWMutex
	logger    logging.Logger
}

// NewSourceQueue creates an empty queue for a session
func NewSourceQueue(sessionID string) *SourceQueue {
	loggerFactory := logging.GetGlobalLoggerFactory()
	logger := loggerFactory.CreateLogger("queue").WithContext(map[string]interface{}{
		"session_id": sessionID,
	})

	return &SourceQueue{
		sessionID: sessionID,
		items:     make([]*QueueItem, 0),
		index:     make(map[string]int),
		logger:    logger,
	}
}

// Add appends a source. Source ids must be unique within the queue.
func (q *SourceQueue) Add(src decoder.SourceHandle) error {
	if src.ID == "" {
		return fmt.Errorf("source id cannot be empty")
	}
	if src.Duration <= 0 {
		return fmt.Errorf("source %s has no duration", src.ID)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[src.ID]; exists {
		return fmt.Errorf("source %s already queued", src.ID)
	}

	q.items = append(q.items, &QueueItem{Source: src, AddedAt: time.Now()})
	q.reindex()

	q.logger.Info("Added source to queue", map[string]interface{}{
		"source_id":  src.ID,
		"path":       src.Path,
		"duration":   src.Duration,
		"queue_size": len(q.items),
	})
	return nil
}

// Next returns the source after sourceID
func (q *SourceQueue) Next(sourceID string) (decoder.SourceHandle, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	i, ok := q.index[sourceID]
	if !ok || i+1 >= len(q.items) {
		return decoder.SourceHandle{}, false
	}
	return q.items[i+1].Source, true
}

// Previous returns the source before sourceID
func (q *SourceQueue) Previous(sourceID string) (decoder.SourceHandle, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	i, ok := q.index[sourceID]
	if !ok || i == 0 {
		return decoder.SourceHandle{}, false
	}
	return q.items[i-1].Source, true
}

// Offset returns the timeline time at which sourceID starts
func (q *SourceQueue) Offset(sourceID string) (float64, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	i, ok := q.index[sourceID]
	if !ok {
		return 0, false
	}
	return q.items[i].Offset, true
}

// First returns the head of the queue
func (q *SourceQueue) First() (decoder.SourceHandle, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.items) == 0 {
		return decoder.SourceHandle{}, false
	}
	return q.items[0].Source, true
}

// Get returns the source with the given id
func (q *SourceQueue) Get(sourceID string) (decoder.SourceHandle, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	i, ok := q.index[sourceID]
	if !ok {
		return decoder.SourceHandle{}, false
	}
	return q.items[i].Source, true
}

// Locate maps a timeline time to a source and a time within it. Times past
// the end resolve to the end of the last source.
func (q *SourceQueue) Locate(timeline float64) (decoder.SourceHandle, float64, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.items) == 0 {
		return decoder.SourceHandle{}, 0, false
	}
	if timeline < 0 {
		timeline = 0
	}
	for _, item := range q.items {
		if timeline < item.Offset+item.Source.Duration {
			return item.Source, timeline - item.Offset, true
		}
	}
	last := q.items[len(q.items)-1]
	return last.Source, last.Source.Duration, true
}

// Duration returns the total timeline length
func (q *SourceQueue) Duration() float64 {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.items) == 0 {
		return 0
	}
	last := q.items[len(q.items)-1]
	return last.Offset + last.Source.Duration
}

// List returns all items in the queue
func (q *SourceQueue) List() []QueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]QueueItem, len(q.items))
	for i, item := range q.items {
		result[i] = *item
	}
	return result
}

// Size returns the number of items in the queue
func (q *SourceQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Clear clears the entire queue
func (q *SourceQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	queueSize := len(q.items)
	q.items = make([]*QueueItem, 0)
	q.index = make(map[string]int)

	q.logger.Info("Cleared queue", map[string]interface{}{
		"items_cleared": queueSize,
	})
}

// Remove removes an item at the specified index
func (q *SourceQueue) Remove(index int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.items) {
		return fmt.Errorf("invalid index: %d", index)
	}

	removed := q.items[index]
	q.items = append(q.items[:index], q.items[index+1:]...)
	q.reindex()

	q.logger.Info("Removed source from queue", map[string]interface{}{
		"source_id":  removed.Source.ID,
		"index":      index,
		"queue_size": len(q.items),
	})
	return nil
}

// reindex recomputes ids and offsets; the caller holds the write lock
func (q *SourceQueue) reindex() {
	q.index = make(map[string]int, len(q.items))
	offset := 0.0
	for i, item := range q.items {
		item.Offset = offset
		q.index[item.Source.ID] = i
		offset += item.Source.Duration
	}
}

// GetDetailedStatus returns queue status information
func (q *SourceQueue) GetDetailedStatus() map[string]interface{} {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := make([]string, len(q.items))
	total := 0.0
	for i, item := range q.items {
		ids[i] = item.Source.ID
		total += item.Source.Duration
	}
	return map[string]interface{}{
		"session_id": q.sessionID,
		"queue_size": len(q.items),
		"sources":    ids,
		"duration":   total,
	}
}
