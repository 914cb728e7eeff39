// Package audit keeps a tamper-evident, hash-chained trail of the batches
// distributed to the shared data store.
package audit

import (
	"time"
)

// EventVersion is the event schema version.
const EventVersion = "1.0"

// EventTypeDistribution marks a distributed batch.
const EventTypeDistribution = "sol_distribution"

// Event is one audited distribution.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Batch    BatchInfo           `json:"batch"`
	Files    map[string]FileInfo `json:"files"`
	Producer ProducerInfo        `json:"producer"`
	Chain    ChainInfo           `json:"chain"`
}

// BatchInfo identifies where a batch went.
type BatchInfo struct {
	Destination string `json:"destination"`
	Manifest    string `json:"manifest,omitempty"`
	FileCount   int    `json:"file_count"`
}

// FileInfo contains the checksum and location of one distributed file.
type FileInfo struct {
	Checksum string `json:"checksum"`
	URI      string `json:"uri"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo identifies the software that distributed the batch.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ChainInfo links the event to its predecessor for the same destination.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the chain this event belongs to.
func (e *Event) ChainKey() string {
	return e.Batch.Destination
}

// SetChainHashes links the event to prevHash and seals it.
func (e *Event) SetChainHashes(prevHash string) {
	e.Chain.PrevEventHash = prevHash
	e.Chain.EventHash = ComputeEventHash(e)
}
