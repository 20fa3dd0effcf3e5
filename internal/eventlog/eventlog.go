// Package eventlog implements the event log & subscribers component (spec
// §4.J): an append-only, globally totally ordered event log, and a
// per-subscriber acknowledgement cursor gating ordered retrieval.
//
// Grounded on original_source/aruna-server/src/transactions/events.rs's
// GetEventsRequest (Context::SubscriberOwnerOf gating, get_events_subscriber
// returning events strictly after a persisted cursor) for the persisted
// half, and cuemby-warren's pkg/events/events.go Broker (subscriber
// channels, buffered publish/broadcast, select-based non-blocking fan-out)
// for the live-wakeup half — adapted from warren's ad hoc EventType/
// Metadata shape to this package's strictly ordered uint64 event IDs.
package eventlog

import (
	"encoding/binary"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/authz"
	"github.com/cuemby/strata/internal/graph"
	"github.com/cuemby/strata/internal/types"
)

var (
	bucketEvents      = []byte("eventlog_events")
	bucketCursors     = []byte("eventlog_cursors")
	keyLastEventID    = []byte("last_event_id")
	bucketEventsMeta  = []byte("eventlog_meta")
)

// Buckets returns the bucket names store.Open needs pre-created.
func Buckets() [][]byte {
	return [][]byte{bucketEvents, bucketCursors, bucketEventsMeta}
}

func eventKey(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

// Append writes txBytes as the next event, assigning it the next strictly
// increasing event ID. Must run inside the same write transaction as the
// mutation it records, per spec §4.I's five-step apply sequence ("write
// new records, update search, append an event").
func Append(tx *bolt.Tx, txBytes []byte) (uint64, error) {
	meta := tx.Bucket(bucketEventsMeta)
	raw := meta.Get(keyLastEventID)
	var id uint64
	if raw != nil {
		id = binary.BigEndian.Uint64(raw) + 1
	}
	var next [8]byte
	binary.BigEndian.PutUint64(next[:], id)
	if err := meta.Put(keyLastEventID, next[:]); err != nil {
		return 0, apierr.Fatal(err, "advance event id")
	}
	if err := tx.Bucket(bucketEvents).Put(eventKey(id), txBytes); err != nil {
		return 0, apierr.Fatal(err, "append event %d", id)
	}
	return id, nil
}

// Get returns the raw transaction bytes recorded for eventID.
func Get(tx *bolt.Tx, eventID uint64) ([]byte, error) {
	raw := tx.Bucket(bucketEvents).Get(eventKey(eventID))
	if raw == nil {
		return nil, apierr.NotFound("event %d", eventID)
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func cursorKey(subscriber types.Index) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(subscriber))
	return b[:]
}

// Cursor returns the last-acknowledged event ID for subscriber, 0 if none.
func Cursor(tx *bolt.Tx, subscriber types.Index) uint64 {
	raw := tx.Bucket(bucketCursors).Get(cursorKey(subscriber))
	if raw == nil {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func setCursor(tx *bolt.Tx, subscriber types.Index, id uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return tx.Bucket(bucketCursors).Put(cursorKey(subscriber), b[:])
}

// Poll returns every event strictly greater than the subscriber's cursor
// (or ackFrom, if given, overriding the persisted cursor — "acknowledge_from"
// in events.rs); a subscriber that has never acknowledged anything gets
// every event from the first one. Only a non-nil ackFrom moves the
// persisted cursor (to *ackFrom), so a poll without an ack leaves it where
// it was. Setting the cursor and reading the events it gates happen in the
// caller's transaction, which must be a write transaction when ackFrom is
// given, so they can't race a concurrent poll.
//
// Callers must authorize the subscriber themselves (authz.SubscriberOwnerOf)
// before calling Poll; ownership is checked here defensively against the
// subscriber node existing at all, matching spec §4.J's "only owner/admin
// may poll" as an authz-layer concern, not a storage-layer one.
func Poll(tx *bolt.Tx, subscriber types.Index, ackFrom *uint64) ([]uint64, error) {
	n, err := graph.GetNodeByIndex(tx, subscriber)
	if err != nil {
		return nil, err
	}
	if n.Kind != types.KindSubscriber || n.Subscriber == nil {
		return nil, apierr.InvalidArgument("index %d is not a subscriber", subscriber)
	}

	from := Cursor(tx, subscriber)
	hasFrom := tx.Bucket(bucketCursors).Get(cursorKey(subscriber)) != nil
	if ackFrom != nil {
		from, hasFrom = *ackFrom, true
		if err := setCursor(tx, subscriber, from); err != nil {
			return nil, apierr.Fatal(err, "advance cursor for subscriber %d", subscriber)
		}
	}

	var ids []uint64
	c := tx.Bucket(bucketEvents).Cursor()
	start := eventKey(0)
	if hasFrom {
		start = eventKey(from + 1)
	}
	for k, _ := c.Seek(start); k != nil; k, _ = c.Next() {
		id := binary.BigEndian.Uint64(k)
		if hasFrom && id <= from {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RequireSubscriberAccess is the authz gate spec §4.J requires before
// calling Poll: only the subscriber's owner or a global admin may poll it.
func RequireSubscriberAccess(tx *bolt.Tx, principal authz.Principal, subscriber types.Index) error {
	return authz.Authorize(tx, principal, []authz.Context{authz.SubscriberOwnerOf(subscriber)})
}

// Notification is published to every live subscriber channel when an event
// commits, letting a long-poll handler wake up instead of busy-polling.
type Notification struct {
	EventID uint64
}

// Broker fans out live event-commit notifications to in-process
// subscribers, grounded on cuemby-warren's pkg/events/events.go Broker: a
// buffered channel per subscriber, non-blocking broadcast that drops
// notifications for a full subscriber rather than stalling the committer
// (a dropped notification only delays a subscriber's next wakeup — Poll
// still returns every event from the persisted cursor forward, so no
// event is ever lost, only the wakeup is).
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan Notification]bool
}

// NewBroker returns an empty Broker.
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[chan Notification]bool)}
}

// Subscribe registers a new live-notification channel.
func (b *Broker) Subscribe() chan Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Notification, 16)
	b.subscribers[ch] = true
	return ch
}

// Unsubscribe deregisters and closes ch.
func (b *Broker) Unsubscribe(ch chan Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Publish notifies every live subscriber that eventID committed.
func (b *Broker) Publish(eventID uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- Notification{EventID: eventID}:
		default:
		}
	}
}
