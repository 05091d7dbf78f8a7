package market

import (
	"sync"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
)

// Update is delivered to subscribers after every change to the book.
// Replaced is set for wholesale replacement; Record is set for upserts.
type Update struct {
	Record   domain.MarketRecord
	Created  bool
	Replaced bool
}

type entry struct {
	raw Raw
	rec domain.MarketRecord
}

// Book is the shared, ordered market list. It is replaced wholesale on a
// page fetch and upserted one record at a time from push updates.
type Book struct {
	mu      sync.RWMutex
	entries []entry

	subMu  sync.Mutex
	subs   map[int]chan Update
	nextID int
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{subs: make(map[int]chan Update)}
}

// Replace discards the current list and normalizes raws in order.
func (b *Book) Replace(raws []Raw) []domain.MarketRecord {
	entries := make([]entry, 0, len(raws))
	out := make([]domain.MarketRecord, 0, len(raws))
	for _, raw := range raws {
		rec, _ := Normalize(raw)
		entries = append(entries, entry{raw: cloneRaw(raw), rec: rec})
		out = append(out, rec)
	}

	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()

	b.broadcast(Update{Replaced: true})
	return out
}

// Upsert merges raw onto the record sharing its identity, keeping fields
// the update omits, or prepends it when new. A document without identity
// is dropped and reported as false.
func (b *Book) Upsert(raw Raw) (domain.MarketRecord, bool) {
	incoming, ok := Normalize(raw)
	if !ok {
		return domain.MarketRecord{}, false
	}

	b.mu.Lock()
	idx := b.indexLocked(incoming.ID)
	var upd Update
	if idx < 0 {
		e := entry{raw: cloneRaw(raw), rec: incoming}
		b.entries = append([]entry{e}, b.entries...)
		upd = Update{Record: incoming, Created: true}
	} else {
		merged := cloneRaw(b.entries[idx].raw)
		for k, v := range raw {
			merged[k] = v
		}
		rec, _ := Normalize(merged)
		// An update keyed by "id" must not change the identity.
		rec.ID = incoming.ID
		b.entries[idx] = entry{raw: merged, rec: rec}
		upd = Update{Record: rec}
	}
	b.mu.Unlock()

	b.broadcast(upd)
	return upd.Record, true
}

// All returns a copy of the list in display order.
func (b *Book) All() []domain.MarketRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.MarketRecord, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.rec
	}
	return out
}

// Filter returns the records for which keep reports true.
func (b *Book) Filter(keep func(domain.MarketRecord) bool) []domain.MarketRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.MarketRecord
	for _, e := range b.entries {
		if keep(e.rec) {
			out = append(out, e.rec)
		}
	}
	return out
}

// Get returns the record with the backend id.
func (b *Book) Get(id string) (domain.MarketRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if idx := b.indexLocked(id); idx >= 0 {
		return b.entries[idx].rec, true
	}
	return domain.MarketRecord{}, false
}

// GetByOnChainID returns the record correlated with a contract index.
func (b *Book) GetByOnChainID(id int64) (domain.MarketRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, e := range b.entries {
		if e.rec.OnChainID != nil && *e.rec.OnChainID == id {
			return e.rec, true
		}
	}
	return domain.MarketRecord{}, false
}

// Len returns the number of records.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Subscribe returns a channel of updates and a function that releases it.
// Slow subscribers miss updates rather than block writers.
func (b *Book) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 32)

	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, id)
			b.subMu.Unlock()
			close(ch)
		})
	}
}

func (b *Book) broadcast(u Update) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (b *Book) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, e := range b.entries {
		if e.rec.ID == id {
			return i
		}
	}
	return -1
}

func cloneRaw(raw Raw) Raw {
	out := make(Raw, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}
