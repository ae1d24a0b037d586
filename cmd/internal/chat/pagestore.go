package chat

import (
	"sort"
	"sync"
)

// Keyed is implemented by items a PageStore can hold.
type Keyed interface {
	Key() string
}

// Direction selects where a page > 1 is merged relative to the loaded items.
type Direction uint8

const (
	// Append merges after the last loaded item.
	Append Direction = iota
	// Prepend merges before the first loaded item.
	Prepend
)

// CursorInfo is the continuation metadata carried by a fetched page.
type CursorInfo struct {
	HasMoreForward  bool
	HasMoreBackward bool
}

// PageCursor tracks pagination progress for one key.
// Page is the last merged page number (0 before the first merge).
type PageCursor struct {
	Page            int
	HasMoreForward  bool
	HasMoreBackward bool
	Fetching        bool
}

// Ticket is proof that the holder owns the fetch guard of Key.
// It goes stale when the key is Reset.
type Ticket struct {
	Key string
	gen uint64
	seq uint64
}

// MergeResult is the outcome of a page merge.
type MergeResult[T Keyed] struct {
	Items []T
	Added int
}

// StoreOption configures a PageStore.
type StoreOption[T Keyed] func(*PageStore[T])

// OrderBy keeps the flattened view of every key sorted by less (stable).
func OrderBy[T Keyed](less func(a, b T) bool) StoreOption[T] {
	return func(s *PageStore[T]) { s.less = less }
}

// ReplaceWhen lets a duplicate incoming item replace the held one, in place,
// when fresher(held, incoming) is true. Without it duplicates are dropped.
func ReplaceWhen[T Keyed](fresher func(held, incoming T) bool) StoreOption[T] {
	return func(s *PageStore[T]) { s.fresher = fresher }
}

// PageStore is a keyed, paginated collection with a flattened,
// de-duplicated, order-preserving view per key.
//
// Concurrency guarantees:
//   - All methods are safe for concurrent use.
//   - At most one fetch per key holds the guard (Begin/Merge/Abort).
//   - Reset invalidates every outstanding ticket for the key.
type PageStore[T Keyed] struct {
	less    func(a, b T) bool
	fresher func(held, incoming T) bool

	mu      sync.Mutex
	seq     uint64
	gens    map[string]uint64
	entries map[string]*pageEntry[T]
}

type pageEntry[T Keyed] struct {
	items  []T
	ids    map[string]struct{}
	cursor PageCursor
	holder uint64 // seq of the ticket holding the guard
}

// NewPageStore constructs an empty PageStore.
func NewPageStore[T Keyed](opts ...StoreOption[T]) *PageStore[T] {
	s := &PageStore[T]{
		gens:    make(map[string]uint64),
		entries: make(map[string]*pageEntry[T]),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *PageStore[T]) entry(key string) *pageEntry[T] {
	e := s.entries[key]
	if e == nil {
		e = &pageEntry[T]{ids: make(map[string]struct{})}
		s.entries[key] = e
	}
	return e
}

// Begin acquires the fetch guard for key.
// It returns the cursor as of acquisition so the caller can pick the next page.
func (s *PageStore[T]) Begin(key string) (Ticket, PageCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(key)
	if e.cursor.Fetching {
		return Ticket{}, e.cursor, ErrFetchInFlight
	}

	s.seq++
	e.holder = s.seq
	e.cursor.Fetching = true

	return Ticket{Key: key, gen: s.gens[key], seq: s.seq}, e.cursor, nil
}

// Valid reports whether t still holds the guard of its key.
func (s *PageStore[T]) Valid(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validLocked(t) == nil
}

func (s *PageStore[T]) validLocked(t Ticket) error {
	if t.gen != s.gens[t.Key] {
		return ErrStaleTicket
	}
	e := s.entries[t.Key]
	if e == nil || !e.cursor.Fetching {
		return ErrStaleTicket
	}
	if e.holder != t.seq {
		return ErrFetchInFlight
	}
	return nil
}

// Abort releases the guard after a failed fetch. Stale tickets are ignored.
func (s *PageStore[T]) Abort(t Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.validLocked(t) != nil {
		return
	}
	e := s.entries[t.Key]
	e.cursor.Fetching = false
	e.holder = 0
}

// Merge applies a fetched page and releases the guard held by t.
//
// Page 1 replaces everything held for the key. Later pages are merged in dir
// with items whose key is already present filtered out (or replaced in place
// when ReplaceWhen says the incoming snapshot is fresher).
func (s *PageStore[T]) Merge(t Ticket, page int, items []T, dir Direction, info CursorInfo) (MergeResult[T], error) {
	if page < 1 {
		return MergeResult[T]{}, invalid("page", "must be >= 1")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validLocked(t); err != nil {
		return MergeResult[T]{}, err
	}
	e := s.entries[t.Key]

	before := len(e.items)
	if page == 1 {
		e.items = nil
		e.ids = make(map[string]struct{}, len(items))
		before = 0
	}
	s.insertLocked(e, items, dir)

	e.cursor.Page = page
	e.cursor.HasMoreForward = info.HasMoreForward
	e.cursor.HasMoreBackward = info.HasMoreBackward
	e.cursor.Fetching = false
	e.holder = 0

	return MergeResult[T]{Items: s.snapshot(e), Added: len(e.items) - before}, nil
}

func (s *PageStore[T]) insertLocked(e *pageEntry[T], items []T, dir Direction) {
	fresh := make([]T, 0, len(items))
	for _, it := range items {
		k := it.Key()
		if _, dup := e.ids[k]; dup {
			if s.fresher != nil {
				s.replaceLocked(e, fresh, it)
			}
			continue
		}
		e.ids[k] = struct{}{}
		fresh = append(fresh, it)
	}

	if dir == Prepend {
		e.items = append(fresh, e.items...)
	} else {
		e.items = append(e.items, fresh...)
	}

	if s.less != nil {
		sort.SliceStable(e.items, func(i, j int) bool { return s.less(e.items[i], e.items[j]) })
	}
}

// replaceLocked swaps a held duplicate for incoming when it is fresher.
// The duplicate may sit in the held items or earlier in the same page.
func (s *PageStore[T]) replaceLocked(e *pageEntry[T], pending []T, incoming T) {
	k := incoming.Key()
	for i := range e.items {
		if e.items[i].Key() == k {
			if s.fresher(e.items[i], incoming) {
				e.items[i] = incoming
			}
			return
		}
	}
	for i := range pending {
		if pending[i].Key() == k {
			if s.fresher(pending[i], incoming) {
				pending[i] = incoming
			}
			return
		}
	}
}

// Reset clears all pages and the guard for key and invalidates its tickets.
func (s *PageStore[T]) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	s.gens[key]++
}

// Items returns a copy of the flattened view for key.
func (s *PageStore[T]) Items(key string) []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	if e == nil {
		return nil
	}
	return s.snapshot(e)
}

func (s *PageStore[T]) snapshot(e *pageEntry[T]) []T {
	out := make([]T, len(e.items))
	copy(out, e.items)
	return out
}

// Len returns the number of items held for key.
func (s *PageStore[T]) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.entries[key]; e != nil {
		return len(e.items)
	}
	return 0
}

// Cursor returns the pagination state for key.
func (s *PageStore[T]) Cursor(key string) PageCursor {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.entries[key]; e != nil {
		return e.cursor
	}
	return PageCursor{}
}

// Get returns the held item with the given id.
func (s *PageStore[T]) Get(key, id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	e := s.entries[key]
	if e == nil {
		return zero, false
	}
	for _, it := range e.items {
		if it.Key() == id {
			return it, true
		}
	}
	return zero, false
}

// Append adds item at the tail (or at its ordered position when OrderBy is set).
// It returns false when an item with the same key is already held.
func (s *PageStore[T]) Append(key string, item T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(key)
	if _, dup := e.ids[item.Key()]; dup {
		return false
	}
	s.insertLocked(e, []T{item}, Append)
	return true
}

// Promote moves item to the head of key's view, replacing any held copy.
func (s *PageStore[T]) Promote(key string, item T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(key)
	k := item.Key()
	if _, held := e.ids[k]; held {
		for i := range e.items {
			if e.items[i].Key() == k {
				e.items = append(e.items[:i], e.items[i+1:]...)
				break
			}
		}
	}
	e.ids[k] = struct{}{}
	e.items = append([]T{item}, e.items...)
}

// Update calls fn on the held item with the given id.
// It reports whether the item was found and fn reported a change.
func (s *PageStore[T]) Update(key, id string, fn func(*T) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	if e == nil {
		return false
	}
	for i := range e.items {
		if e.items[i].Key() == id {
			return fn(&e.items[i])
		}
	}
	return false
}
