// Package output holds the per-key bounded output buffers that process output is
// captured into before it is published to subscribers.
package output

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultMaxChars is the default character budget of a buffer. Roughly a few thousand
// lines of build output.
const DefaultMaxChars = 200_000

type EntryKind int

const (
	// EntryData is a literal chunk of process output.
	EntryData EntryKind = iota
	// EntryCommandStart marks the start of a command in a sequential run.
	EntryCommandStart
	// EntryTruncated marks that older entries were evicted.
	EntryTruncated
)

func (k EntryKind) String() string {
	switch k {
	case EntryData:
		return "data"
	case EntryCommandStart:
		return "command-start"
	case EntryTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// Entry is one atomic element of a buffer. Entries are never split on eviction.
type Entry struct {
	Kind EntryKind `json:"kind"`
	// Data is the output chunk for EntryData entries.
	Data string `json:"data,omitempty"`
	// Command is the command line for EntryCommandStart entries.
	Command string `json:"command,omitempty"`
}

// truncatedEntry is the single marker pinned to index 0 once anything was evicted.
var truncatedEntry = Entry{Kind: EntryTruncated}

type slot struct {
	entry Entry
	chars int
}

// Buffer is a memory capped, ordered log of output entries for one producer key.
//
// It keeps a circular array of slots and a running character total. Appending evicts the
// oldest entries while the total exceeds the budget, but never the newest entry: a single
// chunk larger than the whole budget is kept on its own. Once anything has been evicted a
// truncation marker is reported at index 0 of every snapshot.
//
// All methods are safe for concurrent use.
type Buffer struct {
	mu sync.Mutex

	maxChars   int
	maxEntries int

	// slots is used as a ring starting at head. When maxEntries is 0 it grows on demand.
	slots      []slot
	head       int
	count      int
	totalChars int
	truncated  bool
}

// NewBuffer creates a buffer with the given character budget and entry cap. A maxChars <= 0
// uses DefaultMaxChars. A maxEntries <= 0 means the buffer is bounded by characters only.
func NewBuffer(maxChars, maxEntries int) *Buffer {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if maxEntries < 0 {
		maxEntries = 0
	}
	initial := 64
	if maxEntries > 0 {
		initial = maxEntries
	}
	return &Buffer{
		maxChars:   maxChars,
		maxEntries: maxEntries,
		slots:      make([]slot, initial),
	}
}

// Append adds an output chunk. It never blocks on I/O and never fails.
func (b *Buffer) Append(chunk string) {
	b.AppendEntry(Entry{Kind: EntryData, Data: chunk})
}

// AppendEntry adds an arbitrary entry. Truncation markers are synthesized by the buffer
// itself, so appending one is ignored.
func (b *Buffer) AppendEntry(entry Entry) {
	if entry.Kind == EntryTruncated {
		return
	}
	chars := 0
	if entry.Kind == EntryData {
		chars = utf8.RuneCountInString(entry.Data)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == len(b.slots) {
		if b.maxEntries > 0 {
			// Full by entry count: the write overwrites the oldest slot.
			b.evictOldest()
		} else {
			b.grow()
		}
	}

	b.slots[(b.head+b.count)%len(b.slots)] = slot{entry: entry, chars: chars}
	b.count++
	b.totalChars += chars

	for b.totalChars > b.maxChars && b.count > 1 {
		b.evictOldest()
	}
}

func (b *Buffer) evictOldest() {
	oldest := &b.slots[b.head]
	b.totalChars -= oldest.chars
	*oldest = slot{}
	b.head = (b.head + 1) % len(b.slots)
	b.count--
	b.truncated = true
}

func (b *Buffer) grow() {
	grown := make([]slot, len(b.slots)*2)
	for i := 0; i < b.count; i++ {
		grown[i] = b.slots[(b.head+i)%len(b.slots)]
	}
	b.slots = grown
	b.head = 0
}

// ToArray returns every entry, oldest first. If anything was evicted the first entry is the
// truncation marker.
func (b *Buffer) ToArray() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.suffix(b.lenLocked())
}

// ToRecentArray returns the last min(n, Len()) entries of ToArray.
func (b *Buffer) ToRecentArray(n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.suffix(n)
}

func (b *Buffer) suffix(n int) []Entry {
	total := b.lenLocked()
	if n > total {
		n = total
	}
	if n <= 0 {
		return []Entry{}
	}

	result := make([]Entry, 0, n)
	fromSlots := n
	if b.truncated && n == total {
		result = append(result, truncatedEntry)
		fromSlots--
	}
	for i := b.count - fromSlots; i < b.count; i++ {
		result = append(result, b.slots[(b.head+i)%len(b.slots)].entry)
	}
	return result
}

func (b *Buffer) lenLocked() int {
	if b.truncated {
		return b.count + 1
	}
	return b.count
}

// Clear drops every entry and resets the truncated flag.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.slots)
	b.head = 0
	b.count = 0
	b.totalChars = 0
	b.truncated = false
}

// Len returns the number of entries in a snapshot, including the truncation marker.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lenLocked()
}

// TotalChars returns the number of characters held by data entries.
func (b *Buffer) TotalChars() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalChars
}

// Truncated reports whether older entries have been evicted since the last Clear.
func (b *Buffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// String concatenates the data entries currently held.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	for i := 0; i < b.count; i++ {
		if e := b.slots[(b.head+i)%len(b.slots)].entry; e.Kind == EntryData {
			sb.WriteString(e.Data)
		}
	}
	return sb.String()
}
