package output

import (
	"sort"
	"strings"
	"sync"
)

// Registry owns the output buffers of every producer key. Buffers are created lazily on
// first write and live until they are cleared out of the registry.
type Registry struct {
	mu         sync.RWMutex
	buffers    map[string]*Buffer
	maxChars   int
	maxEntries int
}

// NewRegistry creates a registry whose buffers use the given bounds (see NewBuffer).
func NewRegistry(maxChars, maxEntries int) *Registry {
	return &Registry{
		buffers:    make(map[string]*Buffer),
		maxChars:   maxChars,
		maxEntries: maxEntries,
	}
}

// Get returns the buffer for key, creating it if needed.
func (r *Registry) Get(key string) *Buffer {
	r.mu.RLock()
	buf, ok := r.buffers[key]
	r.mu.RUnlock()
	if ok {
		return buf
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok = r.buffers[key]; ok {
		return buf
	}
	buf = NewBuffer(r.maxChars, r.maxEntries)
	r.buffers[key] = buf
	return buf
}

// Lookup returns the buffer for key without creating it.
func (r *Registry) Lookup(key string) (*Buffer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	buf, ok := r.buffers[key]
	return buf, ok
}

// Append writes a chunk to the buffer of key.
func (r *Registry) Append(key, chunk string) {
	r.Get(key).Append(chunk)
}

// AppendEntry writes an entry to the buffer of key.
func (r *Registry) AppendEntry(key string, entry Entry) {
	r.Get(key).AppendEntry(entry)
}

// Clear empties the buffer of key if it exists. The buffer stays registered.
func (r *Registry) Clear(key string) {
	if buf, ok := r.Lookup(key); ok {
		buf.Clear()
	}
}

// Remove drops the buffer of key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, key)
}

// RemovePrefix drops every buffer whose key starts with prefix. Used when a working context
// is torn down and all of its streams go with it. Returns the number of removed buffers.
func (r *Registry) RemovePrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key := range r.buffers {
		if strings.HasPrefix(key, prefix) {
			delete(r.buffers, key)
			removed++
		}
	}
	return removed
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.buffers))
	for key := range r.buffers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
