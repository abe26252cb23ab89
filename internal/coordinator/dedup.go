package coordinator

// writeWindow remembers the digests of recently propagated writes.
//
// A write is identified by the digest of (store, action, payload) plus
// the response id. The same response delivered twice, for example by a
// transport retry, is propagated once. The window is bounded: once full,
// the oldest entry is forgotten.
type writeWindow struct {
	size  int
	order []string
	seen  map[string]bool
}

func newWriteWindow(size int) *writeWindow {
	return &writeWindow{size: size, seen: make(map[string]bool)}
}

// Seen reports whether key was recorded and is still in the window.
func (w *writeWindow) Seen(key string) bool {
	return w.seen[key]
}

// Record adds key, evicting the oldest entry when the window is full.
// A non-positive size disables the window.
func (w *writeWindow) Record(key string) {
	if w.size <= 0 || w.seen[key] {
		return
	}
	if len(w.order) == w.size {
		delete(w.seen, w.order[0])
		w.order = w.order[1:]
	}
	w.order = append(w.order, key)
	w.seen[key] = true
}

// Len returns the number of remembered writes.
func (w *writeWindow) Len() int { return len(w.order) }
