package order

const defaultHistorySize = 256

// history remembers the status of recent orders in a fixed ring so lookups of
// finished orders can explain why a delivery was refused.
type history struct {
	ring   []string
	next   int
	status map[string]Status
}

func newHistory(size int) *history {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &history{ring: make([]string, size), status: make(map[string]Status, size)}
}

func (h *history) put(id string, s Status) {
	if _, ok := h.status[id]; !ok {
		if old := h.ring[h.next]; old != "" {
			delete(h.status, old)
		}
		h.ring[h.next] = id
		h.next = (h.next + 1) % len(h.ring)
	}
	h.status[id] = s
}

func (h *history) get(id string) (Status, bool) {
	s, ok := h.status[id]
	return s, ok
}
