package economy

// PriceHistory is a fixed-capacity ring of past prices. Once full, each push
// evicts the oldest value.
type PriceHistory struct {
	buf   []float64
	start int // index of the oldest value
	n     int
}

// NewPriceHistory creates an empty history holding at most capacity prices.
func NewPriceHistory(capacity int) *PriceHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &PriceHistory{buf: make([]float64, capacity)}
}

// Push appends a price, evicting the oldest when full.
func (h *PriceHistory) Push(price float64) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = price
		h.n++
		return
	}
	h.buf[h.start] = price
	h.start = (h.start + 1) % len(h.buf)
}

// Values returns the stored prices, oldest first.
func (h *PriceHistory) Values() []float64 {
	out := make([]float64, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of stored prices.
func (h *PriceHistory) Len() int { return h.n }

// Cap returns the capacity.
func (h *PriceHistory) Cap() int { return len(h.buf) }

// Last returns the newest price, or false when empty.
func (h *PriceHistory) Last() (float64, bool) {
	if h.n == 0 {
		return 0, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}

// Average returns the mean of the stored prices (0 when empty).
func (h *PriceHistory) Average() float64 {
	if h.n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < h.n; i++ {
		sum += h.buf[(h.start+i)%len(h.buf)]
	}
	return sum / float64(h.n)
}
