package forward

// growthBias is added when doubling a single-element append, so that very
// small buffers reach a useful capacity in a few growths instead of
// reallocating on nearly every append.
const growthBias = 8

// Scratch is a growable buffer of T that begins life on a caller-supplied
// backing slice and promotes itself to its own storage the first time an
// append overflows that region. The caller's region is never written to
// again after promotion, and is never released by the buffer.
//
// Truncate never shrinks capacity or reallocates, so a Scratch can be
// drained and refilled indefinitely without allocation churn.
//
// A Scratch must not be copied after first use: two live values sharing
// grown storage would diverge silently. It is not safe for concurrent use;
// the Forwarder guards its Scratch with the instance lock.
type Scratch[T any] struct {
	data     []T // len(data) is the capacity
	length   int
	owned    bool
	released bool
}

// NewScratch returns a Scratch backed by region. The buffer starts with
// capacity len(region) and length 0, and does not own region: it will read
// and write it, but abandons rather than releases it on the first growth.
func NewScratch[T any](region []T) *Scratch[T] {
	return &Scratch[T]{data: region}
}

// Append adds one element, growing to max(2*cap+growthBias, len+1) on
// overflow. Growth preserves all current contents.
func (s *Scratch[T]) Append(v T) {
	s.mustBeLive()
	if s.length == len(s.data) {
		s.grow(max(2*len(s.data)+growthBias, s.length+1))
	}
	s.data[s.length] = v
	s.length++
}

// AppendSlice adds all of vs in one step, growing at most once, to
// max(2*cap, len+len(vs)).
func (s *Scratch[T]) AppendSlice(vs []T) {
	s.mustBeLive()
	if need := s.length + len(vs); need > len(s.data) {
		s.grow(max(2*len(s.data), need))
	}
	copy(s.data[s.length:], vs)
	s.length += len(vs)
}

// View returns the populated prefix of the buffer without copying. The view
// is invalidated by the next Truncate-then-append cycle, growth, or
// Release; callers must copy out anything that has to outlive the next
// mutation. The view's capacity is clipped so appends through it cannot
// touch unpopulated slots.
func (s *Scratch[T]) View() []T {
	s.mustBeLive()
	return s.data[:s.length:s.length]
}

// Truncate shrinks the populated length to n. It never changes capacity and
// never reallocates. Truncating beyond the current length is a contract
// violation and panics.
func (s *Scratch[T]) Truncate(n int) {
	s.mustBeLive()
	if n < 0 || n > s.length {
		panic("forward: Scratch.Truncate beyond current length")
	}
	s.length = n
}

// Len returns the count of populated slots.
func (s *Scratch[T]) Len() int { return s.length }

// Cap returns the current capacity in slots. It is monotonically
// non-decreasing over the life of the buffer.
func (s *Scratch[T]) Cap() int { return len(s.data) }

// Owned reports whether the buffer has promoted itself off the
// caller-supplied region onto storage it allocated itself.
func (s *Scratch[T]) Owned() bool { return s.owned }

// Release drops the buffer's storage reference and poisons the buffer; any
// use after Release, including a second Release, panics. The
// caller-supplied region is untouched if no growth ever occurred.
func (s *Scratch[T]) Release() {
	s.mustBeLive()
	s.data = nil
	s.length = 0
	s.released = true
}

// grow moves the contents onto freshly allocated storage of capacity
// newCap. The first growth is the borrowed-to-owned transition; the old
// region is abandoned, not released, since the buffer never owned it.
func (s *Scratch[T]) grow(newCap int) {
	next := make([]T, newCap)
	copy(next, s.data[:s.length])
	s.data = next
	s.owned = true
}

func (s *Scratch[T]) mustBeLive() {
	if s.released {
		panic("forward: use of released Scratch")
	}
}
