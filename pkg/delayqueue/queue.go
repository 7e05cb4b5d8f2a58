// Package delayqueue implements the per-pathway spike delay queue.
//
// A Queue is a circular buffer of buckets. The bucket at offset+k holds the
// indices of every link whose effect is due k ticks from now. Firing sources
// are pushed into the bucket matching each outgoing link's delay; once per
// tick the queue is advanced, which clears the bucket just consumed and
// makes the next one current.
//
// Delays are quantized once, at Prepare time, to whole ticks of the owning
// clock using a single fixed rounding policy (see Rounding). If a link's
// delay later exceeds the buffer (SetDelay after Prepare), the next Push
// grows the buffer and relocates every pending bucket so that no event is
// lost, duplicated or shifted to another tick.
//
// Interleaving contract: a link pushed with delay d is returned by Peek after
// exactly d further calls to Advance. The push stage of a network tick calls
// Advance and then Push, after that tick's effect stage has peeked, so a
// link pushed on tick T is applied on tick T+d+1 and a zero delay lands on
// the next tick, never the current one.
//
// Queue is not goroutine-safe.
package delayqueue

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNonPositiveDt is returned by Prepare when dt <= 0.
	ErrNonPositiveDt = errors.New("delayqueue: dt must be > 0")

	// ErrNegativeDelay is returned when a delay quantizes to a negative tick count.
	ErrNegativeDelay = errors.New("delayqueue: negative delay")

	// ErrSizeMismatch is returned for inconsistent sizes or counts.
	ErrSizeMismatch = errors.New("delayqueue: inconsistent sizes")

	// ErrSourceRange is returned when a link's source index is out of range.
	ErrSourceRange = errors.New("delayqueue: source index out of range")

	// ErrNotPrepared is returned by operations that need Prepare first.
	ErrNotPrepared = errors.New("delayqueue: not prepared")

	// ErrCapacity is returned when the buffer would have to grow past its limit.
	ErrCapacity = errors.New("delayqueue: buffer capacity exceeded")
)

// DefaultMaxBufferLength bounds buffer growth. At dt=0.1ms this is over
// 6700 seconds of delay.
const DefaultMaxBufferLength = 1 << 26

// Bucket is the set of link indices due on one tick, in push order.
type Bucket []int32

// Queue is a circular delay buffer for one pathway. Not goroutine-safe.
type Queue struct {
	nSources int
	nTargets int
	srcBase  int32
	dt       float64
	rounding RoundingPolicy
	maxLen   int

	// Links grouped by source: the outgoing links of source s are
	// links[start[s]:start[s+1]], in ascending link order.
	start []int32
	links []int32
	ticks []int32 // per link index

	homogeneous bool
	maxDelay    int

	// arena holds one bucket per slot; slot (offset+k) % len(arena) is
	// due k ticks from now.
	arena  []Bucket
	offset int

	prepared bool
	grows    int
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxBufferLength caps buffer growth. Non-positive values are ignored.
func WithMaxBufferLength(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxLen = n
		}
	}
}

// WithSourceOffset shifts the source index space so that a pathway fed by a
// subgroup can be pushed the parent group's spikespace directly. Fired
// indices outside [offset, offset+nSources) are ignored.
func WithSourceOffset(offset int32) Option {
	return func(q *Queue) { q.srcBase = offset }
}

// WithRounding overrides the delay rounding policy.
func WithRounding(p RoundingPolicy) Option {
	return func(q *Queue) { q.rounding = p }
}

// New returns an empty, unprepared queue with a single slot.
func New(opts ...Option) *Queue {
	q := &Queue{
		rounding: Rounding,
		maxLen:   DefaultMaxBufferLength,
		arena:    make([]Bucket, 1),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Prepare quantizes delays to ticks of dt and groups links by source.
//
// delays holds either one value per link or a single value shared by every
// link. sources[i] is the source unit of link i. Events already pending from
// an earlier preparation keep their relative due ticks.
func (q *Queue) Prepare(nSources, nTargets int, delays []float64, sources []int32, dt float64) error {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return fmt.Errorf("%w: got %v", ErrNonPositiveDt, dt)
	}
	if nSources < 0 || nTargets < 0 {
		return fmt.Errorf("%w: %d sources, %d targets", ErrSizeMismatch, nSources, nTargets)
	}
	nLinks := len(sources)
	if len(delays) != nLinks && len(delays) != 1 {
		return fmt.Errorf("%w: %d delays for %d links", ErrSizeMismatch, len(delays), nLinks)
	}

	ticks := make([]int32, nLinks)
	maxDelay := 0
	homogeneous := true
	for i := range ticks {
		raw := delays[0]
		if len(delays) > 1 {
			raw = delays[i]
		}
		d, err := q.quantize(raw, dt)
		if err != nil {
			return fmt.Errorf("link %d: %w", i, err)
		}
		ticks[i] = int32(d)
		if d > maxDelay {
			maxDelay = d
		}
		if i > 0 && ticks[i] != ticks[0] {
			homogeneous = false
		}
	}
	if maxDelay+1 > q.maxLen {
		return fmt.Errorf("%w: max delay %d ticks, limit %d", ErrCapacity, maxDelay, q.maxLen)
	}

	// Counting sort of link indices by source keeps each group ascending.
	start := make([]int32, nSources+1)
	for i, s := range sources {
		if s < 0 || int(s) >= nSources {
			return fmt.Errorf("%w: link %d has source %d, want [0,%d)", ErrSourceRange, i, s, nSources)
		}
		start[s+1]++
	}
	for s := 0; s < nSources; s++ {
		start[s+1] += start[s]
	}
	links := make([]int32, nLinks)
	fill := append([]int32(nil), start[:nSources]...)
	for i, s := range sources {
		links[fill[s]] = int32(i)
		fill[s]++
	}

	q.nSources, q.nTargets, q.dt = nSources, nTargets, dt
	q.start, q.links, q.ticks = start, links, ticks
	q.homogeneous = homogeneous
	q.maxDelay = maxDelay

	need := maxDelay + 1
	if last := q.lastPending(); last+1 > need {
		need = last + 1
	}
	q.relocate(need)
	q.prepared = true
	return nil
}

func (q *Queue) quantize(delay, dt float64) (int, error) {
	if math.IsNaN(delay) || math.IsInf(delay, 0) {
		return 0, fmt.Errorf("%w: delay %v", ErrNegativeDelay, delay)
	}
	n := q.rounding.Apply(delay / dt)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v quantizes to %v ticks", ErrNegativeDelay, delay, n)
	}
	if n > math.MaxInt32-1 {
		return 0, fmt.Errorf("%w: delay %v is %v ticks", ErrCapacity, delay, n)
	}
	return int(n), nil
}

// Push schedules the outgoing links of the first count sources in spikes.
// Each link lands in the bucket matching its delay. A delay that no longer
// fits the buffer grows it first.
func (q *Queue) Push(spikes []int32, count int) error {
	if !q.prepared {
		return ErrNotPrepared
	}
	if count < 0 || count > len(spikes) {
		return fmt.Errorf("%w: count %d for %d spikes", ErrSizeMismatch, count, len(spikes))
	}
	if q.maxDelay >= len(q.arena) {
		if err := q.grow(q.maxDelay + 1); err != nil {
			return err
		}
	}
	n := len(q.arena)
	for _, fired := range spikes[:count] {
		s := fired - q.srcBase
		if s < 0 || int(s) >= q.nSources {
			continue
		}
		out := q.links[q.start[s]:q.start[s+1]]
		if len(out) == 0 {
			continue
		}
		if q.homogeneous {
			slot := (q.offset + int(q.ticks[out[0]])) % n
			q.arena[slot] = append(q.arena[slot], out...)
			continue
		}
		for _, link := range out {
			slot := (q.offset + int(q.ticks[link])) % n
			q.arena[slot] = append(q.arena[slot], link)
		}
	}
	return nil
}

// Advance clears the current bucket, whose contents were consumed by the
// last Peek, and makes the next bucket current.
func (q *Queue) Advance() {
	q.arena[q.offset] = q.arena[q.offset][:0]
	q.offset = (q.offset + 1) % len(q.arena)
}

// Peek returns the bucket due on the current tick. The bucket is the
// queue's own storage, not a copy: callers must not modify it, and it is
// invalidated by the next Advance. Repeated calls return the same contents.
func (q *Queue) Peek() Bucket {
	return q.arena[q.offset]
}

// SetDelay re-quantizes the delay of one link after Prepare. A delay longer
// than the buffer is accepted; the next Push grows the buffer to fit it.
func (q *Queue) SetDelay(link int, delay float64) error {
	if !q.prepared {
		return ErrNotPrepared
	}
	if link < 0 || link >= len(q.ticks) {
		return fmt.Errorf("%w: link %d of %d", ErrSizeMismatch, link, len(q.ticks))
	}
	d, err := q.quantize(delay, q.dt)
	if err != nil {
		return fmt.Errorf("link %d: %w", link, err)
	}
	if d+1 > q.maxLen {
		return fmt.Errorf("%w: delay %d ticks, limit %d", ErrCapacity, d, q.maxLen)
	}
	if q.homogeneous && len(q.ticks) > 1 && q.ticks[link] != int32(d) {
		q.homogeneous = false
	}
	q.ticks[link] = int32(d)
	if d > q.maxDelay {
		q.maxDelay = d
	}
	return nil
}

// Links returns the outgoing links of source s (in the queue's own index
// space, before any source offset) and their delays in ticks.
func (q *Queue) Links(s int) (links []int32, ticks []int32) {
	if s < 0 || s >= q.nSources {
		return nil, nil
	}
	links = q.links[q.start[s]:q.start[s+1]]
	ticks = make([]int32, len(links))
	for i, l := range links {
		ticks[i] = q.ticks[l]
	}
	return links, ticks
}

// Delay returns the delay of link in ticks.
func (q *Queue) Delay(link int) int {
	if link < 0 || link >= len(q.ticks) {
		return -1
	}
	return int(q.ticks[link])
}

// BufferLength returns the number of slots in the circular buffer.
func (q *Queue) BufferLength() int { return len(q.arena) }

// MaxDelay returns the largest link delay in ticks.
func (q *Queue) MaxDelay() int { return q.maxDelay }

// Homogeneous reports whether every link shares one delay.
func (q *Queue) Homogeneous() bool { return q.homogeneous }

// NumLinks returns the number of prepared links.
func (q *Queue) NumLinks() int { return len(q.ticks) }

// Prepared reports whether Prepare has succeeded.
func (q *Queue) Prepared() bool { return q.prepared }

// Grows returns how many times the buffer has been enlarged by Push.
func (q *Queue) Grows() int { return q.grows }

// Pending returns the total number of scheduled link events, including
// the current bucket.
func (q *Queue) Pending() int {
	n := 0
	for _, b := range q.arena {
		n += len(b)
	}
	return n
}

// PendingAt returns a copy of the bucket due k ticks from now.
func (q *Queue) PendingAt(k int) Bucket {
	if k < 0 || k >= len(q.arena) {
		return nil
	}
	b := q.arena[(q.offset+k)%len(q.arena)]
	return append(Bucket(nil), b...)
}

func (q *Queue) grow(need int) error {
	newLen := 2 * len(q.arena)
	if newLen < need {
		newLen = need
	}
	if newLen > q.maxLen {
		if need > q.maxLen {
			return fmt.Errorf("%w: need %d slots, limit %d", ErrCapacity, need, q.maxLen)
		}
		newLen = q.maxLen
	}
	q.relocate(newLen)
	q.grows++
	return nil
}

// relocate moves every bucket into a fresh arena of length n, with the
// current bucket at slot 0. n must be at least lastPending()+1.
func (q *Queue) relocate(n int) {
	if n < 1 {
		n = 1
	}
	old := q.arena
	arena := make([]Bucket, n)
	for k := 0; k < len(old) && k < n; k++ {
		arena[k] = old[(q.offset+k)%len(old)]
	}
	q.arena = arena
	q.offset = 0
}

// lastPending returns the largest k whose bucket is non-empty, or -1.
func (q *Queue) lastPending() int {
	for k := len(q.arena) - 1; k >= 0; k-- {
		if len(q.arena[(q.offset+k)%len(q.arena)]) > 0 {
			return k
		}
	}
	return -1
}
