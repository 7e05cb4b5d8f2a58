package delayqueue

import (
	"errors"
	"reflect"
	"testing"
)

func prepared(t *testing.T, nSources int, delays []float64, sources []int32, dt float64, opts ...Option) *Queue {
	t.Helper()
	q := New(opts...)
	if err := q.Prepare(nSources, nSources, delays, sources, dt); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return q
}

// deliveries advances through n ticks and records the non-empty buckets,
// keyed by how many advances preceded the peek.
func deliveries(q *Queue, n int) map[int][]int32 {
	out := make(map[int][]int32)
	for k := 0; k < n; k++ {
		if b := q.Peek(); len(b) > 0 {
			out[k] = append([]int32(nil), b...)
		}
		q.Advance()
	}
	return out
}

func TestScenario_ThreeTickDelay(t *testing.T) {
	// dt = 0.1 ms, delay = 0.3 ms -> 3 ticks.
	q := prepared(t, 1, []float64{0.3}, []int32{0}, 0.1)
	if q.MaxDelay() != 3 {
		t.Fatalf("MaxDelay: got %d, want 3", q.MaxDelay())
	}
	if q.BufferLength() != 4 {
		t.Fatalf("BufferLength: got %d, want 4", q.BufferLength())
	}
	if err := q.Push([]int32{0}, 1); err != nil {
		t.Fatalf("Push: %v", err)
	}
	for step := 0; step <= 4; step++ {
		b := q.Peek()
		if step == 3 {
			if len(b) != 1 || b[0] != 0 {
				t.Fatalf("timestep 3: got %v, want [0]", b)
			}
		} else if len(b) != 0 {
			t.Fatalf("timestep %d: got %v, want empty", step, b)
		}
		q.Advance()
	}
}

func TestExactDelayDelivery(t *testing.T) {
	for d := 0; d <= 5; d++ {
		for fire := 0; fire <= 3; fire++ {
			q := prepared(t, 1, []float64{float64(d)}, []int32{0}, 1.0)
			for i := 0; i < fire; i++ {
				q.Advance()
			}
			if err := q.Push([]int32{0}, 1); err != nil {
				t.Fatalf("Push: %v", err)
			}
			got := deliveries(q, d+4)
			want := map[int][]int32{d: {0}}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("delay %d fired after %d advances: got %v, want %v", d, fire, got, want)
			}
		}
	}
}

func TestIdempotentPeek(t *testing.T) {
	q := prepared(t, 2, []float64{0, 0}, []int32{0, 1}, 0.1)
	if err := q.Push([]int32{1, 0}, 2); err != nil {
		t.Fatal(err)
	}
	first := append(Bucket(nil), q.Peek()...)
	second := q.Peek()
	if !reflect.DeepEqual(first, Bucket(second)) {
		t.Fatalf("peek not idempotent: %v then %v", first, second)
	}
	if len(first) != 2 {
		t.Fatalf("got %d due links, want 2", len(first))
	}
	q.Advance()
	if b := q.Peek(); len(b) != 0 {
		t.Fatalf("after advance: got %v, want empty", b)
	}
}

func TestPeekReturnsQueueStorage(t *testing.T) {
	q := prepared(t, 1, []float64{0}, []int32{0}, 1)
	q.Push([]int32{0}, 1)
	a, b := q.Peek(), q.Peek()
	if &a[0] != &b[0] {
		t.Fatal("Peek should return the queue's bucket, not a copy")
	}
}

func TestPushAccumulatesSameSlot(t *testing.T) {
	sources := make([]int32, 100)
	q := prepared(t, 1, []float64{2}, sources, 1)
	for i := 0; i < 3; i++ {
		if err := q.Push([]int32{0}, 1); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(q.PendingAt(2)); got != 300 {
		t.Fatalf("slot 2: got %d links, want 300", got)
	}
}

func TestPushUsesCountOnly(t *testing.T) {
	// Spikespace layout: fired indices first, the rest is garbage.
	q := prepared(t, 3, []float64{1, 1, 1}, []int32{0, 1, 2}, 1)
	spikespace := []int32{2, 0, 1, 2}
	if err := q.Push(spikespace, 1); err != nil {
		t.Fatal(err)
	}
	if got := q.PendingAt(1); !reflect.DeepEqual(got, Bucket{2}) {
		t.Fatalf("got %v, want [2]", got)
	}
}

func TestLinksGroupedBySource(t *testing.T) {
	q := prepared(t, 3, []float64{1, 2, 3, 4, 5}, []int32{2, 0, 2, 1, 0}, 1)
	cases := []struct {
		src   int
		links []int32
		ticks []int32
	}{
		{0, []int32{1, 4}, []int32{2, 5}},
		{1, []int32{3}, []int32{4}},
		{2, []int32{0, 2}, []int32{1, 3}},
	}
	for _, tc := range cases {
		links, ticks := q.Links(tc.src)
		if !reflect.DeepEqual(links, tc.links) || !reflect.DeepEqual(ticks, tc.ticks) {
			t.Fatalf("source %d: got links %v ticks %v, want %v %v", tc.src, links, ticks, tc.links, tc.ticks)
		}
	}
	if q.Homogeneous() {
		t.Fatal("queue with distinct delays reported homogeneous")
	}
}

func TestNoLossOnGrowth(t *testing.T) {
	// link 0: source 0, 1 tick; link 1: source 1, 2 ticks.
	q := prepared(t, 2, []float64{0.1, 0.2}, []int32{0, 1}, 0.1)
	if q.BufferLength() != 3 {
		t.Fatalf("BufferLength: got %d, want 3", q.BufferLength())
	}
	if err := q.Push([]int32{0, 1}, 2); err != nil {
		t.Fatal(err)
	}
	q.Advance() // step 1: link 0 is current

	if err := q.SetDelay(0, 0.7); err != nil {
		t.Fatalf("SetDelay: %v", err)
	}
	if err := q.Push([]int32{0}, 1); err != nil {
		t.Fatalf("Push after SetDelay: %v", err)
	}
	if q.Grows() != 1 {
		t.Fatalf("Grows: got %d, want 1", q.Grows())
	}
	if q.BufferLength() != 8 {
		t.Fatalf("BufferLength after growth: got %d, want 8", q.BufferLength())
	}

	got := deliveries(q, 10)
	want := map[int][]int32{
		0: {0}, // step 1, pushed before growth
		1: {1}, // step 2, pushed before growth
		7: {0}, // step 8, pushed with the new 7-tick delay
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("deliveries: got %v, want %v", got, want)
	}
	if q.Pending() != 0 {
		t.Fatalf("Pending after drain: got %d, want 0", q.Pending())
	}
}

func TestGrowthWrappedOffset(t *testing.T) {
	q := prepared(t, 1, []float64{3}, []int32{0}, 1)
	// Move the offset so pending buckets wrap around the end of the arena.
	for i := 0; i < 3; i++ {
		q.Advance()
	}
	q.Push([]int32{0}, 1) // due in 3
	q.Advance()
	q.Push([]int32{0}, 1) // due in 3, i.e. 2 after the first
	if err := q.SetDelay(0, 9); err != nil {
		t.Fatal(err)
	}
	q.Push([]int32{0}, 1) // due in 9
	got := deliveries(q, 12)
	want := map[int][]int32{2: {0}, 3: {0}, 9: {0}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("deliveries: got %v, want %v", got, want)
	}
}

func TestGrowthCapacity(t *testing.T) {
	q := prepared(t, 1, []float64{1}, []int32{0}, 1, WithMaxBufferLength(4))
	if err := q.SetDelay(0, 10); !errors.Is(err, ErrCapacity) {
		t.Fatalf("SetDelay beyond capacity: got %v, want ErrCapacity", err)
	}
	if err := q.SetDelay(0, 3); err != nil {
		t.Fatalf("SetDelay within capacity: %v", err)
	}
	if err := q.Push([]int32{0}, 1); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if q.BufferLength() != 4 {
		t.Fatalf("BufferLength: got %d, want 4 (capped)", q.BufferLength())
	}
}

func TestRePrepareKeepsPending(t *testing.T) {
	q := prepared(t, 1, []float64{5}, []int32{0}, 1)
	q.Push([]int32{0}, 1)
	q.Advance()
	if err := q.Prepare(1, 1, []float64{1}, []int32{0}, 1); err != nil {
		t.Fatal(err)
	}
	if q.BufferLength() != 5 {
		t.Fatalf("BufferLength: got %d, want 5 (pending event at 4)", q.BufferLength())
	}
	got := deliveries(q, 6)
	if want := map[int][]int32{4: {0}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("deliveries: got %v, want %v", got, want)
	}
}

func TestSourceOffset(t *testing.T) {
	q := prepared(t, 2, []float64{1, 1}, []int32{0, 1}, 1, WithSourceOffset(10))
	if err := q.Push([]int32{3, 11, 12, 10}, 4); err != nil {
		t.Fatal(err)
	}
	if got := q.PendingAt(1); !reflect.DeepEqual(got, Bucket{1, 0}) {
		t.Fatalf("got %v, want [1 0]", got)
	}
}

func TestPrepareErrors(t *testing.T) {
	cases := []struct {
		name     string
		nSources int
		delays   []float64
		sources  []int32
		dt       float64
		want     error
	}{
		{"zero dt", 1, []float64{1}, []int32{0}, 0, ErrNonPositiveDt},
		{"negative dt", 1, []float64{1}, []int32{0}, -1, ErrNonPositiveDt},
		{"negative delay", 1, []float64{-0.2}, []int32{0}, 0.1, ErrNegativeDelay},
		{"size mismatch", 2, []float64{1, 2}, []int32{0, 1, 1}, 1, ErrSizeMismatch},
		{"negative sources", -1, []float64{1}, nil, 1, ErrSizeMismatch},
		{"source range", 2, []float64{1}, []int32{0, 2}, 1, ErrSourceRange},
		{"negative source", 2, []float64{1}, []int32{-1}, 1, ErrSourceRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := New().Prepare(tc.nSources, 1, tc.delays, tc.sources, tc.dt)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPushBeforePrepare(t *testing.T) {
	if err := New().Push([]int32{0}, 1); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("got %v, want ErrNotPrepared", err)
	}
}

func TestPushBadCount(t *testing.T) {
	q := prepared(t, 1, []float64{1}, []int32{0}, 1)
	if err := q.Push([]int32{0}, 2); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("got %v, want ErrSizeMismatch", err)
	}
}

func TestHomogeneousScalarDelay(t *testing.T) {
	q := prepared(t, 2, []float64{0.2}, []int32{0, 0, 1}, 0.1)
	if !q.Homogeneous() {
		t.Fatal("single delay should be homogeneous")
	}
	if q.Delay(2) != 2 {
		t.Fatalf("Delay(2): got %d, want 2", q.Delay(2))
	}
	q.Push([]int32{0}, 1)
	if got := q.PendingAt(2); !reflect.DeepEqual(got, Bucket{0, 1}) {
		t.Fatalf("got %v, want [0 1]", got)
	}
	if err := q.SetDelay(0, 0.1); err != nil {
		t.Fatal(err)
	}
	if q.Homogeneous() {
		t.Fatal("queue still homogeneous after SetDelay changed one link")
	}
}

func TestRoundingPolicy(t *testing.T) {
	cases := []struct {
		name   string
		policy RoundingPolicy
		delay  float64
		want   int
	}{
		{"away: 2.5", RoundHalfAwayFromZero, 2.5, 3},
		{"away: 3.5", RoundHalfAwayFromZero, 3.5, 4},
		{"even: 2.5", RoundHalfEven, 2.5, 2},
		{"even: 3.5", RoundHalfEven, 3.5, 4},
		{"away: below half", RoundHalfAwayFromZero, 2.49, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := prepared(t, 1, []float64{tc.delay}, []int32{0}, 1, WithRounding(tc.policy))
			if got := q.Delay(0); got != tc.want {
				t.Fatalf("Delay: got %d, want %d", got, tc.want)
			}
		})
	}
	if Rounding != RoundHalfAwayFromZero {
		t.Fatalf("default rounding changed: %v", Rounding)
	}
}
