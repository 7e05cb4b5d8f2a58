// Package digest fingerprints spike trains so that two runs can be compared
// for bit-identical behavior without keeping both recordings around.
package digest

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/daviddao/delaynet/pkg/model"
)

// ErrMismatch is returned by Verify when a recording does not match.
var ErrMismatch = errors.New("digest: mismatch")

// Spikes returns the hex xxhash64 of the canonical form of recs, one
// "group\tindex\ttimestep\n" line per spike in recording order. Spike times
// are left out: the timestep already fixes them and avoids float formatting.
func Spikes(recs []model.SpikeRecord) string {
	h := xxhash.New()
	var buf []byte
	for _, r := range recs {
		buf = buf[:0]
		buf = append(buf, r.Group...)
		buf = append(buf, '\t')
		buf = strconv.AppendInt(buf, int64(r.Index), 10)
		buf = append(buf, '\t')
		buf = strconv.AppendUint(buf, r.Timestep, 10)
		buf = append(buf, '\n')
		h.Write(buf)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Verify recomputes the digest of recs and compares it with want.
func Verify(recs []model.SpikeRecord, want string) error {
	if got := Spikes(recs); got != want {
		return fmt.Errorf("%w: got %s, want %s", ErrMismatch, got, want)
	}
	return nil
}
