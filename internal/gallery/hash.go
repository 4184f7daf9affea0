package gallery

import (
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"nano-banana-studio/internal/generation"
)

// Sort returns a copy ordered for display: pending and running first, then
// everything else, newest first inside each group.
func Sort(records []generation.Record) []generation.Record {
	out := make([]generation.Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := statusOrder(out[i].Status), statusOrder(out[j].Status)
		if oi != oj {
			return oi < oj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt.Time)
	})
	return out
}

func statusOrder(s generation.Status) int {
	switch s {
	case generation.StatusPending:
		return 0
	case generation.StatusRunning:
		return 1
	case generation.StatusCompleted, generation.StatusFailed:
		return 2
	}
	return 99
}

// AnyActive reports whether some record is pending or running.
func AnyActive(records []generation.Record) bool {
	for _, r := range records {
		if r.Status.Active() {
			return true
		}
	}
	return false
}

// Hash fingerprints the visible state of a list: id, status and result
// location of every record, in order.
func Hash(records []generation.Record) uint64 {
	d := xxhash.New()
	var buf []byte
	for _, r := range records {
		buf = buf[:0]
		buf = strconv.AppendInt(buf, r.ID, 10)
		buf = append(buf, 0)
		buf = append(buf, r.Status...)
		buf = append(buf, 0)
		buf = append(buf, r.ResultURL...)
		buf = append(buf, 0x1e)
		_, _ = d.Write(buf)
	}
	return d.Sum64()
}

// Deduper suppresses redraws of an unchanged gallery.
type Deduper struct {
	mu       sync.Mutex
	last     uint64
	rendered bool
}

// ShouldRedraw reports whether records differ from the last rendered list.
// A true result records the new fingerprint.
func (d *Deduper) ShouldRedraw(records []generation.Record) bool {
	h := Hash(records)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rendered && h == d.last {
		return false
	}
	d.last = h
	d.rendered = true
	return true
}

// Invalidate forces the next ShouldRedraw to return true.
func (d *Deduper) Invalidate() {
	d.mu.Lock()
	d.rendered = false
	d.mu.Unlock()
}
