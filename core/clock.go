package core

/*------------------------------------------------------------------
 *
 * Purpose:	Monotonic millisecond time as the core sees it, and the
 *		wraparound-safe comparison spec §9 requires: treat every
 *		(now - then) as a signed 32-bit quantity so the ~49-day
 *		wrap of a uint32 tick counter never produces a false
 *		"ancient" or "future" deadline.
 *
 *------------------------------------------------------------------*/

// Millis is the host's monotonic millisecond tick, per spec §6's
// Clock interface: now_ms() -> u32 monotonic.
type Millis uint32

// Since returns how many milliseconds have elapsed from m to now,
// correct across a single 32-bit wrap.
func Since(now, m Millis) int32 {
	return int32(now - m)
}

// Before reports whether deadline has passed as of now.
func Before(now, deadline Millis) bool {
	return Since(now, deadline) >= 0
}

// Add returns m advanced by d milliseconds (d may not be negative;
// the core only ever schedules forward deadlines).
func (m Millis) Add(d uint32) Millis {
	return m + Millis(d)
}

// RandomSource is the cryptographically strong byte source spec §6
// requires for handshakes, group-id hashing, bundle ids, and CSMA
// jitter.
type RandomSource interface {
	RandomBytes(buf []byte)
}
