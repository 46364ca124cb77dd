package protocol

import "math"

// SeqUnwrapper turns 32-bit TCP sequence numbers into 64-bit offsets relative
// to the first byte of the stream. Sequence numbers wrap modulo 2^32; each one
// is placed at the offset nearest to the furthest offset seen so far.
//
// The zero value is unanchored and anchors itself on the first call to Offset.
// An anchor taken from data is provisional: a SYN or an earlier data segment
// moves it back, and the caller must shift offsets it already holds by the
// returned amount. An anchor taken from a SYN is final.
type SeqUnwrapper struct {
	isn      uint32
	anchored bool
	fromSYN  bool
	furthest uint64
}

// AnchorSYN anchors the stream on a SYN: data starts one past its sequence
// number. It returns how far previously issued offsets move up.
func (u *SeqUnwrapper) AnchorSYN(seq uint32) (shift uint64) {
	base := seq + 1
	switch {
	case !u.anchored:
		u.isn, u.anchored = base, true
	case !u.fromSYN:
		// A SYN after data in the same window only moves the anchor back.
		if d := int32(u.isn - base); d > 0 {
			shift = u.rebase(uint64(d))
		}
	}
	u.fromSYN = true
	return shift
}

func (u *SeqUnwrapper) rebase(d uint64) uint64 {
	u.isn -= uint32(d)
	u.furthest += d
	return d
}

// Anchored reports whether the initial sequence number is known.
func (u *SeqUnwrapper) Anchored() bool {
	return u.anchored
}

// Offset maps a segment starting at seq with length n to [start, end).
// shift is non-zero when the segment moved a provisional anchor back.
// ok is false when the segment starts before a SYN-derived anchor.
func (u *SeqUnwrapper) Offset(seq uint32, n int) (start, end, shift uint64, ok bool) {
	if !u.anchored {
		u.isn, u.anchored = seq, true
	}

	// Signed distance from the furthest offset, taken modulo 2^32 as in
	// gopacket's Sequence.Difference.
	rel := seq - u.isn
	diff := int64(int32(rel - uint32(u.furthest)))
	off := int64(u.furthest) + diff
	if off < 0 {
		if u.fromSYN {
			return 0, 0, 0, false
		}
		shift = u.rebase(uint64(-off))
		off = 0
	}
	if off > math.MaxInt64-int64(n) {
		return 0, 0, shift, false
	}

	start = uint64(off)
	end = start + uint64(n)
	if end > u.furthest {
		u.furthest = end
	}
	return start, end, shift, true
}
