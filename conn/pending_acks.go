package conn

import "github.com/ventosilenzioso/netrelay/wire"

// maxPendingAckRanges caps the pending-ack list; the oldest range is
// dropped once exceeded.
const maxPendingAckRanges = 64

// pendingAcks tracks packet sequences the local peer has received but not
// yet advertised to the remote peer, as a sorted list of non-overlapping,
// non-adjacent half-open ranges.
type pendingAcks struct {
	ranges []wire.AckRange
}

// add records seq as received, merging into an adjacent range or inserting
// a new singleton range, keeping the list sorted and non-adjacent.
func (p *pendingAcks) add(seq uint64) {
	for i := range p.ranges {
		r := &p.ranges[i]

		if seq >= r.Start && seq < r.End {
			return // already pending
		}
		if seq+1 == r.Start {
			r.Start = seq
			p.mergeWithPrev(i)
			return
		}
		if seq == r.End {
			r.End = seq + 1
			p.mergeWithNext(i)
			return
		}
		if seq+1 < r.Start {
			p.ranges = append(p.ranges, wire.AckRange{})
			copy(p.ranges[i+1:], p.ranges[i:])
			p.ranges[i] = wire.AckRange{Start: seq, End: seq + 1}
			p.capRanges()
			return
		}
	}
	p.ranges = append(p.ranges, wire.AckRange{Start: seq, End: seq + 1})
	p.capRanges()
}

func (p *pendingAcks) mergeWithPrev(i int) {
	if i == 0 {
		return
	}
	if p.ranges[i-1].End == p.ranges[i].Start {
		p.ranges[i-1].End = p.ranges[i].End
		p.ranges = append(p.ranges[:i], p.ranges[i+1:]...)
	}
}

func (p *pendingAcks) mergeWithNext(i int) {
	if i+1 >= len(p.ranges) {
		return
	}
	if p.ranges[i].End == p.ranges[i+1].Start {
		p.ranges[i].End = p.ranges[i+1].End
		p.ranges = append(p.ranges[:i+1], p.ranges[i+2:]...)
	}
}

func (p *pendingAcks) capRanges() {
	if len(p.ranges) > maxPendingAckRanges {
		p.ranges = p.ranges[len(p.ranges)-maxPendingAckRanges:]
	}
}

// ackedLargest purges ranges (or partial ranges) at or below L, called
// once the local peer's own acks have been confirmed via the remote peer's
// self-acknowledging largest-acked sequence.
func (p *pendingAcks) ackedLargest(l uint64) {
	out := p.ranges[:0]
	for _, r := range p.ranges {
		if r.End-1 <= l {
			continue
		}
		if r.Start <= l {
			r.Start = l + 1
		}
		out = append(out, r)
	}
	p.ranges = out
}

func (p *pendingAcks) empty() bool { return len(p.ranges) == 0 }

// snapshot returns a copy of the current ranges, safe for embedding in an
// outgoing Ack packet without aliasing future mutation.
func (p *pendingAcks) snapshot() []wire.AckRange {
	if len(p.ranges) == 0 {
		return nil
	}
	out := make([]wire.AckRange, len(p.ranges))
	copy(out, p.ranges)
	return out
}
