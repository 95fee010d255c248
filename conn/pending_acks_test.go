package conn

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ventosilenzioso/netrelay/wire"
)

// pending_acks = [0..10], peer acks largest=5 purges down to [6..10],
// then acked_largest(10) empties it.
func TestPendingAcksPurgeOnPeerAck(t *testing.T) {
	var p pendingAcks
	for seq := uint64(0); seq <= 10; seq++ {
		p.add(seq)
	}
	require.Equal(t, []wire.AckRange{{Start: 0, End: 11}}, p.snapshot())

	p.ackedLargest(5)
	require.Equal(t, []wire.AckRange{{Start: 6, End: 11}}, p.snapshot())

	p.ackedLargest(10)
	require.True(t, p.empty())
}

func TestPendingAcksAddOutOfOrderMerges(t *testing.T) {
	var p pendingAcks
	p.add(5)
	p.add(3)
	p.add(4)
	require.Equal(t, []wire.AckRange{{Start: 3, End: 6}}, p.snapshot())

	p.add(10)
	require.Equal(t, []wire.AckRange{{Start: 3, End: 6}, {Start: 10, End: 11}}, p.snapshot())

	p.add(9)
	require.Equal(t, []wire.AckRange{{Start: 3, End: 6}, {Start: 9, End: 11}}, p.snapshot())
}

func TestPendingAcksDuplicateIgnored(t *testing.T) {
	var p pendingAcks
	p.add(1)
	p.add(1)
	require.Equal(t, []wire.AckRange{{Start: 1, End: 2}}, p.snapshot())
}

func TestPendingAcksCapsRangeCount(t *testing.T) {
	var p pendingAcks
	for i := 0; i < maxPendingAckRanges+10; i++ {
		p.add(uint64(i * 2)) // never adjacent, so each is its own range
	}
	require.LessOrEqual(t, len(p.ranges), maxPendingAckRanges)
}
