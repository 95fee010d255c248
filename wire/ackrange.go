package wire

import "github.com/ventosilenzioso/netrelay/neterr"

// encodeAckRanges writes ranges (sorted ascending, non-overlapping,
// non-adjacent half-open intervals) using the compact scheme from spec
// §4.1: the newest (last) range is written as (end-1, size), followed by
// the count of the rest, then each remaining range newest-to-oldest as
// (gap from the previous range's start, size).
func encodeAckRanges(w *Writer, ranges []AckRange) {
	if len(ranges) == 0 {
		w.Varint(0)
		w.Varint(0)
		w.Varint(0)
		return
	}

	newest := ranges[len(ranges)-1]
	w.Varint(newest.End - 1)
	w.Varint(newest.End - newest.Start)
	w.Varint(uint64(len(ranges) - 1))

	prevStart := newest.Start
	for i := len(ranges) - 2; i >= 0; i-- {
		cur := ranges[i]
		gap := prevStart - cur.End
		size := cur.End - cur.Start
		w.Varint(gap)
		w.Varint(size)
		prevStart = cur.Start
	}
}

func decodeAckRanges(r *Reader) ([]AckRange, error) {
	newestEndIncl, err := r.Varint()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "ack newest end")
	}
	newestSize, err := r.Varint()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "ack newest size")
	}
	count, err := r.Varint()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "ack range count")
	}

	if newestSize == 0 && count == 0 && newestEndIncl == 0 {
		return nil, nil
	}

	newestEnd := newestEndIncl + 1
	if newestSize > newestEnd {
		return nil, neterr.New(neterr.KindPacketDeserialization, "ack newest size underflows")
	}
	newestStart := newestEnd - newestSize

	// Ranges are decoded newest-to-oldest; collect then reverse into
	// ascending order.
	descending := make([]AckRange, 0, count+1)
	descending = append(descending, AckRange{Start: newestStart, End: newestEnd})

	prevStart := newestStart
	for i := uint64(0); i < count; i++ {
		gap, err := r.Varint()
		if err != nil {
			return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "ack range gap")
		}
		size, err := r.Varint()
		if err != nil {
			return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "ack range size")
		}
		if gap > prevStart {
			return nil, neterr.New(neterr.KindPacketDeserialization, "ack range gap underflows")
		}
		curEnd := prevStart - gap
		if size > curEnd {
			return nil, neterr.New(neterr.KindPacketDeserialization, "ack range size underflows")
		}
		curStart := curEnd - size
		descending = append(descending, AckRange{Start: curStart, End: curEnd})
		prevStart = curStart
	}

	ascending := make([]AckRange, len(descending))
	for i, r := range descending {
		ascending[len(descending)-1-i] = r
	}
	return ascending, nil
}
