package wire

import "github.com/ventosilenzioso/netrelay/neterr"

// SliceConstructor reassembles a single message from its indexed fixed-size
// slices. Memory for the whole message (NumSlices*SliceSize) is
// allocated up front so the caller can charge that amount against a memory
// cap before any slice bytes are copied in.
type SliceConstructor struct {
	numSlices    uint32
	numReceived  uint32
	received     []bool
	buf          []byte
	finalLen     int
	haveFinalLen bool
}

// NewSliceConstructor allocates a buffer sized for numSlices*SliceSize. The
// caller is expected to have already validated numSlices against whatever
// amplification limit it enforces.
func NewSliceConstructor(numSlices uint32) *SliceConstructor {
	return &SliceConstructor{
		numSlices: numSlices,
		received:  make([]bool, numSlices),
		buf:       make([]byte, int(numSlices)*SliceSize),
	}
}

// ProvisionalBytes is the amount of memory this constructor was charged for
// at allocation time.
func (c *SliceConstructor) ProvisionalBytes() int { return len(c.buf) }

// AddSlice feeds one slice into the reassembly buffer. Duplicate slices are
// silently ignored. It returns the assembled message once every slice has
// arrived, nil otherwise.
func (c *SliceConstructor) AddSlice(s Slice) ([]byte, error) {
	if s.NumSlices != c.numSlices {
		return nil, neterr.New(neterr.KindInvalidSliceMessage, "slice num_slices mismatch")
	}
	if s.SliceIndex >= c.numSlices {
		return nil, neterr.New(neterr.KindInvalidSliceMessage, "slice index out of range")
	}

	isLast := s.SliceIndex == c.numSlices-1
	if isLast {
		if len(s.Payload) > SliceSize {
			return nil, neterr.New(neterr.KindInvalidSliceMessage, "final slice exceeds slice size")
		}
		c.finalLen = len(s.Payload)
		c.haveFinalLen = true
	} else if len(s.Payload) != SliceSize {
		return nil, neterr.New(neterr.KindInvalidSliceMessage, "non-final slice size mismatch")
	}

	if c.received[s.SliceIndex] {
		return nil, nil // duplicate, silently ignored
	}
	c.received[s.SliceIndex] = true
	c.numReceived++

	offset := int(s.SliceIndex) * SliceSize
	copy(c.buf[offset:], s.Payload)

	if c.numReceived != c.numSlices {
		return nil, nil
	}

	total := len(c.buf)
	if c.haveFinalLen {
		total = int(c.numSlices-1)*SliceSize + c.finalLen
	}
	return c.buf[:total], nil
}
