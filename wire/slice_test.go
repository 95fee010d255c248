package wire_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ventosilenzioso/netrelay/wire"
)

func TestSliceConstructorReassembly(t *testing.T) {
	original := bytes.Repeat([]byte{0xAB}, wire.SliceSize*2+1)

	numSlices := uint32(3)
	c := wire.NewSliceConstructor(numSlices)
	require.Equal(t, int(numSlices)*wire.SliceSize, c.ProvisionalBytes())

	slices := []wire.Slice{
		{MessageID: 1, SliceIndex: 0, NumSlices: numSlices, Payload: original[0:wire.SliceSize]},
		{MessageID: 1, SliceIndex: 2, NumSlices: numSlices, Payload: original[2*wire.SliceSize:]},
		{MessageID: 1, SliceIndex: 1, NumSlices: numSlices, Payload: original[wire.SliceSize : 2*wire.SliceSize]},
	}

	var assembled []byte
	for i, s := range slices {
		msg, err := c.AddSlice(s)
		require.NoError(t, err)
		if i < len(slices)-1 {
			require.Nil(t, msg)
		} else {
			assembled = msg
		}
	}
	require.Equal(t, original, assembled)
}

func TestSliceConstructorDuplicateIgnored(t *testing.T) {
	c := wire.NewSliceConstructor(2)
	payload := bytes.Repeat([]byte{1}, wire.SliceSize)
	_, err := c.AddSlice(wire.Slice{SliceIndex: 0, NumSlices: 2, Payload: payload})
	require.NoError(t, err)

	msg, err := c.AddSlice(wire.Slice{SliceIndex: 0, NumSlices: 2, Payload: payload})
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestSliceConstructorRejectsBadFinalLength(t *testing.T) {
	c := wire.NewSliceConstructor(1)
	_, err := c.AddSlice(wire.Slice{SliceIndex: 0, NumSlices: 1, Payload: make([]byte, wire.SliceSize+1)})
	require.Error(t, err)
}

func TestSliceConstructorRejectsBadMiddleLength(t *testing.T) {
	c := wire.NewSliceConstructor(2)
	_, err := c.AddSlice(wire.Slice{SliceIndex: 0, NumSlices: 2, Payload: make([]byte, wire.SliceSize-1)})
	require.Error(t, err)
}

func TestSliceSizeConstant(t *testing.T) {
	// Callers (channel package) decide Small vs Sliced based on
	// SliceSize; this just pins the constant.
	require.Equal(t, 1200, wire.SliceSize)
}
