package core

import (
	"testing"

	"github.com/encodeous/weft/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRecord(t *testing.T) {
	a, b := node(1), node(0xa588)
	e := state.ScheduleEntry{From: b, To: a, Slot: 4, Channel: 3}

	tx, err := EncodeRecord(b, e)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 3, 0x40, 0x00, 0x12, 0x4b, 0x00, 0x00, 0x00, 0x00, 0x01}, tx)

	rx, err := EncodeRecord(a, e)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 3, 0x00, 0x00, 0x12, 0x4b, 0x00, 0x00, 0x00, 0xa5, 0x88}, rx)

	_, err = EncodeRecord(node(7), e)
	assert.Error(t, err)

	_, err = EncodeRecord(a, state.ScheduleEntry{From: b, To: a, Slot: 300})
	assert.ErrorIs(t, err, ErrSlotOverflow)
}

func TestFragment(t *testing.T) {
	root := node(1)
	entries := make([]state.ScheduleEntry, 0)
	for i := 0; i < 23; i++ {
		entries = append(entries, state.ScheduleEntry{From: node(100 + i), To: root, Slot: uint16(4 + i), Channel: uint8(i % 16)})
	}
	entries = append(entries, state.ScheduleEntry{From: node(2), To: node(3), Slot: 4})

	frags, err := Fragment(root, entries, 10)
	require.NoError(t, err)
	require.Len(t, frags, 3)

	total := 0
	for i, frag := range frags {
		first, recs, err := DecodeFragment(frag, 8)
		require.NoError(t, err)
		assert.Equal(t, i == 0, first)
		assert.Equal(t, int(frag[1]), len(recs))
		for j, rec := range recs {
			e := entries[total+j]
			assert.Equal(t, uint8(e.Slot), rec.Slot)
			assert.Equal(t, e.Channel, rec.Channel)
			assert.Equal(t, byte(state.DirRx), rec.Dir)
			assert.Equal(t, e.From, rec.Peer)
		}
		total += len(recs)
	}
	assert.Equal(t, 23, total)
	assert.Equal(t, byte(0x80), frags[0][0])
	assert.Equal(t, byte(10), frags[0][1])
	assert.Equal(t, byte(0x00), frags[2][0])
	assert.Equal(t, byte(3), frags[2][1])
}

func TestFragmentNoEntries(t *testing.T) {
	frags, err := Fragment(node(5), []state.ScheduleEntry{{From: node(2), To: node(1), Slot: 4}}, 10)
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestFragmentInvalidSize(t *testing.T) {
	_, err := Fragment(node(1), nil, 0)
	assert.Error(t, err)
}

func TestDecodeFragmentErrors(t *testing.T) {
	_, _, err := DecodeFragment([]byte{0x80}, 8)
	assert.Error(t, err)
	_, _, err = DecodeFragment([]byte{0x13, 0}, 8)
	assert.Error(t, err)
	_, _, err = DecodeFragment([]byte{0x80, 1, 4, 0, 0x40}, 8)
	assert.Error(t, err)
}
