package core

import (
	"errors"
	"fmt"

	"github.com/encodeous/weft/state"
)

var ErrSlotOverflow = errors.New("schedule entry does not fit in a record")

// EncodeRecord serializes the view node has of entry:
// [slot][channel][direction][peer address bytes].
func EncodeRecord(node state.Addr, entry state.ScheduleEntry) ([]byte, error) {
	if entry.Slot > state.MaxSlotOffset {
		return nil, fmt.Errorf("%w: slot %d", ErrSlotOverflow, entry.Slot)
	}
	var dir byte
	var peer state.Addr
	switch node {
	case entry.From:
		dir, peer = state.DirTx, entry.To
	case entry.To:
		dir, peer = state.DirRx, entry.From
	default:
		return nil, fmt.Errorf("%s is not part of %s", node, entry)
	}
	peerBytes := peer.Bytes()
	rec := make([]byte, 0, 3+len(peerBytes))
	rec = append(rec, byte(entry.Slot), entry.Channel, dir)
	rec = append(rec, peerBytes...)
	return rec, nil
}

// Fragment splits the records of node into packets of at most maxEntries
// records: [marker][count][records...]. The first packet is marked with
// FragmentFirst so the mote can drop its previous schedule.
func Fragment(node state.Addr, entries []state.ScheduleEntry, maxEntries int) ([][]byte, error) {
	if maxEntries <= 0 || maxEntries > 0xff {
		return nil, fmt.Errorf("invalid fragment size %d", maxEntries)
	}
	records := make([][]byte, 0)
	for _, e := range entries {
		if e.From != node && e.To != node {
			continue
		}
		rec, err := EncodeRecord(node, e)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	frags := make([][]byte, 0, (len(records)+maxEntries-1)/maxEntries)
	for idx := 0; idx < len(records); idx += maxEntries {
		group := records[idx:min(idx+maxEntries, len(records))]
		marker := byte(state.FragmentContinuation)
		if idx == 0 {
			marker = state.FragmentFirst
		}
		frag := []byte{marker, byte(len(group))}
		for _, rec := range group {
			frag = append(frag, rec...)
		}
		frags = append(frags, frag)
	}
	return frags, nil
}

// Record is a decoded schedule record.
type Record struct {
	Slot    uint8
	Channel uint8
	Dir     byte
	Peer    state.Addr
}

// DecodeFragment parses a fragment produced by Fragment. addrLen is the width
// of peer addresses in bytes.
func DecodeFragment(frag []byte, addrLen int) (first bool, recs []Record, err error) {
	if len(frag) < 2 {
		return false, nil, errors.New("fragment too short")
	}
	switch frag[0] {
	case state.FragmentFirst:
		first = true
	case state.FragmentContinuation:
	default:
		return false, nil, fmt.Errorf("unknown fragment marker 0x%02x", frag[0])
	}
	count := int(frag[1])
	recLen := 3 + addrLen
	if len(frag) != 2+count*recLen {
		return false, nil, fmt.Errorf("fragment length %d does not match %d records", len(frag), count)
	}
	for i := 0; i < count; i++ {
		rec := frag[2+i*recLen : 2+(i+1)*recLen]
		peer, err := state.AddrFromBytes(rec[3:])
		if err != nil {
			return false, nil, err
		}
		recs = append(recs, Record{Slot: rec[0], Channel: rec[1], Dir: rec[2], Peer: peer})
	}
	return first, recs, nil
}
