package state

import (
	"fmt"
	"strings"
	"time"
)

// ScheduleEntry assigns a (slot, channel) cell to the link From -> To.
type ScheduleEntry struct {
	From    Addr   `json:"from" yaml:"from"`
	To      Addr   `json:"to" yaml:"to"`
	Slot    uint16 `json:"slot" yaml:"slot"`
	Channel uint8  `json:"channel" yaml:"channel"`
}

func (e ScheduleEntry) String() string {
	return fmt.Sprintf("%s -> %s @ slot %d ch %d", e.From, e.To, e.Slot, e.Channel)
}

// ScheduleTable is the result of one allocation pass. It is replaced as a
// whole and must not be modified once published.
type ScheduleTable struct {
	Entries    []ScheduleEntry `json:"entries"`
	Feasible   bool            `json:"feasible"`
	Epoch      uint64          `json:"epoch"`
	Algorithm  string          `json:"algorithm"`
	ComputedAt time.Time       `json:"computed_at"`
}

// EntriesFor returns the entries in which node takes part, in table order.
func (t *ScheduleTable) EntriesFor(node Addr) []ScheduleEntry {
	out := make([]ScheduleEntry, 0)
	if t == nil {
		return out
	}
	for _, e := range t.Entries {
		if e.From == node || e.To == node {
			out = append(out, e)
		}
	}
	return out
}

// Format renders the table the way it is printed to the debug log.
func (t *ScheduleTable) Format() string {
	sb := strings.Builder{}
	sb.WriteString("| From |  To  | Slot | Chan |\n")
	if t == nil {
		return sb.String()
	}
	for _, e := range t.Entries {
		sb.WriteString(fmt.Sprintf("| %4s | %4s | %4d | %4d |\n", e.From.Short(), e.To.Short(), e.Slot, e.Channel))
	}
	return sb.String()
}
