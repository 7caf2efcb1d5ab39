package state

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"path"
	"path/filepath"
	"slices"
)

var Algorithms = []string{"tasa", "firstfit"}

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func BindValidator(s string) error {
	_, err := netip.ParseAddrPort(s)
	return err
}

func ScheduleValidator(s *ScheduleCfg) error {
	if !slices.Contains(Algorithms, s.Algorithm) {
		return fmt.Errorf("schedule.algorithm %q is not one of %v", s.Algorithm, Algorithms)
	}
	if s.Backoff < 0 {
		return fmt.Errorf("schedule.backoff must not be negative")
	}
	if s.SlotCount <= 0 {
		return fmt.Errorf("schedule.slot_count must be positive, got %d", s.SlotCount)
	}
	if s.SlotStart == nil {
		return fmt.Errorf("schedule.slot_start is not set")
	}
	start := *s.SlotStart
	if start < 0 {
		return fmt.Errorf("schedule.slot_start must not be negative, got %d", start)
	}
	if last := start + s.SlotCount - 1; last > MaxSlotOffset {
		return fmt.Errorf("schedule slot range ends at %d > %d", last, MaxSlotOffset)
	}
	if s.ChannelCount <= 0 || s.ChannelCount > MaxChannelOffsets {
		return fmt.Errorf("schedule.channel_count must be in [1, %d], got %d", MaxChannelOffsets, s.ChannelCount)
	}
	return nil
}

func DispatchValidator(d *DispatchCfg) error {
	if d.MaxEntries <= 0 || d.MaxEntries > 0xff {
		return fmt.Errorf("dispatch.max_entries_per_fragment must be in [1, 255], got %d", d.MaxEntries)
	}
	if _, err := hex.DecodeString(padHex(d.RootSuffix)); err != nil || d.RootSuffix == "" {
		return fmt.Errorf("dispatch.root_suffix %q is not a hex suffix", d.RootSuffix)
	}
	if !d.MeshPrefix.IsValid() || !d.MeshPrefix.Addr().Is6() {
		return fmt.Errorf("dispatch.mesh_prefix %s must be an IPv6 prefix", d.MeshPrefix)
	}
	if d.MeshPrefix.Bits() > 64 {
		return fmt.Errorf("dispatch.mesh_prefix %s leaves no room for an interface identifier", d.MeshPrefix)
	}
	if d.Retries < 0 {
		return fmt.Errorf("dispatch.retries must not be negative")
	}
	if d.Parallelism <= 0 {
		return fmt.Errorf("dispatch.parallelism must be positive")
	}
	return nil
}

func padHex(s string) string {
	if len(s)%2 != 0 {
		return "0" + s
	}
	return s
}

func ConfigValidator(cfg *Cfg) error {
	if cfg.Topology.NodeTimeout <= 0 {
		return fmt.Errorf("topology.node_timeout must be positive")
	}
	if err := ScheduleValidator(&cfg.Schedule); err != nil {
		return err
	}
	if err := DispatchValidator(&cfg.Dispatch); err != nil {
		return err
	}
	if cfg.DebugAddr != "" {
		if err := BindValidator(cfg.DebugAddr); err != nil {
			return fmt.Errorf("debug_addr: %w", err)
		}
	}
	if cfg.Root.Dial != "" {
		if err := BindValidator(cfg.Root.Dial); err != nil {
			return fmt.Errorf("root.dial: %w", err)
		}
	}
	if cfg.LogPath != "" {
		if err := PathValidator(cfg.LogPath); err != nil {
			return fmt.Errorf("log_path: %w", err)
		}
	}
	return nil
}
