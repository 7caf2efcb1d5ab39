package state

import (
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

type TopologyCfg struct {
	NodeTimeout time.Duration `yaml:"node_timeout,omitempty"` // nodes not reconfirmed within this window are dropped
}

type ScheduleCfg struct {
	Algorithm    string        `yaml:"algorithm,omitempty"` // tasa or firstfit
	Backoff      time.Duration `yaml:"backoff,omitempty"`   // debounce window before recomputing
	SlotCount    int           `yaml:"slot_count,omitempty"`
	SlotStart    *int          `yaml:"slot_start"` // nil means the default, 0 is a valid offset
	ChannelCount int           `yaml:"channel_count,omitempty"`
}

type DispatchCfg struct {
	MaxEntries  int           `yaml:"max_entries_per_fragment,omitempty"`
	RootSuffix  string        `yaml:"root_suffix,omitempty"` // address suffix identifying the border router mote
	MeshPrefix  netip.Prefix  `yaml:"mesh_prefix,omitempty"` // prefix the mote interface identifiers live in
	CoapPort    uint16        `yaml:"coap_port,omitempty"`
	CoapPath    string        `yaml:"coap_path,omitempty"`
	Retries     int           `yaml:"retries,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Parallelism int           `yaml:"parallelism,omitempty"`
	DryRun      bool          `yaml:"dry_run,omitempty"` // log fragments instead of sending them
}

type RootCfg struct {
	Dial string `yaml:"dial,omitempty"` // tcp address of the serial bridge connected to the root mote
}

// Cfg is the controller configuration
type Cfg struct {
	CtlSocket string      `yaml:"ctl_socket,omitempty"` // unix socket accepting reports and queries
	DebugAddr string      `yaml:"debug_addr,omitempty"` // if not empty, serves metrics and the schedule over http
	LogPath   string      `yaml:"log_path,omitempty"`   // if not empty, weft will also write to this file
	Topology  TopologyCfg `yaml:"topology,omitempty"`
	Schedule  ScheduleCfg `yaml:"schedule,omitempty"`
	Dispatch  DispatchCfg `yaml:"dispatch,omitempty"`
	Root      RootCfg     `yaml:"root,omitempty"`
}

// ApplyDefaults fills every unset field with its default value
func ApplyDefaults(cfg *Cfg) {
	if cfg.CtlSocket == "" {
		cfg.CtlSocket = DefaultCtlSocket
	}
	if cfg.Topology.NodeTimeout == 0 {
		cfg.Topology.NodeTimeout = NodeTimeout
	}
	s := &cfg.Schedule
	if s.Algorithm == "" {
		s.Algorithm = DefaultAlgorithm
	}
	if s.Backoff == 0 {
		s.Backoff = RecomputeBackoff
	}
	if s.SlotCount == 0 {
		s.SlotCount = DefaultSlotCount
	}
	if s.SlotStart == nil {
		start := DefaultSlotStart
		s.SlotStart = &start
	}
	if s.ChannelCount == 0 {
		s.ChannelCount = DefaultChannelCount
	}
	d := &cfg.Dispatch
	if d.MaxEntries == 0 {
		d.MaxEntries = MaxEntriesPerFragment
	}
	if d.RootSuffix == "" {
		d.RootSuffix = DefaultRootSuffix
	}
	if !d.MeshPrefix.IsValid() {
		d.MeshPrefix = netip.MustParsePrefix(DefaultMeshPrefix)
	}
	if d.CoapPort == 0 {
		d.CoapPort = CoapPort
	}
	if d.CoapPath == "" {
		d.CoapPath = CoapPath
	}
	if d.Retries == 0 {
		d.Retries = CoapRetries
	}
	if d.Timeout == 0 {
		d.Timeout = CoapTimeout
	}
	if d.Parallelism == 0 {
		d.Parallelism = DispatchParallelism
	}
}

func DefaultCfg() Cfg {
	cfg := Cfg{}
	ApplyDefaults(&cfg)
	return cfg
}

// ReadConfig loads the configuration from a path or a file:/http(s) url
func ReadConfig(location string) (*Cfg, error) {
	body, err := fetch(location)
	if err != nil {
		return nil, err
	}
	var cfg Cfg
	err = yaml.Unmarshal(body, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", location, err)
	}
	ApplyDefaults(&cfg)
	err = ConfigValidator(&cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", location, err)
	}
	return &cfg, nil
}

func WriteConfig(path string, cfg *Cfg) error {
	bytes, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, bytes, 0600)
}

func fetch(location string) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" {
		return os.ReadFile(location)
	}
	switch u.Scheme {
	case "file":
		p := u.Opaque
		if p == "" {
			p = u.Path
		}
		file, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", p, err)
		}
		return file, nil
	case "http", "https":
		res, err := http.Get(u.String())
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", u.String(), err)
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("failed to fetch %s: %s", u.String(), res.Status)
		}
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response from %s: %w", u.String(), err)
		}
		return body, nil
	default:
		// windows style paths and the like
		return os.ReadFile(location)
	}
}

// TopologyFile is an offline description of a mesh, keyed by child address.
type TopologyFile struct {
	Parents map[string][]string `yaml:"parents"`
}

func ReadTopologyFile(path string) (map[Addr][]Addr, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf TopologyFile
	err = yaml.Unmarshal(body, &tf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse topology %s: %w", path, err)
	}
	out := make(map[Addr][]Addr, len(tf.Parents))
	for child, parents := range tf.Parents {
		c, err := ParseAddr(child)
		if err != nil {
			return nil, err
		}
		ps, err := ParseAddrs(parents)
		if err != nil {
			return nil, fmt.Errorf("parents of %s: %w", c, err)
		}
		out[c] = ps
	}
	return out, nil
}
