package state

import "time"

const (
	// fragment markers and record direction tags understood by the mote firmware
	FragmentFirst        = 0x80
	FragmentContinuation = 0x00
	DirTx                = 0x40
	DirRx                = 0x00

	// MaxChannelOffsets is the number of IEEE 802.15.4 channels TSCH hops over
	MaxChannelOffsets = 16
	// MaxSlotOffset is the largest slot offset representable in a schedule record
	MaxSlotOffset = 0xff
)

var (
	NodeTimeout = time.Second * 300
	// RecomputeBackoff is the time we wait for newer DAOs before computing a schedule
	RecomputeBackoff = time.Second * 15

	DefaultSlotCount    = 5
	DefaultSlotStart    = 4
	DefaultChannelCount = 16
	DefaultAlgorithm    = "tasa"

	MaxEntriesPerFragment = 10
	DispatchParallelism   = 8
	DeliveryLogTTL        = time.Minute * 10

	DefaultRootSuffix = "88"
	DefaultMeshPrefix = "bbbb::/64"
	CoapPort          = uint16(5683)
	CoapPath          = "/green"
	CoapRetries       = 2
	CoapTimeout       = time.Second * 5

	// root command issued to the border router to install schedule cells
	RootAddSchedule = byte(0x0d)
	RootDialTimeout = time.Second * 5

	EngineQueueSize   = 128
	SlowDispatchDelay = time.Millisecond * 50

	DefaultCtlSocket = "/var/run/weft.sock"
	DefaultCfgPath   = "weft.yaml"
)
