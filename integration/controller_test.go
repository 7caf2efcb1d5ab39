//go:build integration

package integration

import (
	"bytes"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	moteAddr = "0000:0000:0000:0001" // ::1 inside ::/64
	rootAddr = "0000:0000:0000:0088"
)

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("os/signal.signal_recv"))
	h := NewHarness(t, codes.Changed)
	h.Start(t)
	assert.Contains(t, h.Ctl(t, "schedule"), "no schedule computed yet")
	h.Stop(t)
}

func TestSchedulePushed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("os/signal.signal_recv"))
	h := NewHarness(t, codes.Changed)
	h.Start(t)
	defer h.Stop(t)

	assert.Equal(t, "ok changed=true\n", h.Ctl(t, "report "+moteAddr+" "+rootAddr))

	require.Eventually(t, func() bool {
		return len(h.Mote.Received()) == 1 && len(h.Bridge.Commands()) == 1
	}, 10*time.Second, 10*time.Millisecond)

	// the mote transmits to the root in the first slot
	assert.Equal(t, []byte{0x80, 1, 4, 0, 0x40, 0, 0, 0, 0, 0, 0, 0, 0x88}, h.Mote.Received()[0])
	// and the root listens for it
	assert.Equal(t, []byte{0x0d, 0, 13, 0x80, 1, 4, 0, 0x00, 0, 0, 0, 0, 0, 0, 0, 0x01}, h.Bridge.Commands()[0])

	out := h.Ctl(t, "inspect")
	assert.Contains(t, out, rootAddr+": root epoch 1: 1/1 fragments")
	assert.Contains(t, out, moteAddr+": node epoch 1: 1/1 fragments")
}

func TestUnchangedReportDoesNotRedistribute(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("os/signal.signal_recv"))
	h := NewHarness(t, codes.Changed)
	h.Start(t)
	defer h.Stop(t)

	h.Ctl(t, "report "+moteAddr+" "+rootAddr)
	require.Eventually(t, func() bool {
		return len(h.Mote.Received()) == 1
	}, 10*time.Second, 10*time.Millisecond)

	assert.Equal(t, "ok changed=false\n", h.Ctl(t, "report "+moteAddr+" "+rootAddr))
	time.Sleep(5 * h.Cfg.Schedule.Backoff)
	assert.Len(t, h.Mote.Received(), 1)
	assert.Len(t, h.Bridge.Commands(), 1)
}

func TestRejectedFragmentIsNotRetried(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("os/signal.signal_recv"))
	h := NewHarness(t, codes.BadRequest)
	h.Start(t)
	defer h.Stop(t)

	h.Ctl(t, "report "+moteAddr+" "+rootAddr)
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(h.Ctl(t, "inspect")), []byte("mote rejected schedule"))
	}, 10*time.Second, 10*time.Millisecond)

	assert.Len(t, h.Mote.Received(), 1)
	// the root is unaffected by the failed mote
	assert.Len(t, h.Bridge.Commands(), 1)
}
