//go:build integration

package integration

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/weft/core"
	"github.com/encodeous/weft/state"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	coapNet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/pkg/runner/periodic"
	"github.com/plgd-dev/go-coap/v3/udp"
	"github.com/stretchr/testify/require"
)

// FakeMote serves the schedule resource of a mote on [::1].
type FakeMote struct {
	Code codes.Code

	mu       sync.Mutex
	received [][]byte
	conn     *coapNet.UDPConn
	stop     func()
	done     chan struct{}
	runner   chan struct{}
}

func NewFakeMote(t *testing.T, path string, code codes.Code) *FakeMote {
	m := &FakeMote{Code: code, done: make(chan struct{}), runner: make(chan struct{})}
	r := mux.NewRouter()
	err := r.Handle(path, mux.HandlerFunc(func(w mux.ResponseWriter, req *mux.Message) {
		body, err := req.ReadBody()
		if err == nil {
			m.mu.Lock()
			m.received = append(m.received, body)
			m.mu.Unlock()
		}
		_ = w.SetResponse(m.Code, message.TextPlain, nil)
	}))
	require.NoError(t, err)

	l, err := coapNet.NewListenUDP("udp6", "[::1]:0")
	require.NoError(t, err)
	m.conn = l
	s := udp.NewServer(options.WithMux(r), options.WithPeriodicRunner(periodic.New(m.runner, time.Second)))
	m.stop = s.Stop
	go func() {
		defer close(m.done)
		_ = s.Serve(l)
	}()
	return m
}

func (m *FakeMote) Port() uint16 {
	return uint16(m.conn.LocalAddr().(*net.UDPAddr).Port)
}

func (m *FakeMote) Received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.received...)
}

func (m *FakeMote) Close() {
	m.stop()
	<-m.done
	close(m.runner)
	_ = m.conn.Close()
}

// FakeBridge acknowledges every framed command written by the controller.
type FakeBridge struct {
	mu       sync.Mutex
	commands [][]byte
	l        net.Listener
	wg       sync.WaitGroup
}

func NewFakeBridge(t *testing.T) *FakeBridge {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	b := &FakeBridge{l: l}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				defer conn.Close()
				b.serve(conn)
			}()
		}
	}()
	return b
}

func (b *FakeBridge) serve(conn net.Conn) {
	for {
		header := make([]byte, 3)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		frame := make([]byte, 3+binary.BigEndian.Uint16(header[1:]))
		copy(frame, header)
		if _, err := io.ReadFull(conn, frame[3:]); err != nil {
			return
		}
		b.mu.Lock()
		b.commands = append(b.commands, frame)
		b.mu.Unlock()
		if _, err := conn.Write([]byte{0}); err != nil {
			return
		}
	}
}

func (b *FakeBridge) Addr() string {
	return b.l.Addr().String()
}

func (b *FakeBridge) Commands() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.commands...)
}

// Close stops accepting, live connections end once the controller hangs up.
func (b *FakeBridge) Close() {
	_ = b.l.Close()
	b.wg.Wait()
}

// Harness runs a full controller against a fake mote and a fake root bridge.
type Harness struct {
	Cfg    state.Cfg
	Mote   *FakeMote
	Bridge *FakeBridge

	cancel context.CancelFunc
	errs   chan error
}

func NewHarness(t *testing.T, code codes.Code) *Harness {
	h := &Harness{
		Mote:   NewFakeMote(t, state.CoapPath, code),
		Bridge: NewFakeBridge(t),
		errs:   make(chan error, 1),
	}
	cfg := state.DefaultCfg()
	cfg.CtlSocket = filepath.Join(t.TempDir(), "weft.sock")
	cfg.Schedule.Backoff = 50 * time.Millisecond
	cfg.Dispatch.MeshPrefix = netip.MustParsePrefix("::/64")
	cfg.Dispatch.CoapPort = h.Mote.Port()
	cfg.Dispatch.Timeout = time.Second
	cfg.Root.Dial = h.Bridge.Addr()
	require.NoError(t, state.ConfigValidator(&cfg))
	h.Cfg = cfg
	return h
}

func (h *Harness) Start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.errs <- core.Start(ctx, h.Cfg, slog.LevelDebug, "", nil)
	}()
	// wait until the root bridge is bound so no fragment races the dial
	require.Eventually(t, func() bool {
		out, err := core.CtlRequest(h.Cfg.CtlSocket, "inspect")
		return err == nil && !strings.Contains(out, "root bridge not bound")
	}, 5*time.Second, 10*time.Millisecond)
}

func (h *Harness) Ctl(t *testing.T, cmd string) string {
	res, err := core.CtlRequest(h.Cfg.CtlSocket, cmd)
	require.NoError(t, err)
	return res
}

func (h *Harness) Stop(t *testing.T) {
	h.cancel()
	select {
	case err := <-h.errs:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal(errors.New("controller did not stop"))
	}
	h.Mote.Close()
	h.Bridge.Close()
}
