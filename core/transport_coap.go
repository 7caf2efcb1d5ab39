package core

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/encodeous/weft/state"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/pkg/runner/periodic"
	"github.com/plgd-dev/go-coap/v3/udp"
)

// NodeTransport delivers one schedule fragment to a non-root mote.
type NodeTransport interface {
	Push(ctx context.Context, node state.Addr, payload []byte) error
}

// RootLink delivers schedule fragments to the root mote over its local
// command channel.
type RootLink interface {
	AddSchedule(ctx context.Context, payload []byte) error
	Close() error
}

// CoapTransport POSTs fragments to the schedule resource of each mote.
type CoapTransport struct {
	Prefix  netip.Prefix
	Port    uint16
	Path    string
	Retries int
	Timeout time.Duration
	Log     *slog.Logger
}

func NewCoapTransport(cfg state.DispatchCfg, log *slog.Logger) *CoapTransport {
	return &CoapTransport{
		Prefix:  cfg.MeshPrefix,
		Port:    cfg.CoapPort,
		Path:    cfg.CoapPath,
		Retries: cfg.Retries,
		Timeout: cfg.Timeout,
		Log:     log,
	}
}

func (c *CoapTransport) Target(node state.Addr) (string, error) {
	ip, err := node.IP(c.Prefix)
	if err != nil {
		return "", err
	}
	return netip.AddrPortFrom(ip, c.Port).String(), nil
}

func (c *CoapTransport) Push(ctx context.Context, node state.Addr, payload []byte) error {
	target, err := c.Target(node)
	if err != nil {
		return backoff.Permanent(err)
	}
	retry := backoff.WithMaxRetries(backoff.WithContext(backoff.NewExponentialBackOff(), ctx), uint64(c.Retries))
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.post(ctx, target, payload)
		if err != nil {
			c.Log.Debug("coap post failed", "node", node, "target", target, "attempt", attempt, "error", err)
		}
		return err
	}, retry)
}

func (c *CoapTransport) post(ctx context.Context, target string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	// the default runner outlives the connection by up to 4s
	co, err := udp.Dial(target, options.WithPeriodicRunner(periodic.New(ctx.Done(), time.Second)))
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer co.Close()
	resp, err := co.Post(ctx, c.Path, message.AppOctets, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("post coap://%s%s: %w", target, c.Path, err)
	}
	switch resp.Code() {
	case codes.Created, codes.Changed, codes.Content, codes.Valid:
		return nil
	case codes.BadRequest, codes.NotFound, codes.MethodNotAllowed, codes.RequestEntityTooLarge:
		return backoff.Permanent(fmt.Errorf("mote rejected schedule: %s", resp.Code()))
	default:
		return fmt.Errorf("unexpected response %s", resp.Code())
	}
}

// LogTransport only logs fragments, used for dry runs.
type LogTransport struct {
	Log *slog.Logger
}

func (l *LogTransport) Push(ctx context.Context, node state.Addr, payload []byte) error {
	l.Log.Info("dry run: fragment", "node", node, "len", len(payload), "payload", strconv.Quote(string(payload)))
	return nil
}

func (l *LogTransport) AddSchedule(ctx context.Context, payload []byte) error {
	l.Log.Info("dry run: root fragment", "len", len(payload), "payload", strconv.Quote(string(payload)))
	return nil
}

func (l *LogTransport) Close() error {
	return nil
}
