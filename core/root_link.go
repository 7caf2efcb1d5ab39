package core

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/encodeous/weft/state"
)

var (
	ErrRootUnbound    = errors.New("no root link bound")
	ErrRootLinkBroken = errors.New("root link broken, bind the root bridge again")
)

// StreamRootLink writes framed commands to the serial bridge of the root mote:
// [command][length u16 be][payload]. The bridge answers every frame with a
// single status byte, 0 meaning success.
type StreamRootLink struct {
	mu     sync.Mutex
	conn   io.ReadWriteCloser
	broken error

	closeOnce sync.Once
	closeErr  error
}

func NewStreamRootLink(conn io.ReadWriteCloser) *StreamRootLink {
	return &StreamRootLink{conn: conn}
}

func DialRootLink(ctx context.Context, addr string) (*StreamRootLink, error) {
	d := net.Dialer{Timeout: state.RootDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial root bridge %s: %w", addr, err)
	}
	return NewStreamRootLink(conn), nil
}

func EncodeRootCommand(cmd byte, payload []byte) ([]byte, error) {
	if len(payload) > 0xffff {
		return nil, fmt.Errorf("root command payload too large: %d", len(payload))
	}
	frame := make([]byte, 3, 3+len(payload))
	frame[0] = cmd
	binary.BigEndian.PutUint16(frame[1:], uint16(len(payload)))
	return append(frame, payload...), nil
}

// AddSchedule sends one fragment and waits for the bridge status. Cancelling
// ctx interrupts a pending exchange, after which the link is unusable.
func (l *StreamRootLink) AddSchedule(ctx context.Context, payload []byte) error {
	frame, err := EncodeRootCommand(state.RootAddSchedule, payload)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.broken != nil {
		return l.broken
	}
	if conn, ok := l.conn.(net.Conn); ok {
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}
		var dmu sync.Mutex
		finished := false
		stop := context.AfterFunc(ctx, func() {
			dmu.Lock()
			defer dmu.Unlock()
			if !finished {
				_ = conn.SetDeadline(time.Now())
			}
		})
		defer func() {
			dmu.Lock()
			finished = true
			dmu.Unlock()
			stop()
			_ = conn.SetDeadline(time.Time{})
		}()
	}
	status, err := l.exchange(frame)
	if err != nil {
		// a late status byte would be taken as the answer to the next frame
		l.broken = fmt.Errorf("%w: %w", ErrRootLinkBroken, err)
		return err
	}
	if status != 0 {
		return fmt.Errorf("root rejected schedule, status %d", status)
	}
	return nil
}

func (l *StreamRootLink) exchange(frame []byte) (byte, error) {
	if _, err := l.conn.Write(frame); err != nil {
		return 0, fmt.Errorf("write root command: %w", err)
	}
	status := make([]byte, 1)
	if _, err := io.ReadFull(l.conn, status); err != nil {
		return 0, fmt.Errorf("read root status: %w", err)
	}
	return status[0], nil
}

// Close may be called while a fragment is in flight, which interrupts it.
func (l *StreamRootLink) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}
