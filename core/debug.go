package core

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/encodeous/weft/state"
)

// DebugServer exposes metrics, expvar and the current schedule over http.
type DebugServer struct {
	srv  *http.Server
	addr net.Addr
	done chan struct{}
}

// Addr is the address the server listens on, nil if it is disabled.
func (d *DebugServer) Addr() net.Addr {
	return d.addr
}

func (d *DebugServer) Init(s *state.State) error {
	if s.DebugAddr == "" {
		return nil
	}
	sch := Get[*Scheduler](s)
	mesh := Get[*Mesh](s)

	mux := http.NewServeMux()
	mux.Handle("/", http.DefaultServeMux)
	mux.HandleFunc("GET /schedule", func(w http.ResponseWriter, r *http.Request) {
		table := sch.Schedule()
		if table == nil {
			http.Error(w, "no schedule computed yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, table)
	})
	mux.HandleFunc("GET /topology", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, mesh.Snapshot())
	})

	l, err := net.Listen("tcp", s.DebugAddr)
	if err != nil {
		return err
	}
	d.addr = l.Addr()
	d.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	d.done = make(chan struct{})
	s.Log.Info("serving debug endpoints", "addr", l.Addr().String())
	go func() {
		defer close(d.done)
		err := d.srv.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Error("debug server failed", "error", err)
		}
	}()
	return nil
}

func (d *DebugServer) Cleanup(s *state.State) error {
	if d.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := d.srv.Shutdown(ctx)
	<-d.done
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
