package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/encodeous/weft/state"
)

// CtlServer accepts line based commands on a unix socket. Every response is
// terminated by a NUL byte.
type CtlServer struct {
	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
}

func (c *CtlServer) Init(s *state.State) error {
	if s.CtlSocket == "" {
		return nil
	}
	_ = os.Remove(s.CtlSocket)
	l, err := net.Listen("unix", s.CtlSocket)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.CtlSocket, err)
	}
	c.listener = l
	c.conns = make(map[net.Conn]struct{})
	s.Log.Info("listening for control commands", "socket", s.CtlSocket)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.Log.Warn("ctl accept failed", "error", err)
				}
				return
			}
			if !c.track(conn) {
				_ = conn.Close()
				return
			}
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				defer c.untrack(conn)
				rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
				for s.Context.Err() == nil {
					err := HandleCtl(s.Env, rw)
					if err != nil {
						if !errors.Is(err, io.EOF) {
							s.Log.Debug("ctl connection closed", "error", err)
						}
						return
					}
				}
			}()
		}
	}()
	ctx := s.Context
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-ctx.Done()
		c.closeAll()
	}()
	return nil
}

func (c *CtlServer) track(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conns == nil {
		return false
	}
	c.conns[conn] = struct{}{}
	return true
}

func (c *CtlServer) untrack(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = conn.Close()
	delete(c.conns, conn)
}

// closeAll stops accepting and drops every open connection.
func (c *CtlServer) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.listener.Close()
	for conn := range c.conns {
		_ = conn.Close()
	}
	c.conns = nil
}

func (c *CtlServer) Cleanup(s *state.State) error {
	if c.listener == nil {
		return nil
	}
	c.closeAll()
	c.wg.Wait()
	_ = os.Remove(s.CtlSocket)
	return nil
}

// CtlRequest sends a single command to a running controller and returns its
// response.
func CtlRequest(socket, cmd string) (string, error) {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	_, err = rw.WriteString(strings.TrimSpace(cmd) + "\n")
	if err != nil {
		return "", err
	}
	err = rw.Flush()
	if err != nil {
		return "", err
	}
	res, err := rw.ReadString(0)
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSuffix(res, "\x00"), nil
}

// HandleCtl reads one command from rw and writes its response.
func HandleCtl(e *state.Env, rw *bufio.ReadWriter) error {
	line, err := rw.ReadString('\n')
	if err != nil {
		return err
	}
	args := strings.Fields(line)
	var res any
	if len(args) > 0 && args[0] == "bind-root" {
		res, err = bindRootCommand(e, args)
	} else {
		res, err = e.DispatchWait(func(s *state.State) (any, error) {
			out, err := RunCtlCommand(s, args)
			if err != nil {
				return "error: " + err.Error() + "\n", nil
			}
			return out, nil
		})
	}
	if err != nil {
		return err
	}
	_, err = rw.WriteString(res.(string))
	if err != nil {
		return err
	}
	err = rw.WriteByte(0)
	if err != nil {
		return err
	}
	return rw.Flush()
}

// bindRootCommand dials the root bridge off the main loop, only the link swap
// is dispatched.
func bindRootCommand(e *state.Env, args []string) (any, error) {
	if len(args) != 2 {
		return "error: usage: bind-root <host:port>\n", nil
	}
	dial, err := e.DispatchWait(func(s *state.State) (any, error) {
		return Get[*Scheduler](s).Dial, nil
	})
	if err != nil {
		return nil, err
	}
	link, err := dial.(func(context.Context, string) (RootLink, error))(e.Context, args[1])
	if err != nil {
		return "error: " + err.Error() + "\n", nil
	}
	res, err := e.DispatchWait(func(s *state.State) (any, error) {
		if err := Get[*Scheduler](s).BindRoot(link); err != nil {
			s.Log.Warn("failed to close previous root link", "error", err)
		}
		s.Log.Info("bound root bridge", "addr", args[1])
		return "ok\n", nil
	})
	if err != nil {
		_ = link.Close()
	}
	return res, err
}

// RunCtlCommand executes a control command. Must run on the main loop.
func RunCtlCommand(s *state.State, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("empty command")
	}
	mesh := Get[*Mesh](s)
	sch := Get[*Scheduler](s)
	switch args[0] {
	case "report":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: report <node> [parents...]")
		}
		node, err := state.ParseAddr(args[1])
		if err != nil {
			return "", err
		}
		parents, err := state.ParseAddrs(args[2:])
		if err != nil {
			return "", err
		}
		changed := mesh.ReportParents(node, parents)
		return fmt.Sprintf("ok changed=%t\n", changed), nil
	case "schedule":
		table := sch.Schedule()
		if table == nil {
			return "no schedule computed yet\n", nil
		}
		return fmt.Sprintf("epoch %d, %s, feasible=%t, %d entries\n%s",
			table.Epoch, table.Algorithm, table.Feasible, len(table.Entries), table.Format()), nil
	case "recompute":
		sch.Recompute()
		return "ok\n", nil
	case "inspect":
		return inspect(mesh, sch), nil
	default:
		return "", fmt.Errorf("unknown command %s", args[0])
	}
}

func inspect(mesh *Mesh, sch *Scheduler) string {
	sb := strings.Builder{}
	sb.WriteString("Engine:\n")
	if st, ok := sch.Status(); ok {
		sb.WriteString(fmt.Sprintf(" - state %s, epoch %d, pending %d, computed %d, passes %d\n",
			st.State, st.Epoch, st.PendingEpoch, st.ComputedEpoch, st.Passes))
	} else {
		sb.WriteString(" - stopped\n")
	}
	if sch.Dispatcher.Root() == nil {
		sb.WriteString(" - root bridge not bound\n")
	}

	sb.WriteString("\nTopology:\n")
	seen := mesh.LastSeen()
	rt := make([]string, 0)
	for node, parents := range mesh.Parents() {
		ps := make([]string, 0, len(parents))
		for _, p := range parents {
			ps = append(ps, p.String())
		}
		rt = append(rt, fmt.Sprintf(" - %s -> [%s] seen %s", node, strings.Join(ps, ", "), seen[node].Format("15:04:05")))
	}
	if len(rt) == 0 {
		rt = append(rt, " (none)")
	}
	slices.Sort(rt)
	sb.WriteString(strings.Join(rt, "\n") + "\n")

	sb.WriteString("\nDeliveries:\n")
	rt = make([]string, 0)
	for node, item := range sch.Dispatcher.Deliveries.Items() {
		rt = append(rt, fmt.Sprintf(" - %s: %s", node, item.Value()))
	}
	if len(rt) == 0 {
		rt = append(rt, " (none)")
	}
	slices.Sort(rt)
	sb.WriteString(strings.Join(rt, "\n") + "\n")
	return sb.String()
}
