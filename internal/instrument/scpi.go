package instrument

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotmc/prologix"
	"github.com/gotmc/prologix/driver/vcp"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Transport selects how the Prologix controller is reached
type Transport string

const (
	TransportSerial Transport = "serial"
	TransportTCP    Transport = "tcp"
)

// prologixTCPPort is the fixed port of Prologix GPIB-ETHERNET controllers
const prologixTCPPort = "1234"

// Endpoint describes where a physical instrument is attached
type Endpoint struct {
	Transport   Transport
	Address     string // serial device path, or host[:port] for tcp
	GPIBAddress int
	Timeout     time.Duration
}

// SCPIGateway talks SCPI to a GPIB instrument through a Prologix controller
type SCPIGateway struct {
	name    string
	timeout time.Duration

	mu   sync.Mutex
	ctrl *prologix.Controller
	port io.Closer
	conn net.Conn // set for tcp transport, used for deadlines
}

// Dial opens the controller described by ep and addresses the instrument on it
func Dial(ctx context.Context, name string, ep Endpoint) (*SCPIGateway, error) {
	g := &SCPIGateway{name: name, timeout: ep.Timeout}

	var rw io.ReadWriter
	switch ep.Transport {
	case TransportSerial, "":
		port, err := vcp.NewVCP(ep.Address)
		if err != nil {
			return nil, g.wrap("open", ep.Address, err)
		}
		rw, g.port = port, port
	case TransportTCP:
		addr := ep.Address
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, prologixTCPPort)
		}
		var d net.Dialer
		if ep.Timeout > 0 {
			d.Timeout = ep.Timeout
		}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, g.wrap("open", addr, err)
		}
		rw, g.port, g.conn = conn, conn, conn
	default:
		return nil, g.wrap("open", ep.Address, fmt.Errorf("unsupported transport %q", ep.Transport))
	}

	ctrl, err := prologix.NewController(rw, ep.GPIBAddress, false)
	if err != nil {
		_ = g.port.Close()
		return nil, g.wrap("open", ep.Address, err)
	}
	g.ctrl = ctrl

	log.Info().
		Str("instrument", name).
		Str("transport", string(ep.Transport)).
		Str("address", ep.Address).
		Int("gpib", ep.GPIBAddress).
		Msg("Instrument connected")
	return g, nil
}

func (g *SCPIGateway) Name() string { return g.name }

func (g *SCPIGateway) WriteCommand(ctx context.Context, cmd string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.begin(ctx); err != nil {
		return g.wrap("write", cmd, err)
	}
	if err := g.ctrl.Command("%s", cmd); err != nil {
		return g.wrap("write", cmd, err)
	}
	log.Debug().Str("instrument", g.name).Str("cmd", cmd).Msg("SCPI write")
	return nil
}

func (g *SCPIGateway) QueryString(ctx context.Context, cmd string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.begin(ctx); err != nil {
		return "", g.wrap("query", cmd, err)
	}
	resp, err := g.ctrl.Query(cmd)
	// the controller reports a clean end of response as io.EOF
	if err != nil && !errors.Is(err, io.EOF) {
		return "", g.wrap("query", cmd, err)
	}
	return strings.TrimSpace(resp), nil
}

func (g *SCPIGateway) QueryFloat(ctx context.Context, cmd string) (float64, error) {
	resp, err := g.QueryString(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, g.wrap("query", cmd, fmt.Errorf("parse response %q: %w", resp, err))
	}
	return v, nil
}

func (g *SCPIGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.port == nil {
		return nil
	}
	err := g.port.Close()
	g.port = nil
	if err != nil {
		return g.wrap("close", "", err)
	}
	log.Info().Str("instrument", g.name).Msg("Instrument disconnected")
	return nil
}

// begin checks the context and arms the per-transaction deadline
func (g *SCPIGateway) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.port == nil {
		return errors.New("gateway closed")
	}
	if g.conn != nil && g.timeout > 0 {
		deadline := time.Now().Add(g.timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		return g.conn.SetDeadline(deadline)
	}
	return nil
}

func (g *SCPIGateway) wrap(op, cmd string, err error) error {
	return pkgerrors.WithStack(&GatewayError{Instrument: g.name, Op: op, Command: cmd, Err: err})
}
