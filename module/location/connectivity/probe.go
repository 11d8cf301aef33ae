package connectivity

import (
	"context"
	"net"
	"time"

	"PTracker/tools/errs"
)

// Prober answers one reachability question. Any error counts as unreachable.
type Prober interface {
	Probe(ctx context.Context) error
}

type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// LinkProber succeeds when at least one non-loopback interface is up.
type LinkProber struct {
	interfaces func() ([]net.Interface, error)
}

func NewLinkProber() *LinkProber {
	return &LinkProber{interfaces: net.Interfaces}
}

func (p *LinkProber) Probe(context.Context) error {
	ifs, err := p.interfaces()
	if err != nil {
		return err
	}
	for _, ifc := range ifs {
		if ifc.Flags&net.FlagUp != 0 && ifc.Flags&net.FlagLoopback == 0 {
			return nil
		}
	}
	return errs.ErrOffline.WrapMsg("no link")
}

// DialProber succeeds when a TCP connection to any of Targets opens within Timeout.
type DialProber struct {
	Targets []string
	Timeout time.Duration
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewDialProber(targets []string, timeout time.Duration) *DialProber {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	d := &net.Dialer{}
	return &DialProber{Targets: targets, Timeout: timeout, dial: d.DialContext}
}

func (p *DialProber) Probe(ctx context.Context) error {
	if len(p.Targets) == 0 {
		return nil
	}
	var lastErr error
	for _, addr := range p.Targets {
		dctx, cancel := context.WithTimeout(ctx, p.Timeout)
		c, err := p.dial(dctx, "tcp", addr)
		cancel()
		if err == nil {
			_ = c.Close()
			return nil
		}
		lastErr = err
	}
	return errs.WrapMsg(lastErr, "no dial target reachable")
}

// StateProber adapts a connection-state getter such as NatsManager.IsConnected
// or MongoManager.Connected.
func StateProber(name string, connected func() bool) Prober {
	return ProberFunc(func(context.Context) error {
		if connected() {
			return nil
		}
		return errs.ErrOffline.WrapMsg("not connected", "backend", name)
	})
}
