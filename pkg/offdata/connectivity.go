package offdata

import (
	"context"
	"net"
	"sync"
	"time"
)

// Connectivity is the external online/offline signal source. A browser
// host fires window "online"/"offline" events; outside a browser there is
// no such event, so implementations either poll a real signal
// (PollingConnectivity) or are driven entirely by a manual override
// (ManualConnectivity).
type Connectivity interface {
	// IsOnline reports the current connectivity state.
	IsOnline() bool

	// OnOffline registers fn to run on every online->offline edge.
	OnOffline(fn func()) Unsubscribe

	// OnOnline registers fn to run on every offline->online edge.
	OnOnline(fn func()) Unsubscribe

	// SetOnline manually overrides the state, firing edge callbacks only
	// when the state actually changes.
	SetOnline(online bool)
}

// ManualConnectivity is the default Connectivity: a host with no window
// events at all, entirely driven by SetOnline. The zero value starts
// offline; NewManualConnectivity chooses the starting state.
type ManualConnectivity struct {
	mu       sync.Mutex
	online   bool
	onOnline []*listenerEntry
	offline  []*listenerEntry
	nextID   uint64
}

// NewManualConnectivity creates a ManualConnectivity starting in the given
// state.
func NewManualConnectivity(startOnline bool) *ManualConnectivity {
	return &ManualConnectivity{online: startOnline}
}

func (c *ManualConnectivity) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *ManualConnectivity) OnOnline(fn func()) Unsubscribe {
	return c.subscribe(&c.onOnline, fn)
}

func (c *ManualConnectivity) OnOffline(fn func()) Unsubscribe {
	return c.subscribe(&c.offline, fn)
}

func (c *ManualConnectivity) subscribe(list *[]*listenerEntry, fn func()) Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	wrapped := func(any) { fn() }
	*list = append(*list, &listenerEntry{id: id, fn: wrapped})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range *list {
			if e.id == id {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

func (c *ManualConnectivity) SetOnline(online bool) {
	c.mu.Lock()
	wasOnline := c.online
	c.online = online
	var toFire []*listenerEntry
	if online && !wasOnline {
		toFire = append(toFire, c.onOnline...)
	} else if !online && wasOnline {
		toFire = append(toFire, c.offline...)
	}
	c.mu.Unlock()

	for _, e := range toFire {
		e.fn(nil)
	}
}

// PollingConnectivity layers a real reachability signal on top of
// ManualConnectivity by periodically dialing a known-reachable host,
// pushing the result through SetOnline. Used by hosts with no native
// connectivity events (the usual case outside a browser) that still want
// something better than a purely manual toggle.
type PollingConnectivity struct {
	*ManualConnectivity
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
	target   string
	interval time.Duration
	cancel   context.CancelFunc
}

// NewPollingConnectivity creates a PollingConnectivity that dials target
// (host:port) every interval to determine reachability. Call Start to
// begin polling and Stop to release the background goroutine.
func NewPollingConnectivity(target string, interval time.Duration) *PollingConnectivity {
	return &PollingConnectivity{
		ManualConnectivity: NewManualConnectivity(true),
		dial:               (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
		target:             target,
		interval:           interval,
	}
}

// Start begins the background polling loop.
func (p *PollingConnectivity) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.loop(ctx)
}

// Stop halts the background polling loop.
func (p *PollingConnectivity) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *PollingConnectivity) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn, err := p.dial(ctx, "tcp", p.target)
			if err == nil {
				conn.Close()
			}
			p.SetOnline(err == nil)
		}
	}
}
