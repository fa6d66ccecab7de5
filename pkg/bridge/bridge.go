// Package bridge exposes a browser wallet (MetaMask or any injected
// window.ethereum) to walletsync. A small page served by the bridge relays
// requests and events between the page's provider and a websocket.
package bridge

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"walletsync/pkg/logger"
	"walletsync/pkg/provider"
)

//go:embed static
var staticFiles embed.FS

// ErrNoWallet is returned by the probe when the browser has no injected provider.
var ErrNoWallet = errors.New("browser has no wallet provider")

// Frame types exchanged with the page.
const (
	FrameHello    = "hello"
	FrameRequest  = "request"
	FrameResponse = "response"
	FrameEvent    = "event"
)

// Frame is one websocket message in either direction.
type Frame struct {
	Type        string             `json:"type"`
	ID          string             `json:"id,omitempty"`
	Method      string             `json:"method,omitempty"`
	Params      []any              `json:"params,omitempty"`
	Result      json.RawMessage    `json:"result,omitempty"`
	Error       *provider.RPCError `json:"error,omitempty"`
	Name        string             `json:"name,omitempty"`
	Data        json.RawMessage    `json:"data,omitempty"`
	HasProvider bool               `json:"hasProvider,omitempty"`
	IsMetaMask  bool               `json:"isMetaMask,omitempty"`
}

// Hello is what the page reported about its environment.
type Hello struct {
	HasProvider bool `json:"hasProvider"`
	IsMetaMask  bool `json:"isMetaMask"`
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

type pendingRequest struct {
	owner *client
	reply chan Frame
}

// Bridge is a provider.Provider whose wallet lives in a browser tab. Only one
// tab is attached at a time; a newer tab replaces the older one.
type Bridge struct {
	provider.Emitter

	upgrader websocket.Upgrader
	log      *log.Logger

	mu        sync.Mutex
	current   *client
	hello     Hello
	helloCh   chan struct{}
	helloOnce sync.Once
	pending   map[string]pendingRequest
}

var _ provider.Provider = (*Bridge)(nil)

// New returns a bridge with no browser attached.
func New() *Bridge {
	return &Bridge{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     logger.For("bridge"),
		helloCh: make(chan struct{}),
		pending: make(map[string]pendingRequest),
	}
}

// Handler serves the relay page at "/" and the websocket at "/ws".
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	page, _ := fs.Sub(staticFiles, "static")
	mux.HandleFunc("/ws", b.handleWS)
	mux.Handle("/", http.FileServer(http.FS(page)))
	return mux
}

// Probe waits up to timeout (0 means until ctx is done) for a browser to
// attach, and reports the bridge as present only if that browser has a wallet.
func (b *Bridge) Probe(timeout time.Duration) provider.Probe {
	return func(ctx context.Context) (provider.Provider, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		select {
		case <-b.helloCh:
		case <-ctx.Done():
			return nil, fmt.Errorf("no browser attached: %w", ctx.Err())
		}
		if !b.Hello().HasProvider {
			return nil, ErrNoWallet
		}
		return b, nil
	}
}

// Hello returns the latest environment report from the page.
func (b *Bridge) Hello() Hello {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hello
}

// Attached reports whether a browser tab is currently connected.
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil
}

func (b *Bridge) IsMetaMask() bool {
	return b.Hello().IsMetaMask
}

// Request relays req to the attached page and waits for its answer.
func (b *Bridge) Request(ctx context.Context, req provider.Request) (json.RawMessage, error) {
	b.mu.Lock()
	c := b.current
	if c == nil {
		b.mu.Unlock()
		return nil, provider.ErrProviderGone
	}
	id := uuid.NewString()
	reply := make(chan Frame, 1)
	b.pending[id] = pendingRequest{owner: c, reply: reply}
	b.mu.Unlock()

	if err := c.write(Frame{Type: FrameRequest, ID: id, Method: req.Method(), Params: req.Params()}); err != nil {
		b.forget(id)
		return nil, fmt.Errorf("send %s: %w", req.Method(), err)
	}
	b.log.Debug("request sent", "id", id, "method", req.Method())

	select {
	case f := <-reply:
		if f.Error != nil {
			return nil, f.Error
		}
		if f.Result == nil {
			return json.RawMessage("null"), nil
		}
		return f.Result, nil
	case <-ctx.Done():
		b.forget(id)
		return nil, ctx.Err()
	}
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn}
	b.attach(c)
	defer b.detach(c)

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.log.Debug("browser read ended", "err", err)
			}
			return
		}
		b.dispatch(c, f)
	}
}

func (b *Bridge) attach(c *client) {
	b.mu.Lock()
	old := b.current
	b.current = c
	b.mu.Unlock()

	if old != nil {
		b.log.Info("newer browser tab attached, dropping the previous one")
		b.failPending(old)
		_ = old.conn.Close()
	}
	b.log.Info("browser attached")
}

func (b *Bridge) detach(c *client) {
	_ = c.conn.Close()
	b.mu.Lock()
	if b.current == c {
		b.current = nil
	}
	b.mu.Unlock()
	b.failPending(c)
}

// failPending answers every request owned by c with a disconnected error.
func (b *Bridge) failPending(c *client) {
	gone := &provider.RPCError{Code: provider.CodeDisconnected, Message: "browser detached"}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, p := range b.pending {
		if p.owner == c {
			p.reply <- Frame{Type: FrameResponse, ID: id, Error: gone}
			delete(b.pending, id)
		}
	}
}

func (b *Bridge) dispatch(c *client, f Frame) {
	switch f.Type {
	case FrameHello:
		b.mu.Lock()
		if b.current == c {
			b.hello = Hello{HasProvider: f.HasProvider, IsMetaMask: f.IsMetaMask}
		}
		b.mu.Unlock()
		b.helloOnce.Do(func() { close(b.helloCh) })
		b.log.Info("browser hello", "hasProvider", f.HasProvider, "metamask", f.IsMetaMask)

	case FrameResponse:
		b.mu.Lock()
		p, ok := b.pending[f.ID]
		if ok && p.owner == c {
			delete(b.pending, f.ID)
		}
		b.mu.Unlock()
		if !ok || p.owner != c {
			b.log.Debug("response for unknown request", "id", f.ID)
			return
		}
		p.reply <- f

	case FrameEvent:
		name := provider.EventName(f.Name)
		if name != provider.EventAccountsChanged && name != provider.EventChainChanged {
			b.log.Debug("ignoring browser event", "name", f.Name)
			return
		}
		b.mu.Lock()
		live := b.current == c
		b.mu.Unlock()
		if !live {
			return
		}
		if b.HandlerCount(name) == 0 {
			b.log.Debug("browser event has no subscribers", "name", name)
		}
		b.Emit(name, f.Data)

	default:
		b.log.Warn("unknown frame from browser", "type", f.Type)
	}
}
