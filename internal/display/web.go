package display

import (
	"bytes"
	"context"
	"crypto/subtle"
	_ "embed"
	"errors"
	"html/template"
	"image"
	"image/png"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
)

//go:embed page.html
var pageHTML string

var pageTemplate = template.Must(template.New("page").Parse(pageHTML))

// WebConfig holds browser display settings.
type WebConfig struct {
	Listen   string
	Username string // HTTP Basic Auth username (empty = no auth).
	Password string // HTTP Basic Auth password (empty = no auth).
	Title    string
	Width    int
	Height   int
}

// FrameMessage is pushed to websocket clients for every shown frame.
type FrameMessage struct {
	Type   string `json:"type"`
	Seq    uint64 `json:"seq"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Web serves the latest frame to browsers. GET / is a viewer page, GET
// /frame the current PNG and GET /ws a stream of FrameMessage notifications.
type Web struct {
	cfg        WebConfig
	httpServer *http.Server
	logger     zerolog.Logger
	hub        *frameHub

	mu    sync.RWMutex
	png   []byte
	frame FrameMessage

	closed    chan struct{}
	closeOnce sync.Once
}

var _ Surface = (*Web)(nil)

// NewWeb creates a web surface. If cfg.Username and cfg.Password are both
// set, every route requires HTTP Basic Auth.
func NewWeb(cfg WebConfig, logger zerolog.Logger) *Web {
	w := &Web{
		cfg:    cfg,
		logger: logger.With().Str("component", "web").Logger(),
		hub:    newFrameHub(),
		closed: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", w.handlePage)
	mux.HandleFunc("GET /frame", w.handleFrame)
	mux.HandleFunc("GET /ws", w.handleWS)

	w.httpServer = &http.Server{
		Handler:           w.securityMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return w
}

// Handler returns the HTTP handler, including auth.
func (w *Web) Handler() http.Handler { return w.httpServer.Handler }

// Show encodes img as PNG, stores it as the current frame and notifies
// connected clients.
func (w *Web) Show(img image.Image) error {
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}

	if w.cfg.Width > 0 && w.cfg.Height > 0 {
		img = Fit(img, w.cfg.Width, w.cfg.Height)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}

	b := img.Bounds()
	w.mu.Lock()
	w.png = buf.Bytes()
	w.frame = FrameMessage{Type: "frame", Seq: w.frame.Seq + 1, Width: b.Dx(), Height: b.Dy()}
	msg := w.frame
	w.mu.Unlock()

	w.hub.Publish(msg)
	return nil
}

// Closed is closed by Shutdown.
func (w *Web) Closed() <-chan struct{} { return w.closed }

// Start listens on cfg.Listen and serves until Shutdown.
func (w *Web) Start() error {
	ln, err := net.Listen("tcp", w.cfg.Listen)
	if err != nil {
		return err
	}
	w.logger.Info().Str("listen", ln.Addr().String()).Msg("web display listening")
	if err := w.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects websocket clients and stops the HTTP server.
func (w *Web) Shutdown(ctx context.Context) error {
	w.closeOnce.Do(func() { close(w.closed) })
	return w.httpServer.Shutdown(ctx)
}

func (w *Web) securityMiddleware(next http.Handler) http.Handler {
	authEnabled := w.cfg.Username != "" && w.cfg.Password != ""
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("X-Content-Type-Options", "nosniff")
		rw.Header().Set("X-Frame-Options", "DENY")

		if authEnabled {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(w.cfg.Username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(w.cfg.Password)) != 1 {
				rw.Header().Set("WWW-Authenticate", `Basic realm="kodiview"`)
				http.Error(rw, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(rw, r)
	})
}

func (w *Web) handlePage(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(rw, struct{ Title string }{w.cfg.Title}); err != nil {
		w.logger.Error().Err(err).Msg("render page")
	}
}

func (w *Web) handleFrame(rw http.ResponseWriter, r *http.Request) {
	w.mu.RLock()
	data, seq := w.png, w.frame.Seq
	w.mu.RUnlock()

	if data == nil {
		http.Error(rw, "no frame yet", http.StatusNotFound)
		return
	}
	rw.Header().Set("Content-Type", "image/png")
	rw.Header().Set("Content-Length", strconv.Itoa(len(data)))
	rw.Header().Set("Cache-Control", "no-store")
	rw.Header().Set("X-Frame-Seq", strconv.FormatUint(seq, 10))
	rw.Write(data)
}

func (w *Web) handleWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(rw, r, nil)
	if err != nil {
		w.logger.Warn().Err(err).Msg("websocket accept")
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	// Clients never send anything; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	ch, unsubscribe := w.hub.Subscribe()
	defer unsubscribe()

	w.mu.RLock()
	current := w.frame
	w.mu.RUnlock()
	var sent uint64
	if current.Seq > 0 {
		if err := w.push(ctx, conn, current); err != nil {
			return
		}
		sent = current.Seq
	}

	w.logger.Debug().Str("remote", r.RemoteAddr).Int("clients", w.hub.Len()).Msg("websocket connected")
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.closed:
			_ = conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		case msg := <-ch:
			if msg.Seq <= sent {
				continue
			}
			sent = msg.Seq
			if err := w.push(ctx, conn, msg); err != nil {
				w.logger.Debug().Err(err).Msg("websocket write")
				return
			}
		}
	}
}

func (w *Web) push(ctx context.Context, conn *websocket.Conn, msg FrameMessage) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

// frameHub fans frame notifications out to websocket clients. Slow clients
// miss notifications; they catch up with the next one.
type frameHub struct {
	mu      sync.Mutex
	clients map[chan FrameMessage]struct{}
}

func newFrameHub() *frameHub {
	return &frameHub{clients: make(map[chan FrameMessage]struct{})}
}

func (h *frameHub) Publish(msg FrameMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *frameHub) Subscribe() (<-chan FrameMessage, func()) {
	ch := make(chan FrameMessage, 4)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}
}

func (h *frameHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
