package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/exp/rand"

	"github.com/histoboard/backend/internal/arbiter"
	"github.com/histoboard/backend/internal/config"
	"github.com/histoboard/backend/internal/histogram"
	"github.com/histoboard/backend/internal/session"
	"github.com/histoboard/backend/internal/source"
)

type Server struct {
	cfgMu           sync.RWMutex
	cfg             *config.Config
	store           *session.Store
	hub             *Hub
	frontendHandler http.Handler
	uploadDir       string
	allowedOrigins  map[string]bool
	allowedHosts    map[string]bool
	authToken       string
	src             rand.Source // non-nil when sampling.seed is set
	started         time.Time

	// Per-session locks serialize arbiter invocations so a file read for
	// one session never runs under the store's global write lock.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewServer(cfg *config.Config, store *session.Store, hub *Hub, frontendHandler http.Handler, uploadDir string) *Server {
	s := &Server{
		cfg:             cfg,
		store:           store,
		hub:             hub,
		frontendHandler: frontendHandler,
		uploadDir:       uploadDir,
		allowedOrigins:  make(map[string]bool),
		allowedHosts:    make(map[string]bool),
		authToken:       cfg.Server.AuthToken,
		started:         time.Now(),
		locks:           make(map[string]*sync.Mutex),
	}

	// The seed is fixed at startup; config reloads do not re-seed.
	if cfg.Sampling.Seed != 0 {
		s.src = source.NewSeeded(cfg.Sampling.Seed)
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// ApplyConfig swaps in reloaded sampling, histogram and upload settings.
// Server address, origins and auth are fixed at startup.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.cfg.Sampling = cfg.Sampling
	s.cfg.Histogram = cfg.Histogram
	s.cfg.Upload = cfg.Upload
}

// arbiter builds a decision routine from the current sampling config.
func (s *Server) arbiter() arbiter.Arbiter {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return arbiter.Arbiter{
		NormalSamples:  s.cfg.Sampling.NormalSamples,
		PoissonSamples: s.cfg.Sampling.PoissonSamples,
		PoissonRate:    s.cfg.Sampling.PoissonRate,
		Src:            s.src,
	}
}

func (s *Server) bins() int {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.Histogram.Bins
}

func (s *Server) upload() config.UploadConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.Upload
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	mux.HandleFunc("/api/health", s.handleHealth)

	if s.frontendHandler != nil {
		mux.Handle("/", securityHeaders(s.frontendHandler))
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	id, err := session.NewID()
	if err != nil {
		log.Printf("session id error: %v", err)
		conn.Close()
		return
	}

	now := time.Now()
	s.store.Update(&session.State{
		ID:          id,
		ConnectedAt: now,
		LastEventAt: now,
	})

	log.Printf("session %s connected from %s", id, r.RemoteAddr)
	c := s.hub.AddClient(id, conn)

	upload := s.upload()
	s.cfgMu.RLock()
	rate := s.cfg.Sampling.PoissonRate
	s.cfgMu.RUnlock()
	s.hub.Send(id, WSMessage{
		Type: MsgHello,
		Payload: HelloPayload{
			SessionID:      id,
			PoissonRate:    rate,
			MaxUploadBytes: upload.MaxBytes,
		},
	})

	go s.readLoop(id, c, conn, r.RemoteAddr)
}

// readLoop processes inbound frames for one session. Frames are handled
// strictly in arrival order, so arbiter invocations for this session's
// button events are serialized.
func (s *Server) readLoop(id string, c *client, conn *websocket.Conn, remote string) {
	defer func() {
		s.hub.RemoveClient(c)
		s.cleanupSession(id)
		log.Printf("session %s disconnected (%s)", id, remote)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.hub.Send(id, WSMessage{Type: MsgError, Payload: ErrorPayload{Message: "malformed message"}})
			continue
		}
		s.handleClientMessage(id, msg)
	}
}

func (s *Server) handleClientMessage(id string, msg ClientMessage) {
	switch msg.Type {
	case MsgTrigger:
		switch msg.Source {
		case "normal":
			s.store.Mutate(id, func(st *session.State) {
				st.Inputs.Normal++
			})
		case "poisson":
			s.store.Mutate(id, func(st *session.State) {
				st.Inputs.Poisson++
			})
		default:
			s.hub.Send(id, WSMessage{Type: MsgError, Payload: ErrorPayload{Message: fmt.Sprintf("unknown source %q", msg.Source)}})
			return
		}
		s.fire(id)

	case MsgSetHeader:
		s.store.Mutate(id, func(st *session.State) {
			st.Header = msg.Header
			if st.Inputs.FileSpec != nil {
				st.Inputs.FileSpec.Header = msg.Header
			}
		})

	case MsgReset:
		s.reset(id)

	default:
		s.hub.Send(id, WSMessage{Type: MsgError, Payload: ErrorPayload{Message: fmt.Sprintf("unknown message type %q", msg.Type)}})
	}
}

// fire runs one arbiter invocation for the session and pushes the result.
// Invocations for the same session are serialized; the store's write lock
// is only held for the final commit, never across Decide's file reads.
func (s *Server) fire(id string) {
	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	snap, ok := s.store.Get(id)
	if !ok {
		return
	}

	arb := s.arbiter()
	bins := s.bins()

	// Triggers advance only here, under the session lock, so deciding
	// against the snapshot is safe. Inputs bumped concurrently are
	// picked up by the next invocation.
	triggers := snap.Triggers
	data, branch, arbErr := arb.Decide(snap.Inputs, &triggers)

	var plot *histogram.Plot
	if arbErr == nil && branch != arbiter.BranchNone {
		p := histogram.Compute(data, bins)
		p.Source = branch.String()
		plot = &p
	}

	st, ok := s.store.Mutate(id, func(st *session.State) {
		st.Triggers = triggers
		st.LastEventAt = time.Now()
		if plot != nil {
			st.LastBranch = branch.String()
			st.LastPlot = plot
		}
	})
	if !ok {
		return
	}

	switch {
	case arbErr != nil:
		var pe *source.ParseError
		msg := arbErr.Error()
		if errors.As(arbErr, &pe) {
			msg = pe.Error()
		}
		log.Printf("session %s: %s branch failed: %v", id, branch, arbErr)
		s.hub.Send(id, WSMessage{Type: MsgError, Payload: ErrorPayload{Message: msg}})

	case branch == arbiter.BranchNone:
		// Nothing changed; nothing to render.

	default:
		s.hub.Send(id, WSMessage{
			Type: MsgPlot,
			Payload: PlotPayload{
				Branch: branch.String(),
				Plot:   *st.LastPlot,
			},
		})
	}
}

func (s *Server) sessionLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// reset clears the pending upload so the same filename can re-fire the
// file branch, and blanks the plot.
func (s *Server) reset(id string) {
	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	var stale string
	_, ok := s.store.Mutate(id, func(st *session.State) {
		if st.Inputs.FileSpec != nil {
			stale = st.Inputs.FileSpec.Path
			st.Inputs.FileSpec = nil
		}
		st.LastPlot = nil
		st.LastBranch = ""
		st.LastEventAt = time.Now()
	})
	if !ok {
		return
	}
	removeUpload(stale)
	log.Printf("session %s: reset", id)
	s.hub.Send(id, WSMessage{Type: MsgClear})
}

func (s *Server) cleanupSession(id string) {
	var stale string
	s.store.Mutate(id, func(st *session.State) {
		if st.Inputs.FileSpec != nil {
			stale = st.Inputs.FileSpec.Path
		}
	})
	removeUpload(stale)
	s.store.Remove(id)

	s.lockMu.Lock()
	delete(s.locks, id)
	s.lockMu.Unlock()
}

func removeUpload(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("upload cleanup failed: %v", err)
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.store.GetAll())
}

func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Parse: /api/sessions/{id}/upload
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] != "upload" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	sessionID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	s.handleUpload(w, r, sessionID)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.store.Get(sessionID); !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	upload := s.upload()
	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("bad upload: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !upload.ExtensionAllowed(header.Filename) {
		http.Error(w, fmt.Sprintf("file type not allowed: %s", filepath.Ext(header.Filename)), http.StatusBadRequest)
		return
	}

	tmp, err := os.CreateTemp(s.uploadDir, "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		http.Error(w, "could not store upload", http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		http.Error(w, "could not store upload", http.StatusInternalServerError)
		return
	}
	tmp.Close()

	var stale string
	_, ok := s.store.Mutate(sessionID, func(st *session.State) {
		if st.Inputs.FileSpec != nil {
			stale = st.Inputs.FileSpec.Path
		}
		st.Inputs.FileSpec = &source.FileSpec{
			Path:   tmp.Name(),
			Name:   header.Filename,
			Header: st.Header,
		}
		st.Inputs.File++
	})
	if !ok {
		os.Remove(tmp.Name())
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	removeUpload(stale)

	log.Printf("session %s: uploaded %s (%d bytes)", sessionID, header.Filename, header.Size)
	s.fire(sessionID)

	w.WriteHeader(http.StatusNoContent)
}

type healthPayload struct {
	Status             string  `json:"status"`
	UptimeSeconds      float64 `json:"uptimeSeconds"`
	Sessions           int     `json:"sessions"`
	Clients            int     `json:"clients"`
	ProcessRSSBytes    uint64  `json:"processRssBytes,omitempty"`
	HostMemUsedPercent float64 `json:"hostMemUsedPercent,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := healthPayload{
		Status:        "ok",
		UptimeSeconds: time.Since(s.started).Seconds(),
		Sessions:      s.store.Count(),
		Clients:       s.hub.ClientCount(),
	}

	// Resource figures are best-effort; omitted when the platform
	// refuses to answer.
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			payload.ProcessRSSBytes = mi.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		payload.HostMemUsedPercent = vm.UsedPercent
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Histoboard-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
