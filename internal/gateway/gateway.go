// Package gateway exposes the bundle submission endpoint. Authorized
// nodes connect over WebSocket and stream bundles; each submission is
// answered with its execution outcome.
package gateway

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"clearline/internal/domain"
	"clearline/internal/engine"
	"clearline/internal/observability"
	"clearline/internal/storage"
)

// ErrUnauthorizedNode is returned when the connecting node is not in
// the authorization registry.
var ErrUnauthorizedNode = errors.New("gateway: node not authorized")

// nodeHeader names the submitting node on the handshake request.
const nodeHeader = "X-Node-Address"

// Config configures gateway behavior.
type Config struct {
	// ReadTimeout is timeout for reading submissions.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing responses.
	WriteTimeout time.Duration
	// MaxBundleBytes caps the size of one submission message.
	MaxBundleBytes int64
}

// DefaultConfig returns default gateway configuration.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxBundleBytes: 4 << 20,
	}
}

// Authorizer answers whether a node may submit bundles. Satisfied by
// the admin registry.
type Authorizer interface {
	IsAuthorizedNode(ctx context.Context, node domain.Address) (bool, error)
}

// Server accepts bundle submissions from authorized nodes.
type Server struct {
	engine   *engine.Engine
	auth     Authorizer
	state    storage.KV
	config   Config
	upgrader websocket.Upgrader
	clock    func() time.Time
}

// NewServer creates a Server around an engine and an authorization
// registry. The state store backs the read-only inspection endpoint.
func NewServer(eng *engine.Engine, auth Authorizer, state storage.KV, config Config) *Server {
	return &Server{
		engine: eng,
		auth:   auth,
		state:  state,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		clock: time.Now,
	}
}

// Handler returns the HTTP routes of the gateway.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/submit", s.handleSubmit)
	mux.HandleFunc("/v1/state", s.handleState)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// handleState serves raw persistent-state reads for off-chain tooling.
// Keys are hex encoded; values come back as hex.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.state == nil {
		http.Error(w, "state inspection disabled", http.StatusNotFound)
		return
	}
	key, err := hex.DecodeString(r.URL.Query().Get("key"))
	if err != nil || len(key) == 0 {
		http.Error(w, "missing or malformed hex key", http.StatusBadRequest)
		return
	}
	value, err := s.state.Get(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "no value", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "state read failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, hex.EncodeToString(value))
}

// submitRequest is one bundle submission. Bundle bytes travel base64
// encoded inside the JSON envelope.
type submitRequest struct {
	Window uint64 `json:"window"`
	Bundle []byte `json:"bundle"`
}

// submitResponse reports the outcome of one submission.
type submitResponse struct {
	Status         string `json:"status"`
	BundleHash     string `json:"bundle_hash,omitempty"`
	PriorityOrders int    `json:"priority_orders"`
	UserOrders     int    `json:"user_orders"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	node, err := domain.ParseAddress(r.Header.Get(nodeHeader))
	if err != nil {
		http.Error(w, "missing or malformed node address", http.StatusBadRequest)
		return
	}
	ok, err := s.auth.IsAuthorizedNode(r.Context(), node)
	if err != nil {
		http.Error(w, "authorization check failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		observability.RecordAuthDenied()
		log.Printf("[gateway] denied unauthorized node %s", node)
		http.Error(w, ErrUnauthorizedNode.Error(), http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed for node %s: %v", node, err)
		return
	}
	defer conn.Close()

	observability.DefaultMetrics.GatewayConnections.Inc()
	defer observability.DefaultMetrics.GatewayConnections.Dec()
	log.Printf("[gateway] node %s connected", node)

	conn.SetReadLimit(s.config.MaxBundleBytes)
	for {
		if err := conn.SetReadDeadline(s.clock().Add(s.config.ReadTimeout)); err != nil {
			return
		}
		var req submitRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[gateway] node %s read error: %v", node, err)
			}
			return
		}

		resp := s.execute(r.Context(), node, &req)
		if err := conn.SetWriteDeadline(s.clock().Add(s.config.WriteTimeout)); err != nil {
			return
		}
		if err := conn.WriteJSON(resp); err != nil {
			log.Printf("[gateway] node %s write error: %v", node, err)
			return
		}
	}
}

func (s *Server) execute(ctx context.Context, node domain.Address, req *submitRequest) submitResponse {
	rep, err := s.engine.Execute(ctx, req.Bundle, engine.ExecContext{
		Window:    req.Window,
		ExecTime:  s.clock(),
		Submitter: node,
	})
	if err != nil {
		observability.RecordGatewayBundle("rejected")
		return submitResponse{
			Status: domain.BundleStatusRejected,
			Error:  err.Error(),
		}
	}
	observability.RecordGatewayBundle("applied")
	return submitResponse{
		Status:         domain.BundleStatusApplied,
		BundleHash:     hex.EncodeToString(rep.BundleHash[:]),
		PriorityOrders: rep.PriorityOrders,
		UserOrders:     rep.UserOrders,
	}
}
