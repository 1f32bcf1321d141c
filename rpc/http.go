package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"dusd/core"
	"dusd/observability"
	"dusd/rpc/modules"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	visitorTTL      = 10 * time.Minute
	jwtClockSkew    = 2 * time.Minute
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// ServerConfig carries the transport knobs. AuthToken and JWTSecret are
// mutually exclusive; whichever is set gates the mutating methods.
type ServerConfig struct {
	AuthToken          string
	JWTSecret          string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Server exposes the node over JSON-RPC 2.0 plus a websocket event stream.
type Server struct {
	node   *core.Node
	cfg    ServerConfig
	vault  *modules.VaultModule
	oracle *modules.OracleModule

	mu       sync.Mutex
	visitors map[string]*visitor
}

func NewServer(node *core.Node, cfg ServerConfig) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("rpc: node must not be nil")
	}
	cfg.AuthToken = strings.TrimSpace(cfg.AuthToken)
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	if cfg.AuthToken != "" && cfg.JWTSecret != "" {
		return nil, fmt.Errorf("rpc: configure either a bearer token or a JWT secret, not both")
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 2 * int(cfg.RateLimitPerSecond)
	}
	return &Server{
		node:     node,
		cfg:      cfg,
		vault:    modules.NewVaultModule(node),
		oracle:   modules.NewOracleModule(node),
		visitors: make(map[string]*visitor),
	}, nil
}

// Router assembles the HTTP surface: JSON-RPC on POST /, the event stream on
// GET /ws/events, Prometheus metrics, and a liveness probe.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.Post("/", s.handle)
	return r
}

// Start serves the router on addr. Daemons that need graceful shutdown should
// mount Router on their own http.Server instead.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Router())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeModuleError(w http.ResponseWriter, id interface{}, modErr *modules.ModuleError) {
	writeError(w, modErr.HTTPStatus, id, modErr.Code, modErr.Message, modErr.Data)
}

// handle is the main request handler that validates the envelope and routes
// to per-method handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	s.dispatch(recorder, r, req)
	observability.ModuleMetrics().Observe(methodModule(req.Method), req.Method, recorder.status, time.Since(start))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "vault_depositCollateral":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleVaultDeposit(w, req)
	case "vault_mint":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleVaultMint(w, req)
	case "vault_depositAndMint":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleVaultDepositAndMint(w, req)
	case "vault_redeemCollateral":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleVaultRedeem(w, req)
	case "vault_burn":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleVaultBurn(w, req)
	case "vault_redeemForSynthetic":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleVaultRedeemForSynthetic(w, req)
	case "vault_liquidate":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleVaultLiquidate(w, req)
	case "vault_getHealthFactor":
		s.handleVaultHealthFactor(w, req)
	case "vault_getAccountInformation":
		s.handleVaultAccountInformation(w, req)
	case "vault_getCollateralBalance":
		s.handleVaultCollateralBalance(w, req)
	case "vault_getUsdValue":
		s.handleVaultUsdValue(w, req)
	case "vault_getTokenAmountFromUsd":
		s.handleVaultTokenAmountFromUsd(w, req)
	case "vault_getCollateralAssets":
		s.handleVaultCollateralAssets(w, req)
	case "vault_getSyntheticBalance":
		s.handleVaultSyntheticBalance(w, req)
	case "vault_getProtocolStatus":
		s.handleVaultProtocolStatus(w, req)
	case "vault_getParameters":
		s.handleVaultParameters(w, req)
	case "oracle_setPrice":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleOracleSetPrice(w, req)
	case "oracle_getQuote":
		s.handleOracleGetQuote(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

// allowMutation applies auth and the per-client rate limit shared by every
// state-changing method; it writes the refusal itself.
func (s *Server) allowMutation(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return false
	}
	source := clientSource(r)
	if !s.allowSource(source, time.Now()) {
		observability.ModuleMetrics().RecordThrottle(methodModule(req.Method), "rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", source)
		return false
	}
	return true
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	token := bearerToken(r)
	switch {
	case s.cfg.JWTSecret != "":
		if token == "" {
			return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
		}
		if err := s.verifyJWT(token); err != nil {
			return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials", Data: err.Error()}
		}
		return nil
	case s.cfg.AuthToken != "":
		if token == "" {
			return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
		}
		return nil
	default:
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication not configured"}
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func (s *Server) verifyJWT(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithLeeway(jwtClockSkew))
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("token invalid")
	}
	return nil
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.visitors[source]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(rate.Limit(s.cfg.RateLimitPerSecond), s.cfg.RateLimitBurst)}
		s.visitors[source] = entry
	}
	entry.lastSeen = now
	if len(s.visitors) > 1024 {
		s.evictVisitorsLocked(now)
	}
	return entry.limiter.Allow()
}

func (s *Server) evictVisitorsLocked(now time.Time) {
	for source, entry := range s.visitors {
		if now.Sub(entry.lastSeen) > visitorTTL {
			delete(s.visitors, source)
		}
	}
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func methodModule(method string) string {
	if idx := strings.IndexByte(method, '_'); idx > 0 {
		return method[:idx]
	}
	return "rpc"
}

func firstParam(req *RPCRequest) json.RawMessage {
	if len(req.Params) == 0 {
		return nil
	}
	return req.Params[0]
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
