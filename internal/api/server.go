package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/indecryption/chat-node/internal/api/middleware"
	"github.com/indecryption/chat-node/internal/auth"
	"github.com/indecryption/chat-node/internal/chat"
	"github.com/indecryption/chat-node/internal/crypto"
	"github.com/indecryption/chat-node/internal/database"
	"github.com/indecryption/chat-node/internal/utils"
)

// APIServer provides the HTTP REST/WebSocket API for the node
type APIServer struct {
	ctx           context.Context
	cancel        context.CancelFunc
	server        *http.Server
	listener      net.Listener
	port          string
	logger        *utils.LogsManager
	config        *utils.ConfigManager
	dbManager     *database.SQLiteManager
	nodeKeys      *crypto.KeyPair
	jwtManager    *middleware.JWTManager
	authenticator *auth.Authenticator
	registry      *chat.Registry
	relay         *chat.Relay
	wsUpgrader    websocket.Upgrader
	devMode       bool
	startTime     time.Time
}

// NewAPIServer creates a new API server instance
func NewAPIServer(
	config *utils.ConfigManager,
	logger *utils.LogsManager,
	dbManager *database.SQLiteManager,
	nodeKeys *crypto.KeyPair,
	authenticator *auth.Authenticator,
	registry *chat.Registry,
	relay *chat.Relay,
) *APIServer {
	ctx, cancel := context.WithCancel(context.Background())

	jwtSecret := config.GetConfigWithDefault("jwt_secret", "change-this-secret-key-in-production")
	jwtManager := middleware.NewJWTManager(jwtSecret, "chat-node")

	return &APIServer{
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
		config:        config,
		dbManager:     dbManager,
		nodeKeys:      nodeKeys,
		jwtManager:    jwtManager,
		authenticator: authenticator,
		registry:      registry,
		relay:         relay,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		devMode:   config.GetConfigBool("dev_mode", false),
		startTime: time.Now(),
	}
}

// Start initializes and starts the API server
func (s *APIServer) Start() error {
	apiPort := s.config.GetConfigWithDefault("api_port", "8080")
	s.port = apiPort

	s.logger.Info(fmt.Sprintf("Starting API server on port %s", apiPort), "api")

	// Build ports list: primary port + fallbacks
	fallbackPortsStr := s.config.GetConfigWithDefault("api_fallback_ports", "8081,8082")
	ports := append([]string{apiPort}, parsePortList(fallbackPortsStr)...)

	var err error
	for _, port := range ports {
		addr := fmt.Sprintf(":%s", port)
		s.listener, err = net.Listen("tcp", addr)
		if err == nil {
			s.port = port
			s.logger.Info(fmt.Sprintf("API server bound to port %s", port), "api")
			break
		}
	}

	if s.listener == nil {
		return fmt.Errorf("failed to bind API server to any port: %v", err)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := middleware.CORSMiddleware(mux)

	s.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error(fmt.Sprintf("API server error: %v", err), "api")
		}
	}()

	s.logger.Info("API server started successfully", "api")
	return nil
}

// registerRoutes sets up all HTTP routes
func (s *APIServer) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.handleHealth)

	// Auth routes
	mux.HandleFunc("/api/auth/send-otp", s.handleSendOtp)
	mux.HandleFunc("/api/auth/verify-otp", s.handleVerifyOtp)

	// Node routes
	mux.HandleFunc("/api/node/public-key", s.handleNodePublicKey)

	// User routes, the directory and search require a session
	mux.Handle("/api/users", s.jwtManager.AuthMiddleware(http.HandlerFunc(s.handleUsers)))
	mux.Handle("/api/users/search", s.jwtManager.AuthMiddleware(http.HandlerFunc(s.handleSearchUsers)))
	mux.Handle("/api/users/", s.jwtManager.AuthMiddleware(http.HandlerFunc(s.handleUserSubresource)))

	// Contact routes
	mux.Handle("/api/contacts", s.jwtManager.AuthMiddleware(http.HandlerFunc(s.handleContacts)))

	// Message history routes
	mux.Handle("/api/messages/", s.jwtManager.AuthMiddleware(http.HandlerFunc(s.handleMessageHistory)))

	// WebSocket endpoint, token carried as a query parameter
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	s.logger.Debug("API routes registered", "api")
}

// handleHealth returns API health status
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","uptime":%d,"online_users":%d}`,
		int64(time.Since(s.startTime).Seconds()), len(s.registry.Online()))
}

// Stop gracefully shuts down the API server
func (s *APIServer) Stop() error {
	s.logger.Info("Stopping API server", "api")
	s.cancel()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}

	return nil
}

// GetPort returns the port the server is listening on
func (s *APIServer) GetPort() string {
	return s.port
}

// writeJSON writes a JSON response with the given status code
func (s *APIServer) writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error(fmt.Sprintf("Failed to encode response: %v", err), "api")
	}
}

// writeError writes a JSON error response
func (s *APIServer) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, map[string]string{"error": message})
}

// parsePortList parses a comma-separated list of ports
func parsePortList(portList string) []string {
	if portList == "" {
		return []string{}
	}
	ports := strings.Split(portList, ",")
	result := make([]string, 0, len(ports))
	for _, port := range ports {
		port = strings.TrimSpace(port)
		if port != "" {
			result = append(result, port)
		}
	}
	return result
}
