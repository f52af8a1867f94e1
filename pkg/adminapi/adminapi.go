// Package adminapi is the trusted-side HTTP surface a coordinator's own
// backend calls to open a session and, once every participant is ready,
// inject the frozen transaction — the "out-of-band admin channel" the
// protocol's control flow assumes exists but leaves external. It is never
// reachable from participant clients; those only ever speak the WebSocket
// protocol in pkg/signaling.
//
// Grounded on the teacher's main.go mux wiring: a flat http.ServeMux,
// http.Error for failures, json.NewEncoder(w).Encode for success bodies.
package adminapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/certen/independant-validator/pkg/connstring"
	"github.com/certen/independant-validator/pkg/decoder"
	"github.com/certen/independant-validator/pkg/session"
)

// Handler exposes SessionManager's coordinator-side operations over HTTP.
type Handler struct {
	manager   *session.Manager
	publicURL string
	logger    *log.Logger
}

// New builds a Handler. publicURL is the WebSocket URL participants connect
// to (pkg/config's PublicURL); it is embedded in the connection string
// returned from session creation so the coordinator's own backend never has
// to assemble that string itself.
func New(manager *session.Manager, publicURL string, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "[adminapi] ", log.LstdFlags)
	}
	return &Handler{manager: manager, publicURL: publicURL, logger: logger}
}

// Register mounts the handler's routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", h.createSession)
	mux.HandleFunc("POST /v1/sessions/{sessionId}/transaction", h.injectTransaction)
}

type createSessionRequest struct {
	PIN                  string   `json:"pin"`
	Threshold            int      `json:"threshold"`
	EligibleKeys         []string `json:"eligibleKeys"`
	ExpectedParticipants int      `json:"expectedParticipants"`
	TimeoutMillis        int64    `json:"timeoutMillis,omitempty"`
}

type createSessionResponse struct {
	SessionID        string `json:"sessionId"`
	Status           string `json:"status"`
	ExpiresAt        int64  `json:"expiresAt"`
	ConnectionString string `json:"connectionString"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	view, err := h.manager.CreateSession(session.CreateSessionRequest{
		PIN:                  req.PIN,
		Threshold:            req.Threshold,
		EligibleKeys:         req.EligibleKeys,
		ExpectedParticipants: req.ExpectedParticipants,
		TimeoutMillis:        req.TimeoutMillis,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cs := connstring.Encode(connstring.ConnectionString{
		ServerURL: h.publicURL,
		SessionID: view.SessionID,
		PIN:       req.PIN,
		HasPIN:    req.PIN != "",
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(createSessionResponse{
		SessionID:        view.SessionID,
		Status:           string(view.Status),
		ExpiresAt:        view.ExpiresAt.UnixMilli(),
		ConnectionString: cs,
	})
}

type injectTransactionRequest struct {
	FrozenTransaction string         `json:"frozenTransaction"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	ContractABI       string         `json:"contractAbi,omitempty"`
	ContractFunction  string         `json:"contractFunction,omitempty"`
}

type injectTransactionResponse struct {
	Status string `json:"status"`
}

func (h *Handler) injectTransaction(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	var req injectTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	var abi *decoder.ContractABI
	if req.ContractABI != "" {
		abi = &decoder.ContractABI{JSON: req.ContractABI, FunctionName: req.ContractFunction}
	}

	view, err := h.manager.InjectTransaction(sessionID, req.FrozenTransaction, req.Metadata, abi)
	if err != nil {
		h.logger.Printf("session %s: inject transaction failed: %v", sessionID, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(injectTransactionResponse{Status: string(view.Status)})
}
