package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kibitzhq/kibitz/internal/auth"
	"github.com/kibitzhq/kibitz/internal/model"
)

const maxChatBodyBytes = 64 * 1024

type handlers struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	selected map[string][]string // client name -> module subset
}

func newHandlers(cfg Config) *handlers {
	return &handlers{
		cfg:      cfg,
		logger:   cfg.Logger,
		selected: make(map[string][]string),
	}
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.cfg.Version,
	})
}

type tokenRequest struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken exchanges a valid client key for a bearer token.
func (h *handlers) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.Key == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "name and key are required")
		return
	}

	if !h.verifyKey(req.Name, req.Key) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "unknown client or wrong key")
		return
	}

	token, exp, err := h.cfg.JWTMgr.IssueToken(req.Name)
	if err != nil {
		h.logger.Error("issue token failed", "client", req.Name, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "could not issue token")
		return
	}
	writeJSON(w, r, http.StatusOK, tokenResponse{Token: token, ExpiresAt: exp})
}

// handleChat is the synchronous front-door chat endpoint. The reply body
// is plain text: exactly what the assistant said, nothing else.
func (h *handlers) handleChat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "content is required")
		return
	}

	client, ok := h.authenticate(r, req.Key)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing or invalid credentials")
		return
	}

	if reply, handled := h.command(client, req.Content); handled {
		h.writeText(w, reply)
		return
	}

	requestID := RequestIDFromContext(r.Context())
	msg := h.cfg.Front.NewRequestMessage(requestID, client, req.Content)
	msg.Modules = h.moduleFilter(client, req.Modules)

	h.cfg.Dispatcher.Dispatch(r.Context(), msg)
	replies := h.cfg.Front.Collect(msg.Channel.ID)

	h.writeText(w, strings.Join(replies, "\n"))
}

func (h *handlers) writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, text)
}

// authenticate resolves the client name from a bearer token or the
// request-body key. Key verification always burns an Argon2id hash so
// timing does not reveal which names exist.
func (h *handlers) authenticate(r *http.Request, key string) (string, bool) {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return claims.Name, true
	}
	if key == "" {
		return "", false
	}
	for name, hash := range h.cfg.Keys {
		ok, err := auth.VerifyKey(key, hash)
		if err == nil && ok {
			return name, true
		}
	}
	auth.DummyVerify()
	return "", false
}

func (h *handlers) verifyKey(name, key string) bool {
	hash, ok := h.cfg.Keys[name]
	if !ok {
		auth.DummyVerify()
		return false
	}
	valid, err := auth.VerifyKey(key, hash)
	return err == nil && valid
}

// command handles the control surface. Returns handled=false for normal
// chat content.
func (h *handlers) command(client, content string) (string, bool) {
	fields := strings.Fields(content)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], ":") {
		return "", false
	}

	switch fields[0] {
	case ":list_modules":
		names := append([]string(nil), h.cfg.ModuleNames...)
		sort.Strings(names)
		return strings.Join(names, "\n"), true

	case ":select_modules":
		selection := fields[1:]
		if len(selection) == 0 {
			h.mu.Lock()
			delete(h.selected, client)
			h.mu.Unlock()
			return "module selection cleared", true
		}
		for _, name := range selection {
			if !h.knownModule(name) {
				return fmt.Sprintf("unknown module: %s", name), true
			}
		}
		h.mu.Lock()
		h.selected[client] = selection
		h.mu.Unlock()
		return fmt.Sprintf("selected modules: %s", strings.Join(selection, ", ")), true
	}
	return "", false
}

func (h *handlers) knownModule(name string) bool {
	for _, n := range h.cfg.ModuleNames {
		if n == name {
			return true
		}
	}
	return false
}

// moduleFilter merges the per-request module list with the client's
// stored selection; the request wins when both are set.
func (h *handlers) moduleFilter(client string, requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.selected[client]
}
