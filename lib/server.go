package classvault

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	// restore uploads are bounded well above the inline limit to leave
	// room for linked artifacts fetched by hand.
	maxRestoreUploadBytes = 512 << 20
	multipartMemoryBytes  = 32 << 20

	asyncRunTimeout = 30 * time.Minute
)

// Server exposes the admin HTTP surface.
type Server struct {
	engine     *Engine
	adminToken string
	router     *mux.Router
}

// NewServer wires the admin routes. An empty adminToken disables
// authentication, which is only sane on a loopback listener.
func NewServer(engine *Engine, adminToken string) *Server {
	s := &Server{
		engine:     engine,
		adminToken: adminToken,
	}
	if adminToken == "" {
		zlog.Warn("admin endpoints are serving without authentication")
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin/backup").Subrouter()
	admin.Use(s.requireAdminToken)
	admin.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	admin.HandleFunc("/restore", s.handleRestore).Methods(http.MethodPost)
	admin.HandleFunc("/list", s.handleList).Methods(http.MethodGet)
	admin.HandleFunc("/download/{name}", s.handleDownload).Methods(http.MethodGet)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken != "" {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if header == token || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid admin token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type backupResponse struct {
	RunID          string           `json:"runId"`
	Trigger        Trigger          `json:"trigger"`
	SetCounts      map[string]int   `json:"setCounts"`
	TotalDocuments int              `json:"totalDocuments"`
	Delivery       *DeliveryReceipt `json:"delivery"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if isTruthy(r.URL.Query().Get("async")) {
		go func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), asyncRunTimeout)
			defer cancel()
			if _, err := s.engine.RunBackup(ctx, TriggerAPI); err != nil {
				zlog.Error("async backup run failed", zap.Error(err))
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	result, err := s.engine.RunBackup(r.Context(), TriggerAPI)
	if err != nil {
		s.writeRunError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &backupResponse{
		RunID:          result.RunID,
		Trigger:        result.Trigger,
		SetCounts:      result.SetCounts,
		TotalDocuments: result.TotalDocuments,
		Delivery:       result.Delivery,
	})
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	var deliveryErr *DeliveryError
	switch {
	case errors.Is(err, ErrRestoreInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &deliveryErr):
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":    deliveryErr.Error(),
			"location": deliveryErr.Location,
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type restoreResponse struct {
	RunID   string        `json:"runId"`
	Status  RestoreStatus `json:"status"`
	Atomic  bool          `json:"atomic"`
	Sets    []*SetResult  `json:"sets"`
	Summary string        `json:"summary"`
	Error   string        `json:"error,omitempty"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRestoreUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse multipart form: %s", err))
		return
	}

	confirmation := r.FormValue("confirmation")
	if confirmation == "" {
		writeError(w, http.StatusBadRequest, "missing confirmation field")
		return
	}

	file, _, err := r.FormFile("artifact")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing artifact file")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read artifact: %s", err))
		return
	}

	result, err := s.engine.RunRestore(r.Context(), raw, confirmation)
	s.writeRestoreOutcome(w, result, err)
}

func (s *Server) writeRestoreOutcome(w http.ResponseWriter, result *RestoreResult, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, restoreResponseFrom(result, ""))
		return
	}

	var partialErr *PartialRestoreError
	switch {
	case errors.Is(err, ErrUnauthorizedRestore):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrInvalidArtifact):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRestoreInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &partialErr):
		writeJSON(w, http.StatusMultiStatus, restoreResponseFrom(result, err.Error()))
	default:
		if result != nil {
			writeJSON(w, http.StatusInternalServerError, restoreResponseFrom(result, err.Error()))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func restoreResponseFrom(result *RestoreResult, errMsg string) *restoreResponse {
	resp := &restoreResponse{
		RunID:  result.RunID,
		Status: result.Status,
		Atomic: result.Atomic,
		Sets:   result.Sets,
		Error:  errMsg,
	}

	parts := make([]string, 0, len(result.Sets))
	for _, sr := range result.Sets {
		if sr.Status == SetReplaced {
			parts = append(parts, fmt.Sprintf("%s: replaced %d document(s)", sr.Name, sr.Documents))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", sr.Name, sr.Status))
	}
	resp.Summary = strings.Join(parts, "; ")
	return resp
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intQueryParam(q.Get("limit"), 20)
	offset := intQueryParam(q.Get("offset"), 0)

	list, err := s.engine.ListBackups(r.Context(), limit, offset, q.Get("prefix"))
	if err != nil {
		if errors.Is(err, ErrNoArtifactStore) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"artifacts": list,
		"count":     len(list),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	raw, err := s.engine.OpenStoredArtifact(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("artifact %q: %s", name, err))
		return
	}

	w.Header().Set("Content-Type", contentTypeForName(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(raw); err != nil {
		zlog.Warn("writing artifact download", zap.String("name", name), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zlog.Warn("writing response body", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func intQueryParam(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
