package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"prooflab/api/internal/auth"
	"prooflab/api/internal/authpw"
	"prooflab/api/internal/export"
	"prooflab/api/internal/proof"
	"prooflab/api/internal/proofjson"
	"prooflab/api/internal/util"
)

type ctxKey string

const requestIDKey ctxKey = "requestID"

// Handler serves the HTTP API on top of the service.
type Handler struct {
	service *Service
}

func NewHTTPServer(service *Service) http.Handler {
	h := &Handler{service: service}
	return h.withMiddleware(http.HandlerFunc(h.handle))
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	parts := splitPath(path)

	if len(parts) == 2 && parts[0] == "api" && parts[1] == "health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	if len(parts) == 2 && parts[0] == "api" && parts[1] == "ready" && r.Method == http.MethodGet {
		h.handleReady(w, r)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "auth" {
		h.handleAuth(w, r, parts[2:])
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "session" {
		h.handleSession(w, r, parts[2:])
		return
	}

	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	if len(parts) == 2 && parts[0] == "api" && parts[1] == "rules" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"rules": h.service.Rules()})
		return
	}

	if len(parts) == 2 && parts[0] == "api" && parts[1] == "search" && r.Method == http.MethodGet {
		h.handleSearch(w, r, session)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "proofs" {
		h.handleProofs(w, r, session, parts[2:])
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "submissions" {
		h.handleSubmissions(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.service.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "Database unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// ---- auth ----

func (h *Handler) handleAuth(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch strings.Join(parts, "/") {
	case "signup":
		h.handleAuthSignUp(w, r)
	case "signin":
		h.handleAuthSignIn(w, r)
	case "verify-email":
		h.handleAuthVerifyEmail(w, r)
	case "reset-password/request":
		h.handleAuthRequestReset(w, r)
	case "reset-password":
		h.handleAuthResetPassword(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
	}
}

func (h *Handler) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	resp, err := h.service.AuthPasswordService().SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		Role:        body.Role,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "AUTH_ERROR", err.Error(), nil)
		return
	}

	result := map[string]any{
		"userId":              resp.UserID,
		"requiresEmailVerify": resp.RequiresEmailVerify,
	}
	if h.service.SMTPConfigured() {
		go h.service.NotifyVerification(body.Email, body.DisplayName, resp.VerificationToken)
	} else {
		// No mail transport in this deployment; hand the token back so
		// local setups can verify without an inbox.
		result["verificationToken"] = resp.VerificationToken
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	resp, err := h.service.AuthPasswordService().SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH_ERROR", err.Error(), nil)
		return
	}
	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Verify your email before signing in", nil)
		return
	}
	session, err := h.service.CreateSession(r.Context(), resp.User.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (h *Handler) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.service.AuthPasswordService().VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "AUTH_ERROR", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

func (h *Handler) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	token, err := h.service.AuthPasswordService().RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		// Do not reveal whether the address exists.
		writeJSON(w, http.StatusOK, map[string]any{"requested": true})
		return
	}
	result := map[string]any{"requested": true}
	if h.service.SMTPConfigured() {
		go h.service.NotifyPasswordReset(body.Email, "", token)
	} else {
		result["resetToken"] = token
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.service.AuthPasswordService().ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "AUTH_ERROR", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

// ---- session ----

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 && r.Method == http.MethodGet {
		session, ok := h.requireSession(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"userId":    session.UserID,
			"userName":  session.UserName,
			"role":      session.Role,
			"expiresAt": session.ExpiresAt.Format(time.RFC3339),
		})
		return
	}

	if len(parts) == 1 && parts[0] == "refresh" && r.Method == http.MethodPost {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		session, err := h.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "INVALID_REFRESH", "Refresh token is invalid or expired", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if len(parts) == 1 && parts[0] == "logout" && r.Method == http.MethodPost {
		session, ok := h.requireSession(w, r)
		if !ok {
			return
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if err := h.service.Logout(r.Context(), session, body.RefreshToken); err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"loggedOut": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Format(time.RFC3339),
	}
}

// ---- search ----

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	resp := h.service.SearchProofs(r.Context(), session, q.Get("q"), q.Get("status"), limit, offset)
	writeJSON(w, http.StatusOK, resp)
}

// ---- proofs ----

func (h *Handler) handleProofs(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			items, err := h.service.ListProofs(r.Context(), session)
			if err != nil {
				h.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"proofs": items})
		case http.MethodPost:
			var body struct {
				Title       string `json:"title"`
				Description string `json:"description"`
			}
			if !decodeBody(w, r, &body) {
				return
			}
			view, err := h.service.CreateProof(r.Context(), session, body.Title, body.Description)
			if err != nil {
				h.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, view)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	proofID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			view, err := h.service.GetProofWorkspace(r.Context(), session, proofID, r.URL.Query().Get("version"))
			if err != nil {
				h.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, view)
		case http.MethodPut:
			var body SaveInput
			if !decodeBody(w, r, &body) {
				return
			}
			view, err := h.service.SaveProof(r.Context(), session, proofID, body)
			if err != nil {
				h.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, view)
		case http.MethodDelete:
			if err := h.service.DeleteProof(r.Context(), session, proofID); err != nil {
				h.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 2 {
		switch {
		case parts[1] == "edit" && r.Method == http.MethodPost:
			var body EditInput
			if !decodeBody(w, r, &body) {
				return
			}
			view, err := h.service.EditProof(r.Context(), session, proofID, body)
			if err != nil {
				h.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, view)
			return

		case parts[1] == "verify" && r.Method == http.MethodPost:
			report, err := h.service.VerifyProof(r.Context(), session, proofID)
			if err != nil {
				h.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, report)
			return

		case parts[1] == "history" && r.Method == http.MethodGet:
			history, err := h.service.ProofHistory(r.Context(), session, proofID)
			if err != nil {
				h.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, history)
			return

		case parts[1] == "versions" && r.Method == http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if !decodeBody(w, r, &body) {
				return
			}
			history, err := h.service.SaveNamedVersion(r.Context(), session, proofID, body.Name)
			if err != nil {
				h.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, history)
			return

		case parts[1] == "submit" && r.Method == http.MethodPost:
			view, err := h.service.SubmitProof(r.Context(), session, proofID)
			if err != nil {
				h.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, view)
			return

		case parts[1] == "export" && r.Method == http.MethodPost:
			h.handleExport(w, r, session, proofID)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, session Session, proofID string) {
	var body struct {
		Format  string `json:"format"`
		Version string `json:"version"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.service.ExportProof(r.Context(), session, export.Request{
		ProofID: proofID,
		Version: body.Version,
		Format:  export.Format(body.Format),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// ---- submissions ----

func (h *Handler) handleSubmissions(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 && r.Method == http.MethodGet {
		items, err := h.service.ListSubmissionQueue(r.Context(), session, r.URL.Query().Get("status"))
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"submissions": items})
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		view, err := h.service.GetSubmission(r.Context(), session, parts[0])
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if len(parts) == 2 && parts[1] == "review" && r.Method == http.MethodPost {
		var body struct {
			Status string `json:"status"`
			Note   string `json:"note"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		view, err := h.service.ReviewSubmission(r.Context(), session, parts[0], body.Status, body.Note)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
}

// ---- middleware and helpers ----

func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Missing bearer token", nil)
		return Session{}, false
	}
	session, err := h.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid or expired token", nil)
		return Session{}, false
	}
	return session, true
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := util.NewID("req")
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		setCORSHeaders(w, h.service.cfg.CORSOrigin)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		log.Printf(`{"requestId":%q,"method":%q,"path":%q,"status":%d,"durationMs":%d}`,
			requestID, r.Method, r.URL.Path, rec.status, time.Since(start).Milliseconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(w http.ResponseWriter, origin string) {
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
	}
	writeError(w, status, code, message, details)
}

// mapError translates service failures into stable HTTP error responses.
func mapError(err error) (int, string, string, any) {
	var domain *DomainError
	if errors.As(err, &domain) {
		return domain.Status, domain.Code, domain.Message, domain.Details
	}
	var decode *proofjson.DecodeError
	if errors.As(err, &decode) {
		return http.StatusUnprocessableEntity, "MALFORMED_DOCUMENT", decode.Error(), nil
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid or expired token", nil
	case errors.Is(err, proof.ErrNotFound):
		return http.StatusNotFound, "LINE_NOT_FOUND", err.Error(), nil
	case errors.Is(err, proof.ErrMinimumContent), errors.Is(err, proof.ErrRootRemoval):
		return http.StatusConflict, "INVALID_REMOVAL", err.Error(), nil
	case errors.Is(err, proof.ErrPremiseBoundary), errors.Is(err, proof.ErrUnknownRule):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusNotFound, "EXPORT_UNAVAILABLE", "Export content unavailable", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is not available on this server", nil
	}
	return http.StatusInternalServerError, "INTERNAL", "Internal server error", nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	body := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	if details != nil {
		body["error"].(map[string]any)["details"] = details
	}
	writeJSON(w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed request body", nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	var parts []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
