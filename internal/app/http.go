package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"quorum/api/internal/notify"
	"quorum/api/internal/store"
)

// eventSink receives post-commit events. The HTTP layer — not the service —
// triggers it, after the store write has succeeded.
type eventSink interface {
	Publish(ctx context.Context, event notify.Event) error
}

type HTTPServer struct {
	service    *Service
	events     eventSink
	corsOrigin string
}

// NewHTTPServer wires the API surface. events may be nil, which disables
// real-time notifications without affecting any operation's result.
func NewHTTPServer(service *Service, events eventSink, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, events: events, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/themes" {
		items, err := s.service.ListThemeVotes(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list theme votes", nil)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, themeVoteJSON(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"themes": payload})
		return
	}

	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	if r.URL.Path == "/api/bookmarks" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListBookmarks(r.Context(), username)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			payload := make([]map[string]any, 0, len(items))
			for _, item := range items {
				payload = append(payload, bookmarkJSON(item))
			}
			writeJSON(w, http.StatusOK, map[string]any{"bookmarks": payload})
			return
		case http.MethodPost:
			var body struct {
				QuestionID string `json:"questionId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.CreateBookmark(r.Context(), username, body.QuestionID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			s.publish(r.Context(), notify.BookmarkAdded{QuestionID: item.QuestionID, Username: username})
			writeJSON(w, http.StatusCreated, map[string]any{"bookmark": bookmarkJSON(item)})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "bookmarks" {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		item, err := s.service.DeleteBookmark(r.Context(), username, parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		s.publish(r.Context(), notify.BookmarkRemoved{QuestionID: item.QuestionID, Username: username})
		writeJSON(w, http.StatusOK, map[string]any{"bookmark": bookmarkJSON(item)})
		return
	}

	if r.URL.Path == "/api/collections" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListCollections(r.Context(), username)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			payload := make([]map[string]any, 0, len(items))
			for _, item := range items {
				payload = append(payload, collectionJSON(item))
			}
			writeJSON(w, http.StatusOK, map[string]any{"collections": payload})
			return
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.CreateCollection(r.Context(), username, body.Name)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"collection": collectionJSON(item)})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/collections/default" {
		item, err := s.service.GetOrCreateDefault(r.Context(), username)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"collection": collectionJSON(item)})
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "collections" {
		collectionID := parts[2]
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.RenameCollection(r.Context(), username, collectionID, body.Name)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"collection": collectionJSON(item)})
			return
		case http.MethodDelete:
			item, err := s.service.DeleteCollection(r.Context(), username, collectionID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"collection": collectionJSON(item)})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "collections" && parts[3] == "references" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		references, err := s.service.CollectionReferences(r.Context(), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"references": references})
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "collections" && parts[3] == "bookmarks" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			QuestionID string `json:"questionId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.AddToCollection(r.Context(), username, parts[2], body.QuestionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := map[string]any{
			"collection":    collectionJSON(result.Collection),
			"alreadyExists": result.AlreadyExists,
		}
		if result.AlreadyExists {
			// Duplicate add is a no-op, not a fresh addition: no event.
			payload["warning"] = "bookmark already in collection"
			writeJSON(w, http.StatusOK, payload)
			return
		}
		s.publish(r.Context(), notify.BookmarkAdded{QuestionID: strings.TrimSpace(body.QuestionID), Username: username})
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[0] == "api" && parts[1] == "collections" && parts[3] == "bookmarks" {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		item, err := s.service.RemoveFromCollection(r.Context(), username, parts[2], parts[4])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"collection": collectionJSON(item)})
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "themes" && parts[3] == "vote" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			Type string `json:"type"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.VoteTheme(r.Context(), parts[2], username, body.Type)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		s.publish(r.Context(), notify.ThemeVoteUpdate{
			Theme:     result.Theme,
			UpVotes:   result.UpVotes,
			DownVotes: result.DownVotes,
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"theme":     result.Theme,
			"upVotes":   result.UpVotes,
			"downVotes": result.DownVotes,
			"msg":       result.Message,
		})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// publish hands a post-commit event to the sink. Best effort: a failed or
// missing sink never fails the request that produced the event.
func (s *HTTPServer) publish(ctx context.Context, event notify.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		log.Printf("publish %s event: %v", event.Kind(), err)
	}
}

// requireUser resolves the acting username. Session resolution happens
// upstream; this layer only trusts the forwarded identity header and passes
// it down as an explicit argument.
func (s *HTTPServer) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	username := strings.TrimSpace(r.Header.Get("X-Quorum-User"))
	if username == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing X-Quorum-User header", nil)
		return "", false
	}
	return username, true
}

func bookmarkJSON(item store.Bookmark) map[string]any {
	return map[string]any{
		"id":         item.ID,
		"username":   item.Owner,
		"questionId": item.QuestionID,
		"createdAt":  item.CreatedAt,
	}
}

func collectionJSON(item store.Collection) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"username":  item.Owner,
		"name":      item.Name,
		"isDefault": item.IsDefault,
		"bookmarks": item.Bookmarks,
		"createdAt": item.CreatedAt,
		"updatedAt": item.UpdatedAt,
	}
}

func themeVoteJSON(item store.ThemeVote) map[string]any {
	return map[string]any{
		"theme":     item.Theme,
		"upVotes":   item.UpVotes,
		"downVotes": item.DownVotes,
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Quorum-User, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
