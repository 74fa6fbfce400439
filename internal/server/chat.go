package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"contxtd/internal/prompt"
	"contxtd/internal/providers"
	"contxtd/internal/storage"
)

type chatRequest struct {
	ProfileID int64  `json:"profile_id"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Content string           `json:"content"`
	Model   string           `json:"model"`
	Usage   *providers.Usage `json:"usage,omitempty"`
}

// chat loads the selected profile and recent history, builds the message
// list, dispatches, and persists both turns. Persistence failures after a
// successful completion are logged but do not fail the request.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.Provider == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "provider and model are required")
		return
	}

	ctx := r.Context()

	var profile *storage.Profile
	if req.ProfileID != 0 {
		p, err := s.store.GetProfile(ctx, req.ProfileID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, "profile not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "storage error")
			return
		}
		profile = &p
	}

	history, err := s.store.RecentMessages(ctx, req.ProfileID, s.historyLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	turns := make([]providers.Message, 0, len(history))
	for _, m := range history {
		turns = append(turns, providers.Message{Role: m.Role, Content: m.Content})
	}

	messages := prompt.BuildMessages(profile, turns, req.Message)

	resp, err := s.dispatcher.Chat(ctx, messages, req.Provider, req.Model)
	if err != nil {
		status, msg := chatErrorStatus(err)
		writeError(w, status, msg)
		return
	}

	userTurn := storage.ChatMessage{
		ProfileID: req.ProfileID,
		Role:      providers.RoleUser,
		Content:   req.Message,
		Provider:  req.Provider,
		Model:     req.Model,
	}
	assistantTurn := storage.ChatMessage{
		ProfileID: req.ProfileID,
		Role:      providers.RoleAssistant,
		Content:   resp.Content,
		Provider:  req.Provider,
		Model:     resp.Model,
	}
	// Each turn is persisted on its own so a failed user-turn insert cannot
	// drop a completed response.
	if err := s.store.AppendMessage(ctx, userTurn); err != nil {
		s.logger.Error().Err(err).Msg("persist user turn failed")
	}
	if err := s.store.AppendMessage(ctx, assistantTurn); err != nil {
		s.logger.Error().Err(err).Msg("persist assistant turn failed")
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Content: resp.Content,
		Model:   resp.Model,
		Usage:   resp.Usage,
	})
}

func chatErrorStatus(err error) (int, string) {
	var (
		unsupported *providers.UnsupportedProviderError
		missing     *providers.MissingCredentialError
		unreachable *providers.ProviderUnreachableError
		connFailed  *providers.ConnectionFailedError
		upstream    *providers.UpstreamError
	)
	switch {
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, unsupported.Error()
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity, missing.Error()
	case errors.As(err, &unreachable):
		return http.StatusServiceUnavailable, unreachable.Error()
	case errors.As(err, &connFailed):
		return http.StatusBadGateway, connFailed.Error()
	case errors.As(err, &upstream):
		return http.StatusBadGateway, upstream.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
