package authstub

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/atendo/atendo/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 64 << 10

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         *models.User `json:"user,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.forced(w, EndpointLogin) {
		return
	}

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]string{{"msg": "email and password are required"}},
		})
		return
	}

	resp, status, msg := s.login(r, req.Email, req.Password)
	if status != http.StatusOK {
		writeDetail(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleToken is the OAuth2 password grant flavour of login.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.forced(w, EndpointToken) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "invalid form body")
		return
	}
	if r.PostForm.Get("grant_type") != "password" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "only the password grant is supported")
		return
	}

	resp, status, msg := s.login(r, r.PostForm.Get("username"), r.PostForm.Get("password"))
	if status != http.StatusOK {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", msg)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) login(r *http.Request, email, password string) (*tokenResponse, int, string) {
	ctx := r.Context()
	now := s.cfg.Now()

	account, err := s.authenticate(ctx, email, password)
	if err != nil {
		log.Info().Str("email", email).Str("clientIP", ClientIPFromContext(ctx)).Msg("login rejected")
		return nil, http.StatusUnauthorized, "Incorrect email or password"
	}
	if account.IsDisabled() {
		return nil, http.StatusForbidden, "Account disabled"
	}

	if n, _ := s.sessions.DeleteExpired(ctx, now); n > 0 {
		log.Debug().Int("count", n).Msg("expired sessions removed")
	}

	accessToken, err := s.IssueAccessToken(account)
	if err != nil {
		log.Error().Err(err).Msg("failed to issue access token")
		return nil, http.StatusInternalServerError, "Internal server error"
	}

	refreshToken, hash, err := newRefreshToken()
	if err != nil {
		log.Error().Err(err).Msg("failed to issue refresh token")
		return nil, http.StatusInternalServerError, "Internal server error"
	}

	sessionID, err := uuid.NewV7()
	if err != nil {
		return nil, http.StatusInternalServerError, "Internal server error"
	}

	if err := s.sessions.Create(ctx, &models.Session{
		SessionID:        sessionID,
		UserID:           account.UserID,
		RefreshTokenHash: hash,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.cfg.RefreshTTL),
		LastUsedAt:       now,
		UserAgent:        r.UserAgent(),
		IPAddress:        ClientIPFromContext(ctx),
	}); err != nil {
		return nil, http.StatusInternalServerError, "Internal server error"
	}

	log.Info().Str("userID", account.UserID.String()).Str("sessionID", sessionID.String()).Msg("login succeeded")

	return &tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.accessTTL().Seconds()),
		User:         account.User(),
	}, http.StatusOK, ""
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	forced, gate := s.hooks.enter(EndpointRefresh)
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if forced != 0 {
		writeDetail(w, forced, http.StatusText(forced))
		return
	}

	ctx := r.Context()
	now := s.cfg.Now()

	var req refreshRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.RefreshToken == "" {
		writeDetail(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	session, err := s.sessions.GetByRefreshTokenHash(ctx, hashRefreshToken(req.RefreshToken), now)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			writeDetail(w, http.StatusUnauthorized, "Refresh token expired")
			return
		}
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	account, err := s.accounts.Get(ctx, session.UserID)
	if err != nil || account.IsDisabled() {
		if err := s.sessions.Delete(ctx, session.SessionID); err != nil {
			log.Warn().Err(err).Str("sessionID", session.SessionID.String()).Msg("failed to delete session")
		}
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	accessToken, err := s.IssueAccessToken(account)
	if err != nil {
		log.Error().Err(err).Msg("failed to issue access token")
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := &tokenResponse{
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.accessTTL().Seconds()),
	}

	if s.cfg.KeepRefreshToken {
		if err := s.sessions.Touch(ctx, session.SessionID, now); err != nil {
			log.Warn().Err(err).Str("sessionID", session.SessionID.String()).Msg("failed to touch session")
		}
	} else {
		refreshToken, hash, err := newRefreshToken()
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if err := s.sessions.Rotate(ctx, session.SessionID, hash, now); err != nil {
			writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
			return
		}
		resp.RefreshToken = refreshToken
	}

	log.Debug().Str("sessionID", session.SessionID.String()).Bool("rotated", resp.RefreshToken != "").Msg("refresh succeeded")

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if s.forced(w, EndpointMe) {
		return
	}

	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	claims, err := s.keys.Verify(raw)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	account, err := s.accounts.Get(r.Context(), userID)
	if err != nil || account.IsDisabled() {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, http.StatusOK, account.User())
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if s.forced(w, EndpointJWKS) {
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]any{s.keys.JWK()},
	})
}

// forced counts the call and writes the forced status, if any.
func (s *Server) forced(w http.ResponseWriter, endpoint string) bool {
	status, _ := s.hooks.enter(endpoint)
	if status == 0 {
		return false
	}
	writeDetail(w, status, http.StatusText(status))
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
