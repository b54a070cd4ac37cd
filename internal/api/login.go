package api

import (
	"errors"
	"net/http"
	"time"

	goahttp "goa.design/goa/v3/http"
	goa "goa.design/goa/v3/pkg"

	"sightline/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.opts.Auth.IsEnabled() {
		s.fail(ctx, w, goa.PermanentError("unauthorized", "Authentication is disabled"))
		return
	}

	var body loginRequest
	if err := goahttp.RequestDecoder(r).Decode(&body); err != nil {
		s.fail(ctx, w, badRequest("invalid login payload"))
		return
	}

	token, expiresAt, err := s.opts.Auth.Authenticate(body.Username, body.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.fail(ctx, w, goa.PermanentError("unauthorized", "Invalid username or password"))
		return
	}
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	s.respond(ctx, w, http.StatusOK, &loginResponse{Token: token, ExpiresAt: expiresAt})
}
