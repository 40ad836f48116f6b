package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soldesk/goperp/internal/domain"
)

type paramsKeyType string

const paramsKey paramsKeyType = "goperp_path_params"

// wrap adapts net/http handlers to gin, injecting path params into request context.
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}

func pathParam(r *http.Request, key string) string {
	if m, ok := r.Context().Value(paramsKey).(map[string]string); ok {
		return m[key]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
// The three user-visible classes need different user actions:
// fix input (400), wait/retry (500), check explorer (advisory states).
func writeDomainError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, ve.Error())
		return
	}

	var ime *domain.InsufficientMarginError
	if errors.As(err, &ime) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "insufficient margin",
			"have":    ime.Have,
			"need":    ime.Need,
		})
		return
	}

	var nfe *domain.NotFoundError
	if errors.As(err, &nfe) {
		writeError(w, http.StatusNotFound, nfe.Error())
		return
	}

	if errors.Is(err, domain.ErrNoCollateralAccount) {
		writeError(w, http.StatusBadRequest, "no collateral token account for this wallet")
		return
	}

	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		writeError(w, http.StatusInternalServerError, "network unavailable, please retry: "+ue.Error())
		return
	}

	writeError(w, http.StatusInternalServerError, err.Error())
}
