// Package debugsurface implements the read-only introspection HTTP server
// (spec §6): per-device snapshot JSON, health/capability diagnostics, and
// JWT-guarded admin actions (Reboot, InstallFirmwareUpdate, ForceRefresh,
// ClearStickyCapability). This is NOT the
// out-of-scope "diagnostic report formatter" mentioned in spec.md's
// Non-goals; it is a live JSON surface, the in-process analogue of the
// teacher's combined internal/server + internal/api.
//
// Grounded on the teacher's internal/server/server.go (chi router assembly,
// middleware stack: request-ID, recoverer, structured request log) and
// internal/api/response.go/request_id.go (JSON envelope + request-ID
// middleware, kept verbatim in shape), and internal/auth/jwt.go
// (NewWithClaims/ParseWithClaims, shared-secret HS256), narrowed to one
// shared secret since this library has no user/account system to issue
// per-user tokens for.
package debugsurface

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/strefethen/devicehub/internal/device"
)

// PlayerView is the minimal read surface the debug server needs from a
// Player, declared as an interface so debugsurface never imports player
// directly (it runs alongside player, orchestrator, group, etc., all of
// which are wired together by the host application, not by each other).
type PlayerView interface {
	ID() string
	Snapshot() device.Status
	Capabilities() CapabilitiesView
	LastRefreshOK() bool
}

// CapabilitiesView exposes the ternary capability map for diagnostics.
type CapabilitiesView interface {
	Snapshot() map[device.CapabilityFlag]device.Tri
}

// AdminActions are the mutating operations the debug surface is allowed to
// trigger, gated by a bearer token.
type AdminActions interface {
	Reboot(ctx context.Context, deviceID string) error
	InstallFirmwareUpdate(ctx context.Context, deviceID string) error
	ForceRefresh(ctx context.Context, deviceID string) error
	ClearStickyCapability(ctx context.Context, deviceID string, flag device.CapabilityFlag) error
}

// Registry resolves a device ID to its PlayerView, supplied by the host
// application.
type Registry func(deviceID string) (PlayerView, bool)

// Config bundles the debug surface's bind and auth settings.
type Config struct {
	JWTSecret string
}

type contextKey string

const requestIDKey contextKey = "requestID"

// New builds the chi router for the debug surface.
func New(cfg Config, registry Registry, actions AdminActions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(requestIDMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/devices/{id}", func(w http.ResponseWriter, req *http.Request) {
		p, ok := registry(chi.URLParam(req, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		writeJSON(w, http.StatusOK, snapshotView(p))
	})

	r.Get("/devices/{id}/capabilities", func(w http.ResponseWriter, req *http.Request) {
		p, ok := registry(chi.URLParam(req, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		writeJSON(w, http.StatusOK, p.Capabilities().Snapshot())
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.JWTSecret))

		r.Post("/devices/{id}/reboot", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if err := actions.Reboot(req.Context(), id); err != nil {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebooting"})
		})

		r.Post("/devices/{id}/firmware-update", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if err := actions.InstallFirmwareUpdate(req.Context(), id); err != nil {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "installing"})
		})

		r.Post("/devices/{id}/refresh", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if err := actions.ForceRefresh(req.Context(), id); err != nil {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
		})

		r.Post("/devices/{id}/capabilities/{flag}/clear-sticky", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			flag := device.CapabilityFlag(chi.URLParam(req, "flag"))
			if err := actions.ClearStickyCapability(req.Context(), id, flag); err != nil {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "cleared"})
		})
	})

	return r
}

type snapshot struct {
	ID            string        `json:"id"`
	Status        device.Status `json:"status"`
	LastRefreshOK bool          `json:"lastRefreshOk"`
}

func snapshotView(p PlayerView) snapshot {
	return snapshot{ID: p.ID(), Status: p.Snapshot(), LastRefreshOK: p.LastRefreshOK()}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("x-request-id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("x-request-id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestID returns the request ID for the current request.
func requestID(r *http.Request) string {
	if v := r.Context().Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

var (
	errTokenInvalid = errors.New("debugsurface: token invalid")
)

type claims struct {
	jwt.RegisteredClaims
}

// IssueToken mints an admin bearer token for the debug surface's mutating
// routes, signed with secret.
func IssueToken(secret string, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "devicehub-debugsurface",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

func verifyToken(secret, token string) error {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	parsed, err := parser.ParseWithClaims(token, &claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil || parsed == nil || !parsed.Valid {
		return errTokenInvalid
	}
	return nil
}

func bearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" || token == header {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			if err := verifyToken(secret, token); err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
