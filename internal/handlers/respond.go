package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lomi/client/internal/apiclient"
	"github.com/lomi/client/internal/logging"
)

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	respondJSON(ctx, w, status, map[string]string{"error": msg})
}

// upstreamStatus maps an error from the Lomi API to a control API status.
func upstreamStatus(err error) int {
	var statusErr *apiclient.StatusError
	switch {
	case errors.Is(err, apiclient.ErrRefreshFailed), errors.Is(err, apiclient.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &statusErr) && statusErr.Status >= 400 && statusErr.Status < 500:
		return statusErr.Status
	default:
		return http.StatusBadGateway
	}
}
