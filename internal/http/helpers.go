package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dompet/internal/core"
	"dompet/internal/overview"
)

// HeaderUserID carries the caller identity. Authentication happens upstream.
const HeaderUserID = "X-User-ID"

const maxBodyBytes = 1 << 20

func userFrom(r *http.Request) (core.UserID, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return "", errMissingUser
	}
	return core.UserID(id), nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	if body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
// Bodies past maxBodyBytes are cut off and fail to parse.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var ce *core.Error
		if errors.As(err, &ce) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return core.Invalidf("body", "request body is empty")
		}
		return core.Invalidf("body", "malformed JSON: %v", err)
	}
	if dec.More() {
		return core.Invalidf("body", "request body must hold a single JSON object")
	}
	return nil
}

// monthParam reads ?month=YYYY-MM, defaulting to the month of now.
func monthParam(r *http.Request, now time.Time) (core.Month, error) {
	v := strings.TrimSpace(r.URL.Query().Get("month"))
	if v == "" {
		return core.MonthOf(now), nil
	}
	return core.ParseMonth(v)
}

// daysParam reads ?days=N, defaulting to overview.DefaultDays.
func daysParam(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("days"))
	if v == "" {
		return overview.DefaultDays, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, core.Invalidf("days", "days must be an integer")
	}
	return n, overview.ValidateDays(n)
}

func kindParam(r *http.Request, name string) core.Kind {
	return core.Kind(strings.ToLower(strings.TrimSpace(r.URL.Query().Get(name))))
}

// orEmpty keeps list responses as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
