package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/streamline/gateway/internal/apperr"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Code     string `json:"code,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusUnauthorized: {
		typeURI: "https://streamline.dev/errors/unauthorized",
		title:   "Unauthorized",
	},
	http.StatusBadRequest: {
		typeURI: "https://streamline.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: "https://streamline.dev/errors/not-found",
		title:   "Not Found",
	},
	http.StatusInternalServerError: {
		typeURI: "https://streamline.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
	http.StatusUnprocessableEntity: {
		typeURI: "https://streamline.dev/errors/validation-error",
		title:   "Validation Error",
	},
	http.StatusServiceUnavailable: {
		typeURI: "https://streamline.dev/errors/service-unavailable",
		title:   "Service Unavailable",
	},
	http.StatusConflict: {
		typeURI: "https://streamline.dev/errors/conflict",
		title:   "Conflict",
	},
	http.StatusForbidden: {
		typeURI: "https://streamline.dev/errors/forbidden",
		title:   "Forbidden",
	},
	http.StatusTooManyRequests: {
		typeURI: "https://streamline.dev/errors/rate-limit",
		title:   "Too Many Requests",
	},
	http.StatusGatewayTimeout: {
		typeURI: "https://streamline.dev/errors/dependency-timeout",
		title:   "Dependency Timeout",
	},
	http.StatusBadGateway: {
		typeURI: "https://streamline.dev/errors/dependency-failure",
		title:   "Dependency Failure",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response with a plain
// detail string and no machine code.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblem(w, r, status, detail, "")
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail, code string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = struct {
			typeURI string
			title   string
		}{
			typeURI: "https://streamline.dev/errors/unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Code:     code,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// WriteProblemConflict writes a 409 Conflict problem response.
func WriteProblemConflict(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, http.StatusConflict, detail)
}

// WriteProblemForbidden writes a 403 Forbidden problem response.
func WriteProblemForbidden(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, http.StatusForbidden, detail)
}

// WriteAppError converts an internal/apperr error into an RFC 7807
// response, generalizing the teacher's MapStoreError from a closed set
// of sentinel store errors to apperr.Kind — the single kind->status
// mapping spec.md §7 and SPEC_FULL.md §7 require (delegated entirely to
// apperr.HTTPStatus/apperr.WireCode/apperr.Message, never duplicated
// here). A plain, non-apperr error is treated as an unclassified
// internal failure and its detail is never echoed to the client.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	detail := apperr.Message(err)
	if status == http.StatusInternalServerError {
		slog.Error("internal error", "path", r.URL.Path, "error", err)
		detail = "Internal Server Error"
	}

	writeProblem(w, r, status, detail, apperr.WireCode(err))
}
