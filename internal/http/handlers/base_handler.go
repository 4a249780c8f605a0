// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatchd/internal/errs"
)

type errorResponse struct {
	Error string    `json:"error"`
	Kind  errs.Kind `json:"kind"`
	Code  string    `json:"code,omitempty"`
}

// isValidID accepts Firestore document ids: non-empty, at most 128 bytes, no
// path separators.
func isValidID(v string) bool {
	if v == "" || len(v) > 128 || v == "." || v == ".." {
		return false
	}
	for _, c := range v {
		if c == '/' {
			return false
		}
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.Unauthenticated:
		return http.StatusUnauthorized
	case errs.PermissionDenied:
		return http.StatusForbidden
	case errs.InvalidArgument:
		return http.StatusBadRequest
	case errs.NotFound:
		return http.StatusNotFound
	case errs.FailedPrecondition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err's kind to a status. Internal errors never leak their
// message.
func writeError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	resp := errorResponse{Error: err.Error(), Kind: kind, Code: errs.CodeOf(err)}
	if kind == errs.Internal {
		_ = c.Error(err)
		resp.Error = "internal error"
	}
	writeJSON(c, statusFor(kind), resp)
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, errs.New(errs.InvalidArgument, "INVALID_ARGUMENT", msg))
}

// bindOptional decodes a JSON body when one is present.
func bindOptional(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid json")
		return false
	}
	return true
}
