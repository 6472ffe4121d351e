// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridematch/internal/apperr"
	"ridematch/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

const maxIDLen = 64

// isValidID accepts uuids and provider-style ids: letters, digits, '-' and '_'.
func isValidID(v string) bool {
	if v == "" || len(v) > maxIDLen {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

// pathID reads a path parameter and answers 400 when it is not a valid id.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

// bindJSON decodes the body into dst and answers 400 on malformed input.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(c, http.StatusBadRequest, "empty body")
		} else {
			writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeAppError maps module errors to their HTTP status; anything unclassified is a 500
// whose detail stays in the request log.
func writeAppError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeError(c, apperr.HTTPStatus(kind), err.Error())
}
