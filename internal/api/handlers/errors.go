package handlers

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/fpv/internal/errs"
	"github.com/your-org/fpv/pkg/dto"
)

// writeError renders err as the standard error envelope. Messages of
// non-public kinds are replaced with an opaque one.
func writeError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	msg := err.Error()
	if !errs.Public(kind) {
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
		kind = errs.KindInternal
		msg = "internal error"
	}
	writeEnvelope(c, errs.HTTPStatus(kind), string(kind), msg)
}

func writeEnvelope(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      c.Request.URL.Path,
		Status:    status,
		Code:      code,
		Message:   msg,
	})
}
