package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/fpv/internal/errs"
	"github.com/your-org/fpv/internal/models"
	"github.com/your-org/fpv/pkg/dto"
)

type Verifier interface {
	Verify(ctx context.Context, req models.VerificationRequest) (*models.Decision, error)
	Positions(ctx context.Context, backend string, filters map[string]string) ([]models.Position, error)
}

type VerifyHandler struct {
	engine  Verifier
	maxBody int64
}

// NewVerifyHandler returns a handler reading at most maxBody bytes per
// request body. Zero disables the cap.
func NewVerifyHandler(engine Verifier, maxBody int64) *VerifyHandler {
	return &VerifyHandler{engine: engine, maxBody: maxBody}
}

// bind decodes the JSON body and renders the error response on failure.
func (h *VerifyHandler) bind(c *gin.Context, dst any) bool {
	if h.maxBody > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	}
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeEnvelope(c, http.StatusRequestEntityTooLarge, string(errs.KindInvalidImageFormat),
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return false
	}
	writeError(c, errs.New(errs.KindInvalidFilter, "malformed request: "+err.Error()))
	return false
}

func (h *VerifyHandler) Verify(c *gin.Context) {
	var body dto.VerifyRequest
	if !h.bind(c, &body) {
		return
	}

	req, err := toVerificationRequest(body)
	if err != nil {
		writeError(c, err)
		return
	}

	dec, err := h.engine.Verify(c.Request.Context(), req)
	if errs.Has(err, errs.KindNoMatch) {
		c.JSON(http.StatusOK, dto.VerifyResponse{
			Status:  "not_matched",
			Code:    string(errs.KindNoMatch),
			Message: err.Error(),
		})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.VerifyResponse{
		Status:        "matched",
		ID:            dec.CandidateID,
		NationalID:    dec.NationalID,
		MatchingScore: dec.Score,
	})
}

// toVerificationRequest resolves where the sample came from. A sample in
// params wins over the top-level image; a missing sample is left empty for
// query validation to report.
func toVerificationRequest(body dto.VerifyRequest) (models.VerificationRequest, error) {
	req := models.VerificationRequest{
		Backend:      body.Backend,
		Filters:      body.Filters,
		CandidateIDs: body.CandidateIDs,
		Kind:         models.SampleKindImage,
	}
	if req.Filters == nil {
		req.Filters = map[string]string{}
	}
	if body.ImageType != "" {
		req.Kind = models.SampleKind(body.ImageType)
		if !req.Kind.Valid() {
			return req, errs.New(errs.KindInvalidImageFormat, "imageType must be image or template")
		}
	}

	var encoded string
	position := body.Position
	if body.Params != nil && body.Params.Image != "" {
		encoded = body.Params.Image
		if body.Params.Position != nil {
			position = body.Params.Position
		}
	} else {
		if body.Image != nil {
			encoded = *body.Image
		}
		req.InlineSample = &encoded
	}
	if position != nil {
		req.Position = models.Position(*position)
	}

	sample, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return req, errs.New(errs.KindInvalidImageFormat, "image is not valid base64")
	}
	req.Sample = sample
	return req, nil
}

func (h *VerifyHandler) Positions(c *gin.Context) {
	var body dto.PositionsRequest
	if !h.bind(c, &body) {
		return
	}

	positions, err := h.engine.Positions(c.Request.Context(), body.Backend, body.Filters)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := dto.PositionsResponse{Positions: make([]dto.PositionResponse, 0, len(positions))}
	for _, p := range positions {
		resp.Positions = append(resp.Positions, dto.PositionResponse{Code: p.Code(), Name: p.String()})
	}
	c.JSON(http.StatusOK, resp)
}
