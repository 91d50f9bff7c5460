package dto

// VerifyParams is the alternate location of the sample in a verify request.
type VerifyParams struct {
	Image    string `json:"image"`
	Position *int   `json:"position,omitempty"`
}

type VerifyRequest struct {
	Backend string `json:"backend" binding:"required"`
	// Image is a base64-encoded sample. Ignored when Params carries one.
	Image        *string           `json:"image,omitempty"`
	Position     *int              `json:"position,omitempty"`
	Filters      map[string]string `json:"filters"`
	ImageType    string            `json:"imageType"`
	Params       *VerifyParams     `json:"params,omitempty"`
	CandidateIDs []string          `json:"candidateIds,omitempty"`
}

type VerifyResponse struct {
	Status        string  `json:"status"` // matched or not_matched
	ID            string  `json:"id,omitempty"`
	NationalID    string  `json:"nationalId,omitempty"`
	MatchingScore float64 `json:"matchingScore"`
	Code          string  `json:"code,omitempty"`
	Message       string  `json:"message,omitempty"`
}

type PositionsRequest struct {
	Backend string            `json:"backend" binding:"required"`
	Filters map[string]string `json:"filters"`
}

type PositionResponse struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

type PositionsResponse struct {
	Positions []PositionResponse `json:"positions"`
}

type BackendResponse struct {
	Name      string   `json:"name"`
	Driver    string   `json:"driver"`
	Positions []int    `json:"positions"`
	Filters   []string `json:"filters"`
}

type BackendListResponse struct {
	Backends []BackendResponse `json:"backends"`
}

// ErrorResponse is the body of every non-success response.
type ErrorResponse struct {
	Timestamp string `json:"timestamp"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}
