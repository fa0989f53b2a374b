package http

import (
	"github.com/fyrsmithlabs/convsim/internal/orchestrator"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ValidateResponse is the response body for POST /api/v1/validate.
type ValidateResponse struct {
	Valid     bool     `json:"valid"`
	Errors    []string `json:"errors,omitempty"`
	Steps     int      `json:"steps"`
	Start     string   `json:"start,omitempty"`
	Terminals []string `json:"terminals,omitempty"`
}

// RunErrorResponse is returned with 502 when an external call aborts a run.
type RunErrorResponse struct {
	Error     string                 `json:"error"`
	Phase     orchestrator.Phase     `json:"phase"`
	TurnIndex int                    `json:"turn_index"`
	Steps     []trajectory.StepTrace `json:"steps"`
}

// ErrorResponse is the body of every other error.
type ErrorResponse struct {
	Error string `json:"error"`
}
