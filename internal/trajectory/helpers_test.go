package trajectory

import (
	"context"

	"github.com/tmc/langchaingo/llms"
)

// stubModel satisfies llms.Model for validation tests.
type stubModel struct{}

func (stubModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{}, nil
}

func (stubModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", nil
}
