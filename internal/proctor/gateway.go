package proctor

import (
	"context"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Principal identifies who is taking the session. It is passed to the controller
// explicitly and forwarded to every backend call.
type Principal struct {
	TestID    string
	StudentID int
	Token     string
}

// Gateway is the external test backend.
type Gateway interface {
	FetchTest(ctx context.Context, who Principal) (*model.TestContent, error)
	// SubmitTest posts the answered questions keyed by their original index.
	SubmitTest(ctx context.Context, who Principal, answers map[int]model.Answer) (*model.SubmitResult, error)
}
