package service

import (
	"context"
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// SubmitLatch is the cross-instance once-only guard on submission.
type SubmitLatch interface {
	TryLatchSubmit(ctx context.Context, testID string, studentID int) (bool, error)
}

// LatchedGateway sets the shared submit latch before forwarding a submission, so
// a session reaches the backend at most once even across server instances.
type LatchedGateway struct {
	proctor.Gateway
	latch SubmitLatch
}

// NewLatchedGateway wraps gw.
func NewLatchedGateway(gw proctor.Gateway, latch SubmitLatch) *LatchedGateway {
	return &LatchedGateway{Gateway: gw, latch: latch}
}

func (g *LatchedGateway) SubmitTest(ctx context.Context, who proctor.Principal, answers map[int]model.Answer) (*model.SubmitResult, error) {
	ok, err := g.latch.TryLatchSubmit(ctx, who.TestID, who.StudentID)
	if err != nil {
		return nil, fmt.Errorf("submit latch: %w", err)
	}
	if !ok {
		return nil, proctor.ErrAlreadySubmitted
	}
	return g.Gateway.SubmitTest(ctx, who, answers)
}
