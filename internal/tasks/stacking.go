package tasks

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/phash"
)

// StackThreshold is the largest Hamming distance between two 16-bit blockhashes
// at which the captures are treated as the same shot.
const StackThreshold = 45

// Stack is a group of near-duplicate captures. BaseID is the earliest capture.
type Stack struct {
	BaseID    int64
	MemberIDs []int64
}

// GroupSimilar returns target plus every candidate within threshold of it, earliest capture first.
// It returns nil when nothing matches. Candidates with a hash of another length are skipped
// with a warning on logger, which may be nil.
func GroupSimilar(target *models.Image, candidates []*models.Image, threshold int, logger *log.Logger) ([]*models.Image, error) {
	var group []*models.Image
	for _, c := range candidates {
		if c.ID == target.ID || c.Phash == "" || c.Stacked() {
			continue
		}
		d, err := phash.HammingDistance(target.Phash, c.Phash)
		if errors.Is(err, phash.ErrLengthMismatch) {
			if logger != nil {
				logger.Warn("skipping stack candidate with a different hash size",
					"image", target.ID, "candidate", c.ID, "bits", len(target.Phash)*4, "candidate_bits", len(c.Phash)*4)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if d <= threshold {
			group = append(group, c)
		}
	}
	if len(group) == 0 {
		return nil, nil
	}

	group = append(group, target)
	slices.SortFunc(group, func(a, b *models.Image) int {
		if c := a.RecordedAt.Compare(b.RecordedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return group, nil
}

// stackSimilar compares a freshly hashed image against the session's unstacked images
// and persists the resulting stack. Stacked images are no longer candidates, so an
// image never joins a stack that formed before it was hashed.
func (e *Executor) stackSimilar(ctx context.Context, img *models.Image) (*Stack, error) {
	if img.Phash == "" || img.Stacked() {
		return nil, nil
	}

	candidates, err := e.store.ListStackCandidates(ctx, img.SessionID)
	if err != nil {
		return nil, err
	}
	group, err := GroupSimilar(img, candidates, e.threshold, e.logger)
	if err != nil || group == nil {
		return nil, err
	}

	stack := &Stack{BaseID: group[0].ID}
	for _, m := range group[1:] {
		stack.MemberIDs = append(stack.MemberIDs, m.ID)
	}
	if err := e.store.SetStack(ctx, stack.BaseID, stack.MemberIDs); err != nil {
		return nil, err
	}

	for _, m := range group {
		if m.ID == stack.BaseID {
			m.IsStackBase = true
			continue
		}
		m.StackID = &stack.BaseID
	}
	return stack, nil
}
