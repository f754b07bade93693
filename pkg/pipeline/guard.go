package pipeline

import (
	"context"

	"github.com/google/uuid"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
)

// importKey is the external id the job's import marker is keyed on: the
// transcript id, or the job itself for pasted content so a rerun of the same
// job cannot store a second memo.
func (p *run) importKey() string {
	if p.job.SourceID != "" {
		return p.job.SourceID
	}
	return "job:" + p.job.ID.String()
}

// checkImported looks up the import marker for the job.
func (p *run) checkImported(ctx context.Context) (uuid.UUID, bool, error) {
	var (
		memoID uuid.UUID
		found  bool
	)
	err := p.stage(ctx, StageGuard, func(ctx context.Context) error {
		var err error
		memoID, found, err = p.memos.FindImported(ctx, p.job.UserID, string(p.job.Source), p.importKey())
		if err != nil {
			return dmerrors.New(dmerrors.ErrCodePersistence, StageGuard, "checking for an earlier import failed", err)
		}
		return nil
	})
	return memoID, found, err
}
