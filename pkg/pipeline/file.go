package pipeline

import (
	"context"
	"errors"

	"github.com/otherjamesbrown/dealmemo/pkg/crm"
	"github.com/otherjamesbrown/dealmemo/pkg/docstore"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/templates"
	"github.com/otherjamesbrown/dealmemo/pkg/transcripts"
)

// fileDocument mirrors the memo into the owner's document store and records
// the link on the memo. It returns the document URL, or "" when nothing was
// filed. The memo is never rolled back.
func (p *run) fileDocument(ctx context.Context, memo *crm.Memo, company *crm.Company, t *transcripts.Transcript) string {
	if p.filer == nil {
		return ""
	}

	var filed *docstore.Filed
	err := p.stage(ctx, StageFile, func(ctx context.Context) error {
		doc := docstore.Document{
			Title:        memo.Title,
			Category:     p.catalog.Get(templates.Category(memo.Category)).Name,
			Summary:      memo.Summary,
			Content:      memo.Content,
			MeetingDate:  memo.MeetingDate,
			Participants: t.Participants,
			DocumentID:   memo.DocumentID,
		}
		if company != nil {
			doc.CompanyName = company.Name
		}
		f, err := p.filer.File(ctx, p.job.UserID, doc)
		if errors.Is(err, docstore.ErrNotConnected) {
			return nil
		}
		filed = f
		return err
	})
	if err != nil {
		p.degrade(StageFile, err)
		return ""
	}
	if filed == nil {
		p.logger.Debug("no document store connected")
		return ""
	}

	if err := p.memos.SetMemoDocument(ctx, memo.ID, filed.DocumentID, filed.URL); err != nil {
		p.degrade(StageFile, err, logging.F("document_id", filed.DocumentID))
	}
	memo.DocumentID, memo.DocumentURL = filed.DocumentID, filed.URL
	p.logger.Info("memo filed", logging.F("document_id", filed.DocumentID))
	return filed.URL
}
