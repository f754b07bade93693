package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/otherjamesbrown/dealmemo/pkg/crm"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
)

var (
	// headingRegex matches markdown headings and bold-only lines.
	headingRegex = regexp.MustCompile(`^\s*(?:#{1,6}\s+(.+?)\s*#*\s*|\*\*(.+?)\*\*:?\s*)$`)
	bulletRegex  = regexp.MustCompile(`^\s*(?:[-*+•]|\d+[.)])\s+(?:\[[ xX]\]\s+)?(.+)$`)
	actionTitles = regexp.MustCompile(`(?i)^(?:action items?|next steps?)\b`)
)

// ParseActionItems returns the bullets under "Action Items" or "Next Steps"
// style headings in markdown content, in order.
func ParseActionItems(content string) []string {
	var (
		items    []string
		inAction bool
	)
	for _, line := range strings.Split(content, "\n") {
		if m := headingRegex.FindStringSubmatch(line); m != nil {
			title := m[1]
			if title == "" {
				title = m[2]
			}
			inAction = actionTitles.MatchString(strings.TrimSpace(title))
			continue
		}
		if !inAction {
			continue
		}
		m := bulletRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		item := cleanActionItem(m[1])
		if item == "" || strings.EqualFold(item, strings.TrimSuffix(NotDiscussed, ".")) || strings.EqualFold(item, "none") {
			continue
		}
		items = append(items, item)
	}
	return items
}

func cleanActionItem(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(strings.TrimRight(s, "."))
}

// createTasks turns the memo's action items into tasks, skipping titles the
// memo already has. It returns how many were created.
func (p *run) createTasks(ctx context.Context, memo *crm.Memo) int {
	items := ParseActionItems(memo.Content)
	if len(items) == 0 {
		return 0
	}

	seen := map[string]bool{}
	existing, err := p.memos.ListTaskTitles(ctx, memo.ID)
	if err != nil {
		p.degrade(StageMaterialize, err)
	}
	for _, title := range existing {
		seen[crm.NormalizeTitle(title)] = true
	}

	created := 0
	for _, item := range items {
		key := crm.NormalizeTitle(item)
		if seen[key] {
			continue
		}
		seen[key] = true

		task := &crm.Task{
			UserID:    p.job.UserID,
			MemoID:    &memo.ID,
			CompanyID: memo.CompanyID,
			Title:     item,
			Priority:  crm.PriorityMedium,
			Status:    crm.TaskPending,
		}
		if err := p.memos.CreateTask(ctx, task); err != nil {
			p.degrade(StageMaterialize, err, logging.F("task", item))
			continue
		}
		created++
	}
	return created
}

// createReminders stores one reminder per extracted commitment. It returns
// how many were created.
func (p *run) createReminders(ctx context.Context, memo *crm.Memo, ex extraction) int {
	now := p.now()
	created := 0
	for _, c := range ex.commitments {
		typ, ok := crm.ParseReminderType(c.Type)
		if !ok {
			continue
		}
		reminder := &crm.Reminder{
			UserID:      p.job.UserID,
			ContactID:   relatedContact(ex.contacts, c.RelatedPerson),
			CompanyID:   memo.CompanyID,
			MemoID:      &memo.ID,
			Type:        typ,
			Title:       c.Title,
			Context:     c.Context,
			SourceQuote: c.Quote,
			DueDate:     dueDate(c, typ, now),
			Priority:    crm.ParsePriority(c.Priority),
			Status:      crm.ReminderPending,
		}
		if err := p.memos.CreateReminder(ctx, reminder); err != nil {
			p.degrade(StageMaterialize, err, logging.F("reminder", c.Title))
			continue
		}
		created++
	}
	return created
}
