package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/otherjamesbrown/dealmemo/pkg/crm"
	"github.com/otherjamesbrown/dealmemo/pkg/docstore"
	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/integrations"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/llm"
	"github.com/otherjamesbrown/dealmemo/pkg/transcripts"
)

var fixedNow = func() time.Time { return time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC) }

// mockLLM answers by CompletionRequest.Operation.
type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	args := m.MethodCalled(req.Operation, req)
	resp, _ := args.Get(0).(*llm.CompletionResponse)
	return resp, args.Error(1)
}

func reply(content string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: content, Model: "test-model"}
}

// sectionNamed matches a section request for the given heading.
func sectionNamed(title string) any {
	return mock.MatchedBy(func(r *llm.CompletionRequest) bool {
		return strings.Contains(r.Prompt, fmt.Sprintf("%q section", title))
	})
}

type memoryJobs struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*jobs.Job
	progress map[uuid.UUID][]int
}

func newMemoryJobs() *memoryJobs {
	return &memoryJobs{jobs: map[uuid.UUID]*jobs.Job{}, progress: map[uuid.UUID][]int{}}
}

func (s *memoryJobs) add(owner uuid.UUID, source jobs.Source, sourceID string, meta jobs.Metadata) *jobs.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &jobs.Job{
		ID:       uuid.New(),
		UserID:   owner,
		Source:   source,
		SourceID: sourceID,
		Status:   jobs.StatusPending,
		Metadata: meta,
	}
	s.jobs[j.ID] = j
	return j
}

func (s *memoryJobs) snapshot(id uuid.UUID) jobs.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memoryJobs) Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, dmerrors.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memoryJobs) Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, dmerrors.ErrNotFound
	}
	if j.Status != jobs.StatusPending {
		cp := *j
		return &cp, fmt.Errorf("job %s is %s: %w", id, j.Status, dmerrors.ErrInvalidState)
	}
	j.Status = jobs.StatusProcessing
	j.Attempts++
	j.Progress = 0
	cp := *j
	return &cp, nil
}

func (s *memoryJobs) UpdateProgress(ctx context.Context, id uuid.UUID, step string, progress int, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].CurrentStep = step
	s.jobs[id].Progress = progress
	s.progress[id] = append(s.progress[id], progress)
	return nil
}

func (s *memoryJobs) Heartbeat(ctx context.Context, id uuid.UUID, lease time.Duration) error {
	return nil
}

func (s *memoryJobs) Complete(ctx context.Context, id uuid.UUID, result jobs.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.Status = jobs.StatusCompleted
	j.Progress = 100
	j.Result = &result
	return nil
}

func (s *memoryJobs) Fail(ctx context.Context, id uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.Status = jobs.StatusFailed
	j.Error = message
	return nil
}

type memoLink struct {
	contactID uuid.UUID
	memoID    uuid.UUID
	context   crm.ContactContext
}

// memoryCRM is an in-memory MemoStore. Markers are keyed by owner, source
// and external id the way the import_markers table is.
type memoryCRM struct {
	mu        sync.Mutex
	memos     []*crm.Memo
	markers   map[string]uuid.UUID
	companies []*crm.Company
	contacts  []*crm.Contact
	links     []memoLink
	tasks     []*crm.Task
	reminders []*crm.Reminder

	// hideMarkers makes FindImported miss, as when a concurrent run has not
	// committed yet.
	hideMarkers bool
	failSave    bool
}

func newMemoryCRM() *memoryCRM {
	return &memoryCRM{markers: map[string]uuid.UUID{}}
}

func markerKey(owner uuid.UUID, source, externalID string) string {
	return owner.String() + "|" + source + "|" + externalID
}

func (m *memoryCRM) FindImported(ctx context.Context, owner uuid.UUID, source, externalID string) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideMarkers {
		return uuid.Nil, false, nil
	}
	id, ok := m.markers[markerKey(owner, source, externalID)]
	return id, ok, nil
}

func (m *memoryCRM) SaveMemo(ctx context.Context, memo *crm.Memo) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return uuid.Nil, false, fmt.Errorf("connection refused")
	}
	key := memo.MarkerID()
	if key != "" {
		if id, ok := m.markers[markerKey(memo.UserID, memo.Source, key)]; ok {
			return id, true, nil
		}
	}
	memo.ID = uuid.New()
	cp := *memo
	m.memos = append(m.memos, &cp)
	if key != "" {
		m.markers[markerKey(memo.UserID, memo.Source, key)] = memo.ID
	}
	return memo.ID, false, nil
}

func (m *memoryCRM) SetMemoDocument(ctx context.Context, memoID uuid.UUID, documentID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, memo := range m.memos {
		if memo.ID == memoID {
			memo.DocumentID, memo.DocumentURL = documentID, url
			return nil
		}
	}
	return dmerrors.ErrNotFound
}

func (m *memoryCRM) SetMemoCompany(ctx context.Context, memoID, companyID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, memo := range m.memos {
		if memo.ID == memoID {
			memo.CompanyID = &companyID
			return nil
		}
	}
	return dmerrors.ErrNotFound
}

func (m *memoryCRM) ListCompanies(ctx context.Context, owner uuid.UUID) ([]crm.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []crm.Company
	for _, c := range m.companies {
		if c.UserID == owner {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memoryCRM) CreateCompany(ctx context.Context, c *crm.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	cp := *c
	m.companies = append(m.companies, &cp)
	return nil
}

func (m *memoryCRM) firstContact(owner uuid.UUID, match func(*crm.Contact) bool) (*crm.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.UserID == owner && match(c) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, dmerrors.ErrNotFound
}

func (m *memoryCRM) FindContactByEmail(ctx context.Context, owner uuid.UUID, email string) (*crm.Contact, error) {
	return m.firstContact(owner, func(c *crm.Contact) bool {
		return c.Email != "" && crm.NormalizeEmail(c.Email) == crm.NormalizeEmail(email)
	})
}

func (m *memoryCRM) FindContactByProfileURL(ctx context.Context, owner uuid.UUID, url string) (*crm.Contact, error) {
	return m.firstContact(owner, func(c *crm.Contact) bool {
		return c.ProfileURL != "" && crm.NormalizeProfileURL(c.ProfileURL) == crm.NormalizeProfileURL(url)
	})
}

func (m *memoryCRM) FindContactByName(ctx context.Context, owner uuid.UUID, name string) (*crm.Contact, error) {
	return m.firstContact(owner, func(c *crm.Contact) bool { return crm.FoldName(c.Name) == crm.FoldName(name) })
}

func (m *memoryCRM) CreateContact(ctx context.Context, c *crm.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	cp := *c
	m.contacts = append(m.contacts, &cp)
	return nil
}

func (m *memoryCRM) UpdateContact(ctx context.Context, c *crm.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.contacts {
		if existing.ID == c.ID {
			cp := *c
			m.contacts[i] = &cp
			return nil
		}
	}
	return dmerrors.ErrNotFound
}

func (m *memoryCRM) LinkContactToMemo(ctx context.Context, contactID, memoID uuid.UUID, cc crm.ContactContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, memoLink{contactID: contactID, memoID: memoID, context: cc})
	return nil
}

func (m *memoryCRM) ListTaskTitles(ctx context.Context, memoID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var titles []string
	for _, t := range m.tasks {
		if t.MemoID != nil && *t.MemoID == memoID {
			titles = append(titles, t.Title)
		}
	}
	return titles, nil
}

func (m *memoryCRM) CreateTask(ctx context.Context, t *crm.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	cp := *t
	m.tasks = append(m.tasks, &cp)
	return nil
}

func (m *memoryCRM) CreateReminder(ctx context.Context, r *crm.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	cp := *r
	m.reminders = append(m.reminders, &cp)
	return nil
}

func (m *memoryCRM) contactNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, c := range m.contacts {
		names = append(names, c.Name)
	}
	return names
}

func (m *memoryCRM) contactID(name string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.Name == name {
			return c.ID
		}
	}
	return uuid.Nil
}

// noIntegrations is an integration store where nothing is connected.
type noIntegrations struct{}

func (noIntegrations) Get(ctx context.Context, owner uuid.UUID, p integrations.Provider) (*integrations.Integration, error) {
	return nil, fmt.Errorf("%s integration: %w", p.DisplayName(), dmerrors.ErrNotFound)
}

func (noIntegrations) MarkError(ctx context.Context, id uuid.UUID, msg string) error { return nil }

func (noIntegrations) MarkActive(ctx context.Context, id uuid.UUID) error { return nil }

type unreachablePuller struct{}

func (unreachablePuller) FetchTranscript(ctx context.Context, apiKey, id string) (*transcripts.Transcript, error) {
	return nil, fmt.Errorf("puller must not be called")
}

type fakeFiler struct {
	mu    sync.Mutex
	filed *docstore.Filed
	err   error
	docs  []docstore.Document
}

func (f *fakeFiler) File(ctx context.Context, owner uuid.UUID, doc docstore.Document) (*docstore.Filed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return f.filed, f.err
}
