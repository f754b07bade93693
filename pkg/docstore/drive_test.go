package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/integrations"
)

type fakeStore struct {
	integ     *integrations.Integration
	credsSets int
	errors    []string
	activated int
}

func (s *fakeStore) Get(ctx context.Context, owner uuid.UUID, p integrations.Provider) (*integrations.Integration, error) {
	if s.integ == nil || s.integ.UserID != owner || s.integ.Provider != p {
		return nil, fmt.Errorf("%s: %w", p, dmerrors.ErrNotFound)
	}
	cp := *s.integ
	return &cp, nil
}

func (s *fakeStore) UpdateCredentials(ctx context.Context, id uuid.UUID, creds integrations.Credentials) error {
	s.integ.Credentials = creds
	s.credsSets++
	return nil
}

func (s *fakeStore) UpdateSettings(ctx context.Context, id uuid.UUID, settings integrations.Settings) error {
	s.integ.Settings.FolderID = settings.FolderID
	return nil
}

func (s *fakeStore) MarkError(ctx context.Context, id uuid.UUID, msg string) error {
	s.integ.Status = integrations.StatusError
	s.errors = append(s.errors, msg)
	return nil
}

func (s *fakeStore) MarkActive(ctx context.Context, id uuid.UUID) error {
	s.integ.Status = integrations.StatusActive
	s.activated++
	return nil
}

type driveFile struct {
	name     string
	mimeType string
	parents  []string
	body     string
	trashed  bool
}

// fakeDrive serves the subset of the Drive v3 API and the OAuth token
// endpoint the filer uses.
type fakeDrive struct {
	mu          sync.Mutex
	validToken  string
	refreshOK   bool
	files       map[string]*driveFile
	nextID      int
	tokenCalls  int
	tokenAuth   []string
	unauthCalls int
}

func newFakeDrive(validToken string) *fakeDrive {
	return &fakeDrive{validToken: validToken, refreshOK: true, files: map[string]*driveFile{}}
}

func (d *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r.URL.Path == "/token" {
		d.tokenCalls++
		if err := r.ParseForm(); err == nil && r.PostForm.Get("client_id") != "" {
			d.tokenAuth = append(d.tokenAuth, "params")
		} else if _, _, ok := r.BasicAuth(); ok {
			d.tokenAuth = append(d.tokenAuth, "header")
		}
		w.Header().Set("Content-Type", "application/json")
		if !d.refreshOK {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3600}`, d.validToken)
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+d.validToken {
		d.unauthCalls++
		apiError(w, http.StatusUnauthorized, "Invalid Credentials")
		return
	}

	idx := strings.Index(r.URL.Path, "/files")
	if idx < 0 {
		apiError(w, http.StatusNotFound, "unknown path")
		return
	}
	id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path[idx:], "/files"), "/")
	upload := r.URL.Query().Get("uploadType") != ""

	switch {
	case r.Method == http.MethodGet && id != "":
		f, ok := d.files[id]
		if !ok {
			apiError(w, http.StatusNotFound, "File not found")
			return
		}
		writeJSON(w, map[string]any{"id": id, "trashed": f.trashed})
	case r.Method == http.MethodPost && id == "":
		meta, body := readUpload(r, upload)
		d.nextID++
		newID := fmt.Sprintf("file-%d", d.nextID)
		d.files[newID] = &driveFile{name: meta.Name, mimeType: meta.MimeType, parents: meta.Parents, body: body}
		writeJSON(w, map[string]any{"id": newID, "webViewLink": "https://drive.test/" + newID})
	case r.Method == http.MethodPatch && id != "":
		f, ok := d.files[id]
		if !ok {
			apiError(w, http.StatusNotFound, "File not found")
			return
		}
		meta, body := readUpload(r, upload)
		if meta.Name != "" {
			f.name = meta.Name
		}
		f.body = body
		writeJSON(w, map[string]any{"id": id, "webViewLink": "https://drive.test/" + id})
	default:
		apiError(w, http.StatusMethodNotAllowed, "unsupported")
	}
}

func (d *fakeDrive) byMime(mimeType string) []*driveFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*driveFile
	for _, f := range d.files {
		if f.mimeType == mimeType {
			out = append(out, f)
		}
	}
	return out
}

type fileMeta struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType"`
	Parents  []string `json:"parents"`
}

// readUpload decodes a plain JSON body or a multipart upload (metadata part
// followed by the media part).
func readUpload(r *http.Request, upload bool) (fileMeta, string) {
	var meta fileMeta
	if !upload {
		_ = json.NewDecoder(r.Body).Decode(&meta)
		return meta, ""
	}
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return meta, ""
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	if part, err := mr.NextPart(); err == nil {
		_ = json.NewDecoder(part).Decode(&meta)
	}
	var body []byte
	if part, err := mr.NextPart(); err == nil {
		body, _ = io.ReadAll(part)
	}
	return meta, string(body)
}

func apiError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, msg)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func setup(t *testing.T, creds integrations.Credentials) (*Filer, *fakeStore, *fakeDrive, uuid.UUID) {
	t.Helper()
	drive := newFakeDrive("fresh-token")
	srv := httptest.NewServer(drive)
	t.Cleanup(srv.Close)

	owner := uuid.New()
	store := &fakeStore{integ: &integrations.Integration{
		ID:          uuid.New(),
		UserID:      owner,
		Provider:    integrations.ProviderGoogleDrive,
		Status:      integrations.StatusActive,
		Credentials: creds,
	}}
	filer := NewFiler(store,
		OAuthConfig{ClientID: "client", ClientSecret: "secret", TokenURL: srv.URL + "/token"},
		WithHTTPClient(srv.Client()),
		WithDriveOptions(option.WithEndpoint(srv.URL+"/drive/v3/")),
	)
	return filer, store, drive, owner
}

func testDocument() Document {
	date := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	return Document{
		Title:        "Acme pitch",
		Category:     "Founder Pitch",
		CompanyName:  "Acme",
		Summary:      "Acme pitched their seed round.",
		Content:      "## Next Steps\n\n- Send the deck",
		MeetingDate:  &date,
		Participants: []string{"Alice", "Bob"},
	}
}

func TestFiler_NotConnected(t *testing.T) {
	filer, store, _, owner := setup(t, integrations.Credentials{AccessToken: "fresh-token"})

	_, err := filer.File(context.Background(), uuid.New(), testDocument())
	assert.ErrorIs(t, err, ErrNotConnected)

	store.integ.Status = integrations.StatusDisconnected
	_, err = filer.File(context.Background(), owner, testDocument())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestFiler_CreatesFolderAndDocument(t *testing.T) {
	filer, store, drive, owner := setup(t, integrations.Credentials{AccessToken: "fresh-token"})
	ctx := context.Background()

	filed, err := filer.File(ctx, owner, testDocument())
	require.NoError(t, err)
	assert.NotEmpty(t, filed.DocumentID)
	assert.Equal(t, "https://drive.test/"+filed.DocumentID, filed.URL)
	assert.Equal(t, filed.FolderID, store.integ.Settings.FolderID)

	folders := drive.byMime(folderMimeType)
	require.Len(t, folders, 1)
	assert.Equal(t, DefaultFolderName, folders[0].name)

	docs := drive.byMime(documentMimeType)
	require.Len(t, docs, 1)
	assert.Equal(t, []string{filed.FolderID}, docs[0].parents)
	assert.Equal(t, "2026-03-04 Acme pitch", docs[0].name)
	assert.Contains(t, docs[0].body, "<h1>Acme pitch</h1>")

	doc := testDocument()
	doc.DocumentID = filed.DocumentID
	doc.Content = "## Next Steps\n\n- Send the updated deck"
	again, err := filer.File(ctx, owner, doc)
	require.NoError(t, err)
	assert.Equal(t, filed.DocumentID, again.DocumentID)
	assert.Len(t, drive.byMime(folderMimeType), 1)
	assert.Len(t, drive.byMime(documentMimeType), 1)
	assert.Contains(t, drive.byMime(documentMimeType)[0].body, "updated deck")
}

func TestFiler_RecreatesTrashedFolder(t *testing.T) {
	filer, store, drive, owner := setup(t, integrations.Credentials{AccessToken: "fresh-token"})
	ctx := context.Background()

	first, err := filer.File(ctx, owner, testDocument())
	require.NoError(t, err)
	drive.mu.Lock()
	drive.files[first.FolderID].trashed = true
	drive.mu.Unlock()

	second, err := filer.File(ctx, owner, testDocument())
	require.NoError(t, err)
	assert.NotEqual(t, first.FolderID, second.FolderID)
	assert.Equal(t, second.FolderID, store.integ.Settings.FolderID)
}

func TestFiler_RecreatesMissingFolder(t *testing.T) {
	filer, store, _, owner := setup(t, integrations.Credentials{AccessToken: "fresh-token"})
	store.integ.Settings.FolderID = "deleted-folder"

	filed, err := filer.File(context.Background(), owner, testDocument())
	require.NoError(t, err)
	assert.NotEqual(t, "deleted-folder", filed.FolderID)
	assert.Equal(t, filed.FolderID, store.integ.Settings.FolderID)
}

func TestFiler_RefreshesOnUnauthorized(t *testing.T) {
	filer, store, drive, owner := setup(t, integrations.Credentials{AccessToken: "stale", RefreshToken: "refresh"})
	store.integ.Status = integrations.StatusError

	filed, err := filer.File(context.Background(), owner, testDocument())
	require.NoError(t, err)
	assert.NotEmpty(t, filed.DocumentID)
	assert.Equal(t, 1, drive.tokenCalls)
	assert.Equal(t, 1, drive.unauthCalls)
	assert.Equal(t, "fresh-token", store.integ.Credentials.AccessToken)
	assert.Equal(t, "refresh", store.integ.Credentials.RefreshToken)
	assert.Equal(t, integrations.StatusActive, store.integ.Status)
	assert.Equal(t, 1, store.activated)
}

func TestFiler_RefreshesExpiredTokenUpFront(t *testing.T) {
	filer, store, drive, owner := setup(t, integrations.Credentials{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(-time.Hour),
	})

	_, err := filer.File(context.Background(), owner, testDocument())
	require.NoError(t, err)
	assert.Equal(t, 1, drive.tokenCalls)
	assert.Zero(t, drive.unauthCalls)
	assert.Equal(t, 1, store.credsSets)
}

func TestFiler_FailedRefreshMarksError(t *testing.T) {
	filer, store, drive, owner := setup(t, integrations.Credentials{AccessToken: "stale", RefreshToken: "revoked"})
	drive.refreshOK = false

	_, err := filer.File(context.Background(), owner, testDocument())
	require.Error(t, err)
	assert.Equal(t, dmerrors.ErrCodeMissingCredential, dmerrors.CodeOf(err))
	assert.Equal(t, integrations.StatusError, store.integ.Status)
	require.Len(t, store.errors, 1)
	assert.Contains(t, store.errors[0], "reconnect Google Drive")
	assert.Equal(t, 1, drive.tokenCalls)
	assert.Equal(t, []string{"params"}, drive.tokenAuth, "the client credentials go in the form, with no second try in the header")
}

func TestFiler_NoRefreshTokenMarksError(t *testing.T) {
	filer, store, drive, owner := setup(t, integrations.Credentials{AccessToken: "stale"})

	_, err := filer.File(context.Background(), owner, testDocument())
	require.Error(t, err)
	assert.True(t, dmerrors.IsMissingCredential(err))
	assert.Equal(t, integrations.StatusError, store.integ.Status)
	assert.Zero(t, drive.tokenCalls)
}
