package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/integrations"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
)

const (
	// DefaultFolderName is the Drive folder memos are filed into.
	DefaultFolderName = "Deal Memos"

	folderMimeType   = "application/vnd.google-apps.folder"
	documentMimeType = "application/vnd.google-apps.document"
	docsURLFormat    = "https://docs.google.com/document/d/%s/edit"
)

// IntegrationStore is the part of integrations.Store the filer needs.
type IntegrationStore interface {
	Get(ctx context.Context, owner uuid.UUID, provider integrations.Provider) (*integrations.Integration, error)
	UpdateCredentials(ctx context.Context, id uuid.UUID, creds integrations.Credentials) error
	UpdateSettings(ctx context.Context, id uuid.UUID, settings integrations.Settings) error
	MarkError(ctx context.Context, id uuid.UUID, message string) error
	MarkActive(ctx context.Context, id uuid.UUID) error
}

// OAuthConfig is the Google OAuth client used to refresh Drive tokens.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides Google's token endpoint.
	TokenURL string
}

// Filer files memos into Google Drive.
type Filer struct {
	store      IntegrationStore
	oauth      *oauth2.Config
	folderName string
	httpClient *http.Client
	driveOpts  []option.ClientOption
	logger     logging.Logger
}

// Option configures a Filer.
type Option func(*Filer)

// WithFolderName overrides DefaultFolderName.
func WithFolderName(name string) Option {
	return func(f *Filer) {
		if name != "" {
			f.folderName = name
		}
	}
}

// WithHTTPClient sets the base client for token and Drive requests.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Filer) { f.httpClient = c }
}

// WithDriveOptions appends client options to every Drive service, e.g.
// option.WithEndpoint in tests.
func WithDriveOptions(opts ...option.ClientOption) Option {
	return func(f *Filer) { f.driveOpts = append(f.driveOpts, opts...) }
}

// WithLogger sets the filer logger.
func WithLogger(l logging.Logger) Option {
	return func(f *Filer) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFiler creates a Filer.
func NewFiler(store IntegrationStore, cfg OAuthConfig, opts ...Option) *Filer {
	endpoint := endpoints.Google
	// One token request per refresh; no auth-style probing.
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	f := &Filer{
		store: store,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{drive.DriveFileScope},
		},
		folderName: DefaultFolderName,
		logger:     logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(logging.F("component", "docstore"))
	return f
}

// File creates or updates the owner's Google Doc for doc. It returns
// ErrNotConnected when the owner has no usable Drive integration. A 401 is
// answered with one token refresh and one retry; when that fails too the
// integration is put in error state.
func (f *Filer) File(ctx context.Context, owner uuid.UUID, doc Document) (*Filed, error) {
	integ, err := f.store.Get(ctx, owner, integrations.ProviderGoogleDrive)
	if dmerrors.IsNotFound(err) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, dmerrors.New(dmerrors.ErrCodePersistence, StageFile, "loading Google Drive integration failed", err)
	}
	if !integ.Usable() {
		return nil, ErrNotConnected
	}

	body, err := RenderHTML(doc)
	if err != nil {
		return nil, dmerrors.New(dmerrors.ErrCodeProcessing, StageFile, "rendering memo failed", err)
	}

	tok := tokenFrom(integ.Credentials)
	refreshed := false
	if !tok.Valid() {
		if tok, err = f.refresh(ctx, integ); err != nil {
			return nil, f.authFailed(ctx, integ, err)
		}
		refreshed = true
	}

	filed, err := f.upload(ctx, integ, tok, doc, body)
	if isStatus(err, http.StatusUnauthorized) && !refreshed {
		f.logger.Info("drive token rejected, refreshing", logging.F("integration_id", integ.ID.String()))
		if tok, err = f.refresh(ctx, integ); err != nil {
			return nil, f.authFailed(ctx, integ, err)
		}
		filed, err = f.upload(ctx, integ, tok, doc, body)
	}
	if isStatus(err, http.StatusUnauthorized) {
		return nil, f.authFailed(ctx, integ, err)
	}
	if err != nil {
		return nil, dmerrors.New(errorCode(err), StageFile, fmt.Sprintf("Google Drive request failed: %v", err), err)
	}

	if integ.Status == integrations.StatusError {
		if err := f.store.MarkActive(ctx, integ.ID); err != nil {
			f.logger.Warn("clearing integration error failed", logging.F("integration_id", integ.ID.String()), logging.Err(err))
		}
	}
	return filed, nil
}

func (f *Filer) upload(ctx context.Context, integ *integrations.Integration, tok *oauth2.Token, doc Document, body []byte) (*Filed, error) {
	svc, err := f.service(ctx, tok)
	if err != nil {
		return nil, err
	}
	folderID, err := f.ensureFolder(ctx, svc, integ)
	if err != nil {
		return nil, err
	}

	name := FileName(doc)
	var file *drive.File
	if doc.DocumentID != "" {
		file, err = svc.Files.Update(doc.DocumentID, &drive.File{Name: name}).
			Media(bytes.NewReader(body), googleapi.ContentType("text/html")).
			Fields("id", "webViewLink").
			Context(ctx).
			Do()
		if isStatus(err, http.StatusNotFound) {
			f.logger.Info("filed document missing, creating a new one", logging.F("document_id", doc.DocumentID))
			file, err = nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("updating document: %w", err)
		}
	}
	if file == nil {
		file, err = svc.Files.Create(&drive.File{Name: name, MimeType: documentMimeType, Parents: []string{folderID}}).
			Media(bytes.NewReader(body), googleapi.ContentType("text/html")).
			Fields("id", "webViewLink").
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("creating document: %w", err)
		}
	}

	url := file.WebViewLink
	if url == "" {
		url = fmt.Sprintf(docsURLFormat, file.Id)
	}
	return &Filed{DocumentID: file.Id, URL: url, FolderID: folderID}, nil
}

// ensureFolder returns the cached folder id, recreating the folder when it
// was deleted or trashed.
func (f *Filer) ensureFolder(ctx context.Context, svc *drive.Service, integ *integrations.Integration) (string, error) {
	if id := integ.Settings.FolderID; id != "" {
		folder, err := svc.Files.Get(id).Fields("id", "trashed").Context(ctx).Do()
		switch {
		case err == nil && !folder.Trashed:
			return id, nil
		case err != nil && !isStatus(err, http.StatusNotFound):
			return "", fmt.Errorf("checking folder: %w", err)
		}
		f.logger.Info("document folder missing, recreating", logging.F("folder_id", id))
	}

	folder, err := svc.Files.Create(&drive.File{Name: f.folderName, MimeType: folderMimeType}).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("creating folder: %w", err)
	}
	integ.Settings.FolderID = folder.Id
	if err := f.store.UpdateSettings(ctx, integ.ID, integrations.Settings{FolderID: folder.Id}); err != nil {
		f.logger.Warn("saving folder id failed", logging.F("folder_id", folder.Id), logging.Err(err))
	}
	return folder.Id, nil
}

func (f *Filer) service(ctx context.Context, tok *oauth2.Token) (*drive.Service, error) {
	client := oauth2.NewClient(f.clientContext(ctx), oauth2.StaticTokenSource(tok))
	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, f.driveOpts...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive client: %w", err)
	}
	return svc, nil
}

// refresh exchanges the refresh token and stores the new access token.
func (f *Filer) refresh(ctx context.Context, integ *integrations.Integration) (*oauth2.Token, error) {
	creds := integ.Credentials
	if creds.RefreshToken == "" {
		return nil, errors.New("no refresh token stored")
	}
	tok, err := f.oauth.TokenSource(f.clientContext(ctx), &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	creds.AccessToken = tok.AccessToken
	creds.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		creds.RefreshToken = tok.RefreshToken
	}
	integ.Credentials = creds
	if err := f.store.UpdateCredentials(ctx, integ.ID, creds); err != nil {
		f.logger.Warn("saving refreshed token failed", logging.F("integration_id", integ.ID.String()), logging.Err(err))
	}
	return tok, nil
}

// authFailed puts the integration in error state and returns the stage error.
func (f *Filer) authFailed(ctx context.Context, integ *integrations.Integration, cause error) error {
	msg := fmt.Sprintf("Google Drive authorization failed; reconnect Google Drive: %v", cause)
	if err := f.store.MarkError(ctx, integ.ID, msg); err != nil {
		f.logger.Warn("recording integration error failed", logging.F("integration_id", integ.ID.String()), logging.Err(err))
	}
	return dmerrors.New(dmerrors.ErrCodeMissingCredential, StageFile, msg, dmerrors.ErrMissingCredential)
}

func (f *Filer) clientContext(ctx context.Context) context.Context {
	if f.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
}

func tokenFrom(c integrations.Credentials) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.Expiry,
	}
}

func isStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func errorCode(err error) dmerrors.ErrorCode {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusForbidden:
			return dmerrors.ErrCodeMissingCredential
		case apiErr.Code == http.StatusTooManyRequests:
			return dmerrors.ErrCodeRateLimit
		case apiErr.Code >= 500:
			return dmerrors.ErrCodeProviderUnavailable
		}
	}
	return dmerrors.ClassifyError(err, StageFile).Code
}
