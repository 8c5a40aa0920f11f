package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/go-hclog"
)

// OneDriveConfig configures a OneDrive / SharePoint drive provider using
// Microsoft Graph application (client credentials) auth.
type OneDriveConfig struct {
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	DriveID      string `mapstructure:"drive_id"`

	// Folder restricts enumeration to a subtree (path below the drive
	// root). Empty means the whole drive.
	Folder string `mapstructure:"folder"`

	// GraphBaseURL and LoginBaseURL exist for tests against a stub
	// server.
	GraphBaseURL string `mapstructure:"graph_base_url"`
	LoginBaseURL string `mapstructure:"login_base_url"`
}

// Validate validates the OneDrive provider configuration.
func (c OneDriveConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.TenantID, validation.Required),
		validation.Field(&c.ClientID, validation.Required),
		validation.Field(&c.ClientSecret, validation.Required),
		validation.Field(&c.DriveID, validation.Required),
	)
}

// OneDriveProvider enumerates files in a Microsoft Graph drive. Document
// ids are Graph item ids, which survive renames and moves; etags are the
// item cTag, which tracks content changes only.
type OneDriveProvider struct {
	name       string
	cfg        OneDriveConfig
	httpClient *http.Client
	logger     hclog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewOneDriveProvider creates a OneDrive provider.
func NewOneDriveProvider(name string, cfg OneDriveConfig, logger hclog.Logger) (*OneDriveProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid onedrive provider settings: %w", err)
	}
	if cfg.GraphBaseURL == "" {
		cfg.GraphBaseURL = "https://graph.microsoft.com/v1.0"
	}
	if cfg.LoginBaseURL == "" {
		cfg.LoginBaseURL = "https://login.microsoftonline.com"
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &OneDriveProvider{
		name: name,
		cfg:  cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger.Named("provider.onedrive").With("provider_name", name),
	}, nil
}

// Type implements Provider.
func (p *OneDriveProvider) Type() string { return TypeOneDrive }

// Name implements Provider.
func (p *OneDriveProvider) Name() string { return p.name }

// Enumerate walks the drive (or configured folder) breadth-first via the
// children endpoint, following @odata.nextLink pages.
func (p *OneDriveProvider) Enumerate(ctx context.Context) ([]Descriptor, error) {
	var descriptors []Descriptor

	queue := []string{p.rootChildrenURL()}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageURL := queue[0]
		queue = queue[1:]

		var page driveItemPage
		if err := p.getJSON(ctx, pageURL, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Value {
			if item.Folder != nil {
				queue = append(queue, fmt.Sprintf("%s/drives/%s/items/%s/children",
					p.cfg.GraphBaseURL, url.PathEscape(p.cfg.DriveID), url.PathEscape(item.ID)))
				continue
			}
			if item.File == nil {
				continue
			}

			d := Descriptor{
				DocumentID:   item.ID,
				Filename:     item.Name,
				RelativePath: item.relativePath(),
				ETag:         strings.Trim(item.CTag, `"`),
				ProviderType: TypeOneDrive,
				ProviderName: p.name,
			}
			if item.LastModifiedDateTime != "" {
				// Graph timestamps are ISO 8601 but tenant-migrated
				// items have been seen with legacy formats.
				if ts, err := dateparse.ParseAny(item.LastModifiedDateTime); err == nil {
					d.LastModified = ts.UTC()
				} else {
					p.logger.Warn("unparseable item timestamp",
						"item_id", item.ID,
						"value", item.LastModifiedDateTime,
					)
				}
			}
			descriptors = append(descriptors, d)
		}

		if page.NextLink != "" {
			queue = append(queue, page.NextLink)
		}
	}

	p.logger.Debug("enumerated drive items", "count", len(descriptors))
	return descriptors, nil
}

// Fetch downloads an item's content. Graph answers the content endpoint
// with a redirect to a pre-authenticated URL, which the http client
// follows.
func (p *OneDriveProvider) Fetch(ctx context.Context, documentID string) (io.ReadCloser, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}

	contentURL := fmt.Sprintf("%s/drives/%s/items/%s/content",
		p.cfg.GraphBaseURL, url.PathEscape(p.cfg.DriveID), url.PathEscape(documentID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch item %s: %w", documentID, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("graph content error (%d): %s", resp.StatusCode, string(body))
	}
	return resp.Body, nil
}

// Describe implements Provider.
func (p *OneDriveProvider) Describe() map[string]any {
	meta := map[string]any{
		"tenant_id": p.cfg.TenantID,
		"drive_id":  p.cfg.DriveID,
	}
	if p.cfg.Folder != "" {
		meta["folder"] = p.cfg.Folder
	}
	return meta
}

func (p *OneDriveProvider) rootChildrenURL() string {
	base := fmt.Sprintf("%s/drives/%s", p.cfg.GraphBaseURL, url.PathEscape(p.cfg.DriveID))
	if p.cfg.Folder == "" {
		return base + "/root/children"
	}
	return fmt.Sprintf("%s/root:/%s:/children", base, strings.Trim(p.cfg.Folder, "/"))
}

// getJSON issues an authenticated Graph GET and decodes the response.
func (p *OneDriveProvider) getJSON(ctx context.Context, rawURL string, out any) error {
	token, err := p.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read graph response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graph API error (%d): %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse graph response: %w", err)
	}
	return nil
}

// token returns a cached application token, refreshing via the client
// credentials grant when within a minute of expiry.
func (p *OneDriveProvider) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Until(p.tokenExpiry) > time.Minute {
		return p.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
		"scope":         {"https://graph.microsoft.com/.default"},
	}

	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", p.cfg.LoginBaseURL, url.PathEscape(p.cfg.TenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint error (%d): %s", resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	p.accessToken = tok.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	p.logger.Debug("refreshed graph token", "expires_in", tok.ExpiresIn)

	return p.accessToken, nil
}

// Graph wire types

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type driveItemPage struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

type driveItem struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	CTag                 string           `json:"cTag"`
	LastModifiedDateTime string           `json:"lastModifiedDateTime"`
	File                 *driveItemFile   `json:"file"`
	Folder               *json.RawMessage `json:"folder"`
	ParentReference      parentReference  `json:"parentReference"`
}

type driveItemFile struct {
	MimeType string `json:"mimeType"`
}

type parentReference struct {
	// Path looks like "/drives/{id}/root:/sub/dir".
	Path string `json:"path"`
}

// relativePath derives the drive-relative path from the parent reference
// when present.
func (i driveItem) relativePath() string {
	if idx := strings.Index(i.ParentReference.Path, "root:"); idx >= 0 {
		prefix := strings.TrimPrefix(i.ParentReference.Path[idx+len("root:"):], "/")
		if prefix != "" {
			return prefix + "/" + i.Name
		}
	}
	return i.Name
}
