// Package driveapi is an HTTP client for a Drive v3 style listing API.
package driveapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/logging"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/metrics"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/retry"
)

// ErrUnauthorized is returned when the API rejects the access token.
var ErrUnauthorized = errors.New("drive: unauthorized")

const listFields = "nextPageToken,files(id,name,mimeType,size,modifiedTime,parents,webViewLink)"

// Client lists files of a remote drive.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	token       string
}

var (
	_ backend.Drive       = (*Client)(nil)
	_ backend.FeatureGate = (*Client)(nil)
)

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	Token       string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		token:       cfg.Token,
	}
}

func (c *Client) applyAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

type fileJSON struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MimeType     string   `json:"mimeType"`
	Size         string   `json:"size,omitempty"`
	ModifiedTime string   `json:"modifiedTime,omitempty"`
	Parents      []string `json:"parents,omitempty"`
	WebViewLink  string   `json:"webViewLink,omitempty"`
}

type listJSON struct {
	Files         []fileJSON `json:"files"`
	NextPageToken string     `json:"nextPageToken,omitempty"`
}

func (f fileJSON) item() backend.DriveItem {
	it := backend.DriveItem{
		ID:          f.ID,
		Name:        f.Name,
		MimeType:    f.MimeType,
		Parents:     f.Parents,
		WebViewLink: f.WebViewLink,
	}
	if f.Size != "" {
		it.Size, _ = strconv.ParseInt(f.Size, 10, 64)
	}
	if f.ModifiedTime != "" {
		it.ModifiedTime, _ = time.Parse(time.RFC3339, f.ModifiedTime)
	}
	return it
}

// list fetches one page of files matching q.
func (c *Client) list(ctx context.Context, q string, pageSize int, pageToken string) (listJSON, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("fields", listFields)
	if pageSize > 0 {
		params.Set("pageSize", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}
	endpoint := c.baseURL + "/files?" + params.Encode()

	return retry.DoWithResult(ctx, c.retryConfig, func() (listJSON, error) {
		var out listJSON
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return out, err
		}
		req.Header.Set("Accept", "application/json")
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return out, retry.Retryable(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return out, ErrUnauthorized
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return out, retry.Retryable(fmt.Errorf("drive returned %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return out, fmt.Errorf("drive returned %d: %s", resp.StatusCode, body)
		}

		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return out, fmt.Errorf("decode listing: %w", err)
		}
		return out, nil
	})
}

// ListRootFiles implements backend.Drive.
func (c *Client) ListRootFiles(ctx context.Context, pageSize int, pageToken string) (backend.DrivePage, error) {
	res, err := c.list(ctx, "'root' in parents and trashed=false", pageSize, pageToken)
	metrics.RecordDriveFetch("root", err == nil)
	if err != nil {
		return backend.DrivePage{}, err
	}
	page := backend.DrivePage{NextPageToken: res.NextPageToken}
	for _, f := range res.Files {
		page.Files = append(page.Files, f.item())
	}
	return page, nil
}

// ListFilesInFolder implements backend.Drive. It follows page tokens until
// the folder is fully listed.
func (c *Client) ListFilesInFolder(ctx context.Context, folderID string) ([]backend.DriveItem, error) {
	q := fmt.Sprintf("'%s' in parents and trashed=false", escapeQuery(folderID))
	var items []backend.DriveItem
	token := ""
	for {
		res, err := c.list(ctx, q, 0, token)
		if err != nil {
			metrics.RecordDriveFetch("folder", false)
			return nil, err
		}
		for _, f := range res.Files {
			items = append(items, f.item())
		}
		if res.NextPageToken == "" {
			break
		}
		token = res.NextPageToken
	}
	metrics.RecordDriveFetch("folder", true)
	return items, nil
}

// IsFeatureAvailable implements backend.FeatureGate. The drive feature is
// available when the API accepts the current token.
func (c *Client) IsFeatureAvailable(ctx context.Context, feature string) bool {
	if feature != backend.FeatureDrive {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/about?fields=user", nil)
	if err != nil {
		return false
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.Warn("drive access check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func escapeQuery(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
