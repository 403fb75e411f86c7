package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// BuildResponse — запрос на сборку из API.
type BuildResponse struct {
	ID                  int64    `json:"id"`
	State               string   `json:"state"`
	StateReason         string   `json:"state_reason"`
	Bundles             []string `json:"bundles"`
	BinaryImage         string   `json:"binary_image"`
	BinaryImageResolved string   `json:"binary_image_resolved,omitempty"`
	FromIndex           string   `json:"from_index,omitempty"`
	FromIndexResolved   string   `json:"from_index_resolved,omitempty"`
	AddArches           []string `json:"add_arches,omitempty"`
	Arches              []string `json:"arches"`
	IndexImage          string   `json:"index_image,omitempty"`
	CreatedAt           string   `json:"created_at"`
	UpdatedAt           string   `json:"updated_at"`
}

// IsFinished возвращает true для complete и failed.
func (b *BuildResponse) IsFinished() bool {
	return b.State == "complete" || b.State == "failed"
}

// --- Request types ---

// CreateBuildRequest — создание запроса на сборку.
type CreateBuildRequest struct {
	Bundles     []string `json:"bundles"`
	BinaryImage string   `json:"binary_image"`
	FromIndex   string   `json:"from_index,omitempty"`
	AddArches   []string `json:"add_arches,omitempty"`
}

// ListBuildsOpts — параметры фильтрации запросов.
type ListBuildsOpts struct {
	State  string
	Limit  int
	Offset int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для IIB API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Builds ---

// ListBuilds возвращает список запросов с фильтрацией.
func (c *Client) ListBuilds(opts ListBuildsOpts) ([]BuildResponse, error) {
	params := url.Values{}
	if opts.State != "" {
		params.Set("state", opts.State)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var builds []BuildResponse
	err := c.list("/api/v1/builds", params, &builds)
	return builds, err
}

// CreateBuild создаёт запрос на сборку.
func (c *Client) CreateBuild(req CreateBuildRequest) (*BuildResponse, error) {
	var build BuildResponse
	err := c.post("/api/v1/builds", req, &build)
	return &build, err
}

// GetBuild возвращает запрос по ID.
func (c *Client) GetBuild(id int64) (*BuildResponse, error) {
	var build BuildResponse
	err := c.get("/api/v1/builds/"+strconv.FormatInt(id, 10), &build)
	return &build, err
}

// WaitBuild опрашивает запрос, пока он не завершится или не истечёт timeout.
// timeout <= 0 — без ограничения.
func (c *Client) WaitBuild(id int64, interval, timeout time.Duration) (*BuildResponse, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		build, err := c.GetBuild(id)
		if err != nil {
			return nil, err
		}
		if build.IsFinished() {
			return build, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return build, fmt.Errorf("timed out after %s waiting for build %d (state: %s)", timeout, id, build.State)
		}
		time.Sleep(interval)
	}
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
