package genai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/panora77956/v3-sub000/internal/infra"
)

// Options controls how the client is configured.
type Options struct {
	BaseURL    string
	Tool       string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client speaks the asynchronous video generation REST API. It holds no
// credentials; every call receives the bearer token and project scope of
// the account it runs under.
type Client struct {
	baseURL    string
	tool       string
	httpClient *http.Client
	logger     *infra.Logger
}

// GenerateRequest describes one submission of Copies copies of a scene.
type GenerateRequest struct {
	Model   string
	Aspect  string
	Prompt  string
	SceneID string
	MediaID string
	Copies  int
	// FirstCopy is the 1-based copy index of the first requested copy; it
	// keeps per-copy seeds stable when copies are submitted one by one.
	FirstCopy int
}

// Operation is the opaque handle of one in-flight copy plus the metadata
// the status endpoint expects to be echoed back.
type Operation struct {
	Name    string
	SceneID string
	Status  string
}

// OperationStatus is one entry of a status check response.
type OperationStatus struct {
	Name         string
	SceneID      string
	Status       string
	URLs         []string
	ErrorCode    int
	ErrorMessage string
}

// APIError is returned for every non-2xx response.
type APIError struct {
	Op         string
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("genai: %s status %d (%s): %s", e.Op, e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("genai: %s status %d: %s", e.Op, e.StatusCode, e.Message)
}

// HTTPStatus exposes the response code for error classification.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

type clientContext struct {
	ProjectID string `json:"projectId,omitempty"`
	Tool      string `json:"tool,omitempty"`
}

type uploadImageInput struct {
	RawImageBytes string `json:"rawImageBytes"`
	MimeType      string `json:"mimeType"`
	AspectRatio   string `json:"aspectRatio,omitempty"`
}

type uploadRequest struct {
	ImageInput    uploadImageInput `json:"imageInput"`
	ClientContext clientContext    `json:"clientContext"`
}

type uploadResponse struct {
	MediaGenerationID struct {
		MediaGenerationID string `json:"mediaGenerationId"`
	} `json:"mediaGenerationId"`
}

type textInput struct {
	Prompt string `json:"prompt"`
}

type startImage struct {
	MediaID string `json:"mediaId"`
}

type requestMetadata struct {
	SceneID string `json:"sceneId,omitempty"`
}

type videoRequest struct {
	AspectRatio   string          `json:"aspectRatio"`
	Seed          int             `json:"seed"`
	TextInput     textInput       `json:"textInput"`
	VideoModelKey string          `json:"videoModelKey"`
	StartImage    *startImage     `json:"startImage,omitempty"`
	Metadata      requestMetadata `json:"metadata"`
}

type generateRequest struct {
	ClientContext clientContext  `json:"clientContext"`
	Requests      []videoRequest `json:"requests"`
}

type wireOperationName struct {
	Name     string         `json:"name"`
	Metadata *wireOpMeta    `json:"metadata,omitempty"`
	Error    *wireOperError `json:"error,omitempty"`
}

type wireOpMeta struct {
	Video struct {
		FifeURL        string `json:"fifeUrl"`
		ServingBaseURI string `json:"servingBaseUri"`
	} `json:"video"`
}

type wireOperError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wireOperation struct {
	Operation wireOperationName `json:"operation"`
	SceneID   string            `json:"sceneId,omitempty"`
	Status    string            `json:"status,omitempty"`
}

type operationsEnvelope struct {
	Operations []wireOperation `json:"operations"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// NewClient constructs a client with sane defaults. Callers may provide a
// nil HTTP client; one with a 60s timeout is created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://aisandbox-pa.googleapis.com/v1"
	}

	tool := opts.Tool
	if tool == "" {
		tool = "PINHOLE"
	}

	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}

	return &Client{
		baseURL:    baseURL,
		tool:       tool,
		httpClient: client,
		logger:     logger,
	}, nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UploadAsset uploads the image at path and returns its media id.
func (c *Client) UploadAsset(ctx context.Context, token, scope, path, aspect string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("genai: read asset: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("genai: asset %s is empty", filepath.Base(path))
	}
	payload := uploadRequest{
		ImageInput: uploadImageInput{
			RawImageBytes: base64.StdEncoding.EncodeToString(data),
			MimeType:      mimeForPath(path, data),
			AspectRatio:   ImageAspect(aspect),
		},
		ClientContext: clientContext{ProjectID: scope, Tool: c.tool},
	}
	var resp uploadResponse
	if err := c.invoke(ctx, "upload", token, "/media:uploadImage", payload, &resp); err != nil {
		return "", err
	}
	id := strings.TrimSpace(resp.MediaGenerationID.MediaGenerationID)
	if id == "" {
		return "", fmt.Errorf("genai: upload returned no media id")
	}
	c.logger.Debug().Str("asset", filepath.Base(path)).Str("media_id", id).Msg("genai: uploaded asset")
	return id, nil
}

// Generate submits req and returns one Operation per accepted copy, in
// copy order.
func (c *Client) Generate(ctx context.Context, token, scope string, req GenerateRequest) ([]Operation, error) {
	copies := req.Copies
	if copies <= 0 {
		copies = 1
	}
	first := req.FirstCopy
	if first <= 0 {
		first = 1
	}
	payload := generateRequest{
		ClientContext: clientContext{ProjectID: scope, Tool: c.tool},
		Requests:      make([]videoRequest, 0, copies),
	}
	for i := 0; i < copies; i++ {
		vr := videoRequest{
			AspectRatio:   VideoAspect(req.Aspect),
			Seed:          deterministicSeed(req.SceneID, req.Prompt, first+i),
			TextInput:     textInput{Prompt: req.Prompt},
			VideoModelKey: req.Model,
			Metadata:      requestMetadata{SceneID: req.SceneID},
		}
		if req.MediaID != "" {
			vr.StartImage = &startImage{MediaID: req.MediaID}
		}
		payload.Requests = append(payload.Requests, vr)
	}
	path := "/video:batchAsyncGenerateVideoText"
	if req.MediaID != "" {
		path = "/video:batchAsyncGenerateVideoStartImage"
	}
	var resp operationsEnvelope
	if err := c.invoke(ctx, "generate", token, path, payload, &resp); err != nil {
		return nil, err
	}
	ops := make([]Operation, 0, len(resp.Operations))
	for _, op := range resp.Operations {
		if strings.TrimSpace(op.Operation.Name) == "" {
			continue
		}
		ops = append(ops, Operation{Name: op.Operation.Name, SceneID: firstNonEmpty(op.SceneID, req.SceneID), Status: op.Status})
		if len(ops) == copies {
			break
		}
	}
	c.logger.Debug().
		Str("model", req.Model).
		Str("scene_id", req.SceneID).
		Int("requested", copies).
		Int("accepted", len(ops)).
		Msg("genai: submitted generation")
	return ops, nil
}

// CheckStatus asks for the status of ops in one request. The scene id and
// last status of every operation are echoed back as the API requires.
func (c *Client) CheckStatus(ctx context.Context, token string, ops []Operation) ([]OperationStatus, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	payload := operationsEnvelope{Operations: make([]wireOperation, 0, len(ops))}
	for _, op := range ops {
		payload.Operations = append(payload.Operations, wireOperation{
			Operation: wireOperationName{Name: op.Name},
			SceneID:   op.SceneID,
			Status:    op.Status,
		})
	}
	var resp operationsEnvelope
	if err := c.invoke(ctx, "check", token, "/video:batchCheckAsyncVideoGenerationStatus", payload, &resp); err != nil {
		return nil, err
	}
	out := make([]OperationStatus, 0, len(resp.Operations))
	for _, op := range resp.Operations {
		st := OperationStatus{Name: op.Operation.Name, SceneID: op.SceneID, Status: op.Status}
		if meta := op.Operation.Metadata; meta != nil {
			for _, u := range []string{meta.Video.FifeURL, meta.Video.ServingBaseURI} {
				if u = strings.TrimSpace(u); u != "" {
					st.URLs = append(st.URLs, u)
				}
			}
		}
		if e := op.Operation.Error; e != nil {
			st.ErrorCode = e.Code
			st.ErrorMessage = e.Message
		}
		out = append(out, st)
	}
	return out, nil
}

// Download streams the artifact at uri into w using token as bearer.
func (c *Client) Download(ctx context.Context, token, uri string, w io.Writer) (int64, error) {
	target := strings.TrimSpace(uri)
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("genai: create download request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("genai: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &APIError{Op: "download", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("genai: read artifact: %w", err)
	}
	return n, nil
}

func (c *Client) invoke(ctx context.Context, op, token, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("genai: marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("genai: create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("genai: %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("genai: read %s response: %w", op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
			apiErr.Message = detail.Error.Message
			apiErr.Status = detail.Error.Status
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("genai: decode %s response: %w", op, err)
	}
	return nil
}

// VideoAspect maps "16:9" style ratios to the API enum.
func VideoAspect(aspect string) string {
	switch strings.TrimSpace(strings.ToLower(aspect)) {
	case "9:16", "portrait":
		return "VIDEO_ASPECT_RATIO_PORTRAIT"
	case "1:1", "square":
		return "VIDEO_ASPECT_RATIO_SQUARE"
	default:
		return "VIDEO_ASPECT_RATIO_LANDSCAPE"
	}
}

// ImageAspect maps "16:9" style ratios to the upload enum.
func ImageAspect(aspect string) string {
	switch strings.TrimSpace(strings.ToLower(aspect)) {
	case "9:16", "portrait":
		return "IMAGE_ASPECT_RATIO_PORTRAIT"
	case "1:1", "square":
		return "IMAGE_ASPECT_RATIO_SQUARE"
	default:
		return "IMAGE_ASPECT_RATIO_LANDSCAPE"
	}
}

func mimeForPath(path string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func deterministicSeed(parts ...any) int {
	hasher := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(hasher, "%v|", part)
	}
	sum := hasher.Sum(nil)
	return int(binary.BigEndian.Uint32(sum[:4]) % 100000)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
