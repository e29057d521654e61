package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spherical/pdfdown/internal/domain"
)

const (
	DefaultEndpoint    = "https://api.openai.com/v1/chat/completions"
	DefaultModel       = "gpt-4o"
	DefaultInstruction = "Convert the image to Markdown"
	DefaultMaxTokens   = 4096

	// maxErrorBody bounds how much of a failed response is kept for diagnostics
	maxErrorBody = 64 * 1024
)

// Config holds the immutable settings shared by every transcription call.
type Config struct {
	APIKey      string
	Model       string
	Endpoint    string
	Instruction string
	MaxTokens   int
	HTTPClient  *http.Client
}

// Client handles communication with a chat-completions API
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	instruction string
	maxTokens   int
	httpClient  *http.Client
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is either a text part or an image part of a message.
type ContentPart struct {
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// Request represents the API request structure
type Request struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

// Response represents the API response structure. Choices is a pointer so a
// missing field can be told apart from an empty list.
type Response struct {
	Choices *[]Choice `json:"choices"`
}

// Choice represents a single completion choice
type Choice struct {
	Message ChoiceMessage `json:"message"`
}

// ChoiceMessage is the assistant message of a choice
type ChoiceMessage struct {
	Content string `json:"content"`
}

// NewClient creates a new transcription client
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.SetupError("API key is required", nil)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, domain.SetupError("model identifier is required", nil)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Instruction == "" {
		cfg.Instruction = DefaultInstruction
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &Client{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		endpoint:    cfg.Endpoint,
		instruction: cfg.Instruction,
		maxTokens:   cfg.MaxTokens,
		httpClient:  cfg.HTTPClient,
	}, nil
}

// Model returns the model identifier sent with every request.
func (c *Client) Model() string {
	return c.model
}

// Instruction returns the transcription instruction sent with every request.
func (c *Client) Instruction() string {
	return c.instruction
}

// TranscribeFile reads an image from disk and transcribes it.
func (c *Client) TranscribeFile(ctx context.Context, imagePath string) (string, error) {
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return "", domain.IOFailure(fmt.Errorf("read image %s: %w", imagePath, err))
	}
	return c.Transcribe(ctx, image)
}

// Transcribe sends one image to the API and returns the trimmed Markdown of the
// first choice. It makes exactly one HTTP call and never retries.
func (c *Client) Transcribe(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", domain.IOFailure(errors.New("image is empty"))
	}

	body, err := json.Marshal(c.buildRequest(image))
	if err != nil {
		return "", domain.IOFailure(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", domain.NetworkFailure(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.NetworkFailure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		errText := string(bodyBytes)
		if readErr != nil {
			errText = "unable to read error body"
		}
		return "", domain.APIError(resp.StatusCode, errText)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.NetworkFailure(fmt.Errorf("read response: %w", err))
	}

	return parseResponse(data)
}

// buildRequest constructs the API request with the image
func (c *Client) buildRequest(image []byte) *Request {
	msg := Message{
		Role: "user",
		Content: []ContentPart{
			{Text: c.instruction},
			{ImageURL: &ImageURL{URL: DataURL(image)}},
		},
	}

	return &Request{
		Model:     c.model,
		Messages:  []Message{msg},
		MaxTokens: c.maxTokens,
	}
}

// parseResponse extracts the first choice from a 2xx response body
func parseResponse(data []byte) (string, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", domain.MalformedResponse(fmt.Errorf("parse response: %w", err))
	}
	if resp.Choices == nil {
		return "", domain.MalformedResponse(errors.New("response has no choices field"))
	}
	if len(*resp.Choices) == 0 {
		return "", domain.EmptyResult()
	}
	return strings.TrimSpace((*resp.Choices)[0].Message.Content), nil
}

// EncodeImage returns the standard base64 encoding of an image.
func EncodeImage(image []byte) string {
	return base64.StdEncoding.EncodeToString(image)
}

// DataURL wraps an image as a JPEG data URL.
func DataURL(image []byte) string {
	return "data:image/jpeg;base64," + EncodeImage(image)
}
