package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"quill/internal/util"

	"github.com/pkg/errors"
)

const maxErrorBody = 512

// HTTPJudge calls an OpenAI-compatible chat completions endpoint.
type HTTPJudge struct {
	Endpoint string
	Model    string
	APIKey   string
	Client   *http.Client
}

// NewHTTPJudge builds an HTTPJudge with a bounded client timeout.
func NewHTTPJudge(endpoint, model, apiKey string, timeout time.Duration) *HTTPJudge {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPJudge{
		Endpoint: strings.TrimSpace(endpoint),
		Model:    strings.TrimSpace(model),
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Judge implements Judge.
func (j *HTTPJudge) Judge(ctx context.Context, original, optimized, schema string) (Verdict, error) {
	if j.Endpoint == "" {
		return Verdict{}, errors.New("judge endpoint is not configured")
	}
	if j.APIKey == "" {
		return Verdict{}, errors.New("judge api key is not configured")
	}
	payload, err := json.Marshal(chatRequest{
		Model:    j.Model,
		Messages: []chatMessage{{Role: "user", Content: BuildPrompt(original, optimized, schema)}},
	})
	if err != nil {
		return Verdict{}, errors.Wrap(err, "encode judge request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Verdict{}, errors.Wrap(err, "build judge request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.APIKey)

	client := j.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Verdict{}, errors.Wrap(err, "call judge")
	}
	defer util.CloseWithErr(resp.Body, "judge response")
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Verdict{}, errors.Wrap(err, "read judge response")
	}
	if resp.StatusCode != http.StatusOK {
		text := strings.TrimSpace(string(body))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody] + "..."
		}
		return Verdict{}, errors.Errorf("judge returned %s: %s", resp.Status, text)
	}
	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Verdict{}, errors.Wrap(err, "decode judge response")
	}
	if len(decoded.Choices) == 0 {
		return Verdict{}, errors.New("judge response has no choices")
	}
	return ParseVerdict(decoded.Choices[0].Message.Content)
}
