package summary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// statusErr marks a non-2xx response from the generation endpoint.
type statusErr struct {
	code int
	msg  string
}

func (e statusErr) Error() string {
	return fmt.Sprintf("generation endpoint returned %d: %s", e.code, e.msg)
}

// Client calls an OpenAI-compatible chat-completions endpoint. Exactly one
// attempt is made per call: any network, status or parse failure is
// returned to the caller, which falls back locally. Retrying here would
// only delay the glance surface.
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewClient builds a generation client. temperature and maxTokens are
// fixed per deployment.
func NewClient(endpoint, apiKey, model string, temperature float64, maxTokens int) *Client {
	return &Client{
		endpoint:    endpoint,
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: 20 * time.Second},
	}
}

// Generate sends the prompt and returns the generated text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body := []byte(`{"messages":[{"role":"user","content":""}]}`)
	body, _ = sjson.SetBytes(body, "model", c.model)
	body, _ = sjson.SetBytes(body, "messages.0.content", prompt)
	body, _ = sjson.SetBytes(body, "temperature", c.temperature)
	body, _ = sjson.SetBytes(body, "max_tokens", c.maxTokens)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("generation client: close response body error: %v", errClose)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusErr{code: resp.StatusCode, msg: string(data)}
	}
	if !gjson.ValidBytes(data) {
		return "", errors.New("generation endpoint: unparsable response body")
	}

	text := gjson.GetBytes(data, "choices.0.message.content").String()
	if text == "" {
		return "", errors.New("generation endpoint: empty completion")
	}
	return text, nil
}
