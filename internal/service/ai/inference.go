package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const ProviderInference = "inference"

// Parameters are the decoding settings sent with every request.
type Parameters struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
	DoSample     bool    `json:"do_sample"`
}

var DefaultParameters = Parameters{
	MaxNewTokens: 500,
	Temperature:  0.7,
	TopP:         0.9,
	DoSample:     true,
}

type inferenceRequest struct {
	Inputs     string     `json:"inputs"`
	Parameters Parameters `json:"parameters"`
}

var errNullResponse = errors.New("inference response is null")

// InferenceClient posts prompts to a hosted text-generation endpoint.
type InferenceClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewInferenceClient(url, apiKey string, httpClient *http.Client) *InferenceClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &InferenceClient{url: url, apiKey: apiKey, httpClient: httpClient}
}

func (c *InferenceClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(inferenceRequest{Inputs: prompt, Parameters: DefaultParameters})
	if err != nil {
		return "", fmt.Errorf("encode inference request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("inference request failed: %s", resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read inference response: %w", err)
	}
	return decodeGenerated(raw)
}

// decodeGenerated reads [0].generated_text. A well-formed body of any other shape yields "".
func decodeGenerated(raw []byte) (string, error) {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("decode inference response: %w", err)
	}
	if data == nil {
		return "", errNullResponse
	}
	list, ok := data.([]any)
	if !ok || len(list) == 0 {
		return "", nil
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return "", nil
	}
	text, _ := first["generated_text"].(string)
	return text, nil
}
