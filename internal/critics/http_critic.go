package critics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eje-systems/eje/internal/model"
)

// HTTPCritic adapts an externally hosted critic service to the Critic
// interface: it POSTs the input snapshot as JSON and expects a CriticOutput
// shaped response back. This mirrors the out-of-process LLM validator
// pattern (one HTTP call per evaluation, JSON in, structured result out)
// used throughout the reference conflict scorer this module was grounded on.
type HTTPCritic struct {
	name       string
	endpoint   string
	httpClient *http.Client
}

// NewHTTPCritic constructs an HTTPCritic. If client is nil, a client with a
// conservative default timeout is used.
func NewHTTPCritic(name, endpoint string, client *http.Client) *HTTPCritic {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPCritic{name: name, endpoint: endpoint, httpClient: client}
}

func (c *HTTPCritic) Name() string { return c.name }

type httpCriticRequest struct {
	Text    string         `json:"text"`
	Context map[string]any `json:"context,omitempty"`
}

type httpCriticResponse struct {
	Verdict         model.Verdict          `json:"verdict"`
	Confidence      float64                `json:"confidence"`
	Justification   string                 `json:"justification"`
	Weight          float64                `json:"weight,omitempty"`
	Priority        *model.Priority        `json:"priority,omitempty"`
	EvidenceSources []model.EvidenceSource `json:"evidence_sources,omitempty"`
	Right           string                 `json:"right,omitempty"`
	Violation       bool                   `json:"violation,omitempty"`
	ConfidenceScore *float64               `json:"confidence_score,omitempty"`
	Conflict        bool                   `json:"conflict,omitempty"`
}

// Evaluate posts the snapshot to the configured endpoint and parses the
// response into a CriticOutput. Any transport or decode failure is returned
// as an error; the runner converts it into an ERROR output.
func (c *HTTPCritic) Evaluate(ctx context.Context, snapshot model.InputSnapshot, _ Budget) (model.CriticOutput, error) {
	body, err := json.Marshal(httpCriticRequest{Text: snapshot.Text, Context: snapshot.Context})
	if err != nil {
		return model.CriticOutput{}, fmt.Errorf("critics: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return model.CriticOutput{}, fmt.Errorf("critics: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.CriticOutput{}, fmt.Errorf("critics: http call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		limited := io.LimitReader(resp.Body, 4096)
		data, _ := io.ReadAll(limited)
		return model.CriticOutput{}, fmt.Errorf("critics: critic %q returned status %d: %s", c.name, resp.StatusCode, data)
	}

	var parsed httpCriticResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return model.CriticOutput{}, fmt.Errorf("critics: decode response: %w", err)
	}

	weight := parsed.Weight
	if weight == 0 {
		weight = model.DefaultWeight
	}

	return model.CriticOutput{
		Critic:          c.name,
		Verdict:         parsed.Verdict,
		Confidence:      model.ClampConfidence(parsed.Confidence),
		Justification:   parsed.Justification,
		Weight:          weight,
		Priority:        parsed.Priority,
		EvidenceSources: parsed.EvidenceSources,
		Timestamp:       time.Now(),
		Right:           parsed.Right,
		Violation:       parsed.Violation,
		ConfidenceScore: parsed.ConfidenceScore,
		Conflict:        parsed.Conflict,
	}, nil
}

// StaticCritic always returns the same CriticOutput. Useful for tests and as
// a trivial always-allow/always-deny plugin in examples.
type StaticCritic struct {
	CriticName string
	Output     model.CriticOutput
}

func (c *StaticCritic) Name() string { return c.CriticName }

func (c *StaticCritic) Evaluate(_ context.Context, _ model.InputSnapshot, _ Budget) (model.CriticOutput, error) {
	out := c.Output
	out.Critic = c.CriticName
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	return out, nil
}
