// Package xtts provides a voice-clone backend for a self-hosted XTTS
// fine-tuning server. It implements the clone.Provider interface.
//
// Unlike the hosted backends, the XTTS server sits next to the platform's
// object storage and fetches the sample audio itself, so the request carries
// only the sample references.
package xtts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/narratale/voicesmith/pkg/provider/clone"
)

const clonePath = "/api/v1/voices"

// Option is a functional option for configuring the XTTS Provider.
type Option func(*Provider)

// WithToken sets a bearer token sent in the Authorization header. Most local
// deployments run without auth; leave empty to skip the header.
func WithToken(token string) Option {
	return func(p *Provider) {
		p.token = token
	}
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements clone.Provider against a self-hosted XTTS server.
type Provider struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Compile-time interface check.
var _ clone.Provider = (*Provider)(nil)

// New creates a new XTTS Provider pointed at baseURL (e.g.,
// "http://localhost:8020"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("xtts: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name reports the backend's registered name.
func (p *Provider) Name() string { return "xtts" }

// cloneRequest is the JSON payload sent to the XTTS clone endpoint.
type cloneRequest struct {
	SpeakerName string   `json:"speaker_name"`
	SampleURLs  []string `json:"sample_urls"`
}

// cloneResponse is the JSON body returned on success.
type cloneResponse struct {
	VoiceID string `json:"voice_id"`
	Message string `json:"message,omitempty"`
}

// TrainVoice submits the sample references and returns the minted voice ID.
func (p *Provider) TrainVoice(ctx context.Context, userID string, samples []clone.Sample) (clone.TrainResult, error) {
	if len(samples) == 0 {
		return clone.TrainResult{}, clone.NewRejected(errors.New("xtts: no samples"))
	}

	urls := make([]string, 0, len(samples))
	for _, s := range samples {
		urls = append(urls, s.AudioRef)
	}
	payload, err := json.Marshal(cloneRequest{
		SpeakerName: "voicesmith-" + userID,
		SampleURLs:  urls,
	})
	if err != nil {
		return clone.TrainResult{}, clone.NewUnknown(fmt.Errorf("xtts: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+clonePath, bytes.NewReader(payload))
	if err != nil {
		return clone.TrainResult{}, clone.NewUnknown(fmt.Errorf("xtts: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return clone.TrainResult{}, clone.NewUnavailable(fmt.Errorf("xtts: clone request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return clone.TrainResult{}, clone.NewUnavailable(fmt.Errorf("xtts: read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out cloneResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return clone.TrainResult{}, clone.NewUnknown(fmt.Errorf("xtts: decode response: %w", err))
		}
		if out.VoiceID == "" {
			return clone.TrainResult{}, clone.NewUnknown(errors.New("xtts: response missing voice_id"))
		}
		return clone.TrainResult{VoiceID: out.VoiceID}, nil
	case resp.StatusCode >= 500:
		return clone.TrainResult{}, clone.NewUnavailable(fmt.Errorf("xtts: status %d: %s", resp.StatusCode, trimBody(body)))
	default:
		return clone.TrainResult{}, clone.NewRejected(fmt.Errorf("xtts: status %d: %s", resp.StatusCode, trimBody(body)))
	}
}

func trimBody(body []byte) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
