// Package elevenlabs provides a voice-clone backend using the ElevenLabs
// instant voice cloning API. It implements the clone.Provider interface.
//
// ElevenLabs only accepts raw audio files, so the provider fetches each
// sample's AudioRef (a presigned URL) and streams it into the multipart
// request body; no audio is buffered to disk.
package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/narratale/voicesmith/pkg/provider/clone"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	addVoicePath   = "/v1/voices/add"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint. Useful for tests and proxies.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the HTTP client used for API calls and sample
// fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements clone.Provider backed by the ElevenLabs API.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Compile-time interface check.
var _ clone.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name reports the backend's registered name.
func (p *Provider) Name() string { return "elevenlabs" }

// addVoiceResponse is the JSON body returned by the add-voice endpoint.
type addVoiceResponse struct {
	VoiceID string `json:"voice_id"`
}

// errorResponse is the JSON error envelope returned by the ElevenLabs API.
type errorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// TrainVoice uploads the samples as a multipart request to the add-voice
// endpoint and returns the minted voice ID.
func (p *Provider) TrainVoice(ctx context.Context, userID string, samples []clone.Sample) (clone.TrainResult, error) {
	if len(samples) == 0 {
		return clone.TrainResult{}, clone.NewRejected(errors.New("elevenlabs: no samples"))
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	// Stream the multipart body: sample fetches happen while the request is
	// being written, so large audio never sits in memory all at once.
	go func() {
		err := p.writeBody(ctx, mw, userID, samples)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+addVoicePath, pr)
	if err != nil {
		return clone.TrainResult{}, clone.NewUnknown(fmt.Errorf("elevenlabs: build request: %w", err))
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return clone.TrainResult{}, clone.NewUnavailable(fmt.Errorf("elevenlabs: add voice: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return clone.TrainResult{}, clone.NewUnavailable(fmt.Errorf("elevenlabs: read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out addVoiceResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return clone.TrainResult{}, clone.NewUnknown(fmt.Errorf("elevenlabs: decode response: %w", err))
		}
		if out.VoiceID == "" {
			return clone.TrainResult{}, clone.NewUnknown(errors.New("elevenlabs: response missing voice_id"))
		}
		return clone.TrainResult{VoiceID: out.VoiceID}, nil
	case resp.StatusCode >= 500:
		return clone.TrainResult{}, clone.NewUnavailable(fmt.Errorf("elevenlabs: status %d: %s", resp.StatusCode, apiMessage(body)))
	default:
		return clone.TrainResult{}, clone.NewRejected(fmt.Errorf("elevenlabs: status %d: %s", resp.StatusCode, apiMessage(body)))
	}
}

// writeBody writes the voice name field and one file part per sample.
func (p *Provider) writeBody(ctx context.Context, mw *multipart.Writer, userID string, samples []clone.Sample) error {
	if err := mw.WriteField("name", "voicesmith-"+userID); err != nil {
		return fmt.Errorf("elevenlabs: write name field: %w", err)
	}
	for _, s := range samples {
		part, err := mw.CreateFormFile("files", s.ID+".wav")
		if err != nil {
			return fmt.Errorf("elevenlabs: create file part %q: %w", s.ID, err)
		}
		if err := p.copySample(ctx, part, s); err != nil {
			return err
		}
	}
	return nil
}

// copySample fetches a sample's audio from its AudioRef and streams it into w.
func (p *Provider) copySample(ctx context.Context, w io.Writer, s clone.Sample) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.AudioRef, nil)
	if err != nil {
		return clone.NewRejected(fmt.Errorf("elevenlabs: sample %q: bad audio ref: %w", s.ID, err))
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return clone.NewUnavailable(fmt.Errorf("elevenlabs: fetch sample %q: %w", s.ID, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return clone.NewRejected(fmt.Errorf("elevenlabs: fetch sample %q: status %d", s.ID, resp.StatusCode))
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return clone.NewUnavailable(fmt.Errorf("elevenlabs: stream sample %q: %w", s.ID, err))
	}
	return nil
}

// apiMessage extracts the human-readable message from an API error body,
// falling back to the raw body.
func apiMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Detail.Message != "" {
		return er.Detail.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
