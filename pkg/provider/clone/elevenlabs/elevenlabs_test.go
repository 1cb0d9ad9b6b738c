package elevenlabs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/narratale/voicesmith/pkg/provider/clone"
)

// audioServer serves fake sample audio for AudioRef fetches.
func audioServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("RIFF-fake-audio"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSamples(audioURL string) []clone.Sample {
	return []clone.Sample{
		{ID: "s-1", Label: "angry", AudioRef: audioURL + "/s-1.wav"},
		{ID: "s-2", Label: "calm", AudioRef: audioURL + "/s-2.wav"},
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("New with empty apiKey should fail")
	}

	p, err := New("key", WithBaseURL("https://proxy.example/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.baseURL != "https://proxy.example" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", p.baseURL)
	}
	if p.Name() != "elevenlabs" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestTrainVoice_Success(t *testing.T) {
	t.Parallel()

	audio := audioServer(t)

	var gotKey, gotName string
	var gotFiles int
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/voices/add" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("xi-api-key")

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		gotName = r.FormValue("name")
		gotFiles = len(r.MultipartForm.File["files"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"voice_id":"voice-42"}`))
	}))
	t.Cleanup(api.Close)

	p, err := New("secret-key", WithBaseURL(api.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := p.TrainVoice(context.Background(), "user-1", testSamples(audio.URL))
	if err != nil {
		t.Fatalf("TrainVoice: %v", err)
	}
	if result.VoiceID != "voice-42" {
		t.Errorf("VoiceID = %q, want voice-42", result.VoiceID)
	}
	if gotKey != "secret-key" {
		t.Errorf("xi-api-key = %q, want secret-key", gotKey)
	}
	if gotName != "voicesmith-user-1" {
		t.Errorf("name field = %q, want voicesmith-user-1", gotName)
	}
	if gotFiles != 2 {
		t.Errorf("got %d file parts, want 2", gotFiles)
	}
}

func TestTrainVoice_ServerErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	audio := audioServer(t)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"detail":{"status":"error","message":"upstream down"}}`))
	}))
	t.Cleanup(api.Close)

	p, _ := New("key", WithBaseURL(api.URL))
	_, err := p.TrainVoice(context.Background(), "user-1", testSamples(audio.URL))
	if clone.CategoryOf(err) != clone.Unavailable {
		t.Fatalf("category = %q, want unavailable (err: %v)", clone.CategoryOf(err), err)
	}
	if !strings.Contains(err.Error(), "upstream down") {
		t.Errorf("error = %q, want API message included", err.Error())
	}
}

func TestTrainVoice_ClientErrorIsRejected(t *testing.T) {
	t.Parallel()

	audio := audioServer(t)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":{"status":"invalid_api_key","message":"invalid api key"}}`))
	}))
	t.Cleanup(api.Close)

	p, _ := New("bad-key", WithBaseURL(api.URL))
	_, err := p.TrainVoice(context.Background(), "user-1", testSamples(audio.URL))
	if clone.CategoryOf(err) != clone.Rejected {
		t.Fatalf("category = %q, want rejected (err: %v)", clone.CategoryOf(err), err)
	}
}

func TestTrainVoice_MissingVoiceIDIsUnknown(t *testing.T) {
	t.Parallel()

	audio := audioServer(t)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(api.Close)

	p, _ := New("key", WithBaseURL(api.URL))
	_, err := p.TrainVoice(context.Background(), "user-1", testSamples(audio.URL))
	if clone.CategoryOf(err) != clone.Unknown {
		t.Fatalf("category = %q, want unknown (err: %v)", clone.CategoryOf(err), err)
	}
}

func TestTrainVoice_NoSamples(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	_, err := p.TrainVoice(context.Background(), "user-1", nil)
	if clone.CategoryOf(err) != clone.Rejected {
		t.Fatalf("category = %q, want rejected (err: %v)", clone.CategoryOf(err), err)
	}
}

func TestTrainVoice_SampleFetchFailure(t *testing.T) {
	t.Parallel()

	// The audio server refuses the fetch; the streamed request body fails and
	// TrainVoice must surface an error rather than uploading a broken body.
	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(audio.Close)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reading the body hits the pipe error from the fetch goroutine.
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			t.Error("expected a broken multipart body")
		}
		http.Error(w, "bad body", http.StatusBadRequest)
	}))
	t.Cleanup(api.Close)

	p, _ := New("key", WithBaseURL(api.URL))
	_, err := p.TrainVoice(context.Background(), "user-1", testSamples(audio.URL))
	if err == nil {
		t.Fatal("expected error when a sample fetch fails")
	}
}
