package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"

	"captiongen/config"
	"captiongen/pipeline"
	"captiongen/server"
	"captiongen/session"
	"captiongen/transcribe"
	"captiongen/transcribe/mocks"
)

const sampleSRT = `1
00:00:00,000 --> 00:00:02,000
Pierwsza linia napisow.
`

type extractorFunc func(ctx context.Context, videoPath string) (string, error)

func (f extractorFunc) Extract(ctx context.Context, videoPath string) (string, error) {
	return f(ctx, videoPath)
}

type env struct {
	srv         *server.Server
	store       *session.MemoryStore
	transcriber *mocks.MockTranscriber
	scratch     string
	extracts    *int
}

func newEnv(t *testing.T) *env {
	t.Helper()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	cfg := &config.Config{}
	cfg.Server.BodyLimitMB = 64
	cfg.Media.ScratchDir = t.TempDir()
	cfg.Session.TokenSecret = "test-secret"

	store := session.NewMemoryStore()
	transcriber := mocks.NewMockTranscriber(ctrl)

	extracts := 0
	extractor := extractorFunc(func(_ context.Context, _ string) (string, error) {
		extracts++
		path := filepath.Join(cfg.Media.ScratchDir, "audio-extracted.mp3")
		if err := os.WriteFile(path, []byte("mp3 bytes"), 0o600); err != nil {
			return "", err
		}
		return path, nil
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &env{
		srv:         server.New(cfg, store, extractor, transcriber, logger),
		store:       store,
		transcriber: transcriber,
		scratch:     cfg.Media.ScratchDir,
		extracts:    &extracts,
	}
}

func (e *env) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := e.srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func uploadRequest(t *testing.T, filename, format string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("video", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte("pretend container bytes")); err != nil {
		t.Fatal(err)
	}
	if format != "" {
		if err := mw.WriteField("format", format); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (e *env) upload(t *testing.T, filename, format string) string {
	t.Helper()
	resp := e.do(t, uploadRequest(t, filename, format))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status: got %d", resp.StatusCode)
	}
	body := decode(t, resp)
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatal("upload response has no session id")
	}
	return id
}

func TestUploadCreatesSession(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, uploadRequest(t, "wyklad.mp4", ""))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status: got %d, want 201", resp.StatusCode)
	}
	var gotCookie bool
	for _, c := range resp.Cookies() {
		if c.Name == "captiongen_session" && c.Value != "" {
			gotCookie = true
		}
	}
	if !gotCookie {
		t.Error("upload should set the session cookie")
	}

	body := decode(t, resp)
	if body["stage"] != "upload" {
		t.Errorf("stage: got %v", body["stage"])
	}
	if body["format"] != "srt" {
		t.Errorf("default format: got %v", body["format"])
	}
	if body["video_name"] != "wyklad.mp4" {
		t.Errorf("video_name: got %v", body["video_name"])
	}
}

func TestUploadRejectsBadExtension(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, uploadRequest(t, "payload.exe", ""))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestCurrentResumesFromCookie(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, uploadRequest(t, "clip.webm", ""))
	body := decode(t, resp)
	id := body["id"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/current", nil)
	for _, c := range resp.Cookies() {
		req.AddCookie(c)
	}
	resumed := decode(t, e.do(t, req))
	if resumed["id"] != id {
		t.Errorf("resumed id: got %v, want %v", resumed["id"], id)
	}

	// Without the cookie there is nothing to resume.
	bare := e.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/current", nil))
	if bare.StatusCode != http.StatusNotFound {
		t.Errorf("bare status: got %d, want 404", bare.StatusCode)
	}

	// A forged cookie is rejected.
	forged := httptest.NewRequest(http.MethodGet, "/api/sessions/current", nil)
	forged.AddCookie(&http.Cookie{Name: "captiongen_session", Value: "not-a-token"})
	if resp := e.do(t, forged); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("forged status: got %d, want 401", resp.StatusCode)
	}
}

func TestPipelineFlow(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "talk.mkv", "")

	e.transcriber.EXPECT().
		Transcribe(gomock.Any(), gomock.Any(), transcribe.FormatSRT).
		Return(sampleSRT, nil)

	extracted := decode(t, e.do(t, jsonRequest(t, http.MethodPost, "/api/sessions/"+id+"/extract", nil)))
	if extracted["stage"] != "extract_audio" {
		t.Fatalf("stage after extract: got %v", extracted["stage"])
	}
	if extracted["has_audio"] != true {
		t.Fatal("extract should record the audio artifact")
	}

	transcribed := decode(t, e.do(t, jsonRequest(t, http.MethodPost, "/api/sessions/"+id+"/transcribe", nil)))
	if transcribed["stage"] != "transcribe" {
		t.Fatalf("stage after transcribe: got %v", transcribed["stage"])
	}
	if transcribed["transcript"] != sampleSRT {
		t.Errorf("transcript: got %v", transcribed["transcript"])
	}

	// Manual back-transition clears the transcript but keeps the audio.
	back := decode(t, e.do(t, jsonRequest(t, http.MethodPost, "/api/sessions/"+id+"/back", nil)))
	if back["stage"] != "extract_audio" {
		t.Fatalf("stage after back: got %v", back["stage"])
	}
	if _, ok := back["transcript"]; ok {
		t.Error("back should clear the transcript")
	}
	if back["has_audio"] != true {
		t.Error("back should keep the audio artifact")
	}
}

func TestTranscribeBeforeExtractConflicts(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "clip.mov", "")

	resp := e.do(t, jsonRequest(t, http.MethodPost, "/api/sessions/"+id+"/transcribe", nil))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status: got %d, want 409", resp.StatusCode)
	}
}

func TestFormatChangeKeepsAudioArtifact(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "clip.avi", "srt")

	e.do(t, jsonRequest(t, http.MethodPost, "/api/sessions/"+id+"/extract", nil))
	before, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}

	changed := decode(t, e.do(t, jsonRequest(t, http.MethodPost, "/api/sessions/"+id+"/format", map[string]string{"format": "text"})))
	if changed["format"] != "text" {
		t.Fatalf("format: got %v", changed["format"])
	}

	after, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if after.AudioPath != before.AudioPath {
		t.Error("format change must not touch the audio artifact")
	}
	if *e.extracts != 1 {
		t.Errorf("extractor ran %d times, want 1", *e.extracts)
	}
}

func TestEditAndDownloadRoundTrip(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "wyklad.mp4", "text")

	e.transcriber.EXPECT().
		Transcribe(gomock.Any(), gomock.Any(), transcribe.FormatText).
		Return("surowa transkrypcja", nil)

	e.do(t, jsonRequest(t, http.MethodPost, "/api/sessions/"+id+"/extract", nil))
	e.do(t, jsonRequest(t, http.MethodPost, "/api/sessions/"+id+"/transcribe", nil))

	edited := "poprawione napisy: zażółć gęślą jaźń\n"
	resp := e.do(t, jsonRequest(t, http.MethodPut, "/api/sessions/"+id+"/transcript", map[string]string{"transcript": edited}))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit status: got %d", resp.StatusCode)
	}

	dl := e.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/download", nil))
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status: got %d", dl.StatusCode)
	}
	if ct := dl.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type: got %q", ct)
	}
	if cd := dl.Header.Get("Content-Disposition"); !strings.Contains(cd, "captions.txt") {
		t.Errorf("disposition: got %q", cd)
	}
	got, err := io.ReadAll(dl.Body)
	dl.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte(edited)) {
		t.Errorf("download is not byte-for-byte the edited text:\ngot  %q\nwant %q", got, edited)
	}
}

func TestDownloadNamesFollowFormat(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "talk.mp4", "srt")

	e.transcriber.EXPECT().
		Transcribe(gomock.Any(), gomock.Any(), transcribe.FormatSRT).
		Return(sampleSRT, nil)

	e.do(t, jsonRequest(t, http.MethodPost, "/api/sessions/"+id+"/extract", nil))
	e.do(t, jsonRequest(t, http.MethodPost, "/api/sessions/"+id+"/transcribe", nil))

	dl := e.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/download", nil))
	if cd := dl.Header.Get("Content-Disposition"); !strings.Contains(cd, "captions.srt") {
		t.Errorf("srt disposition: got %q", cd)
	}
	dl.Body.Close()

	plain := e.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/download?plain=1", nil))
	if cd := plain.Header.Get("Content-Disposition"); !strings.Contains(cd, "captions.txt") {
		t.Errorf("plain disposition: got %q", cd)
	}
	plain.Body.Close()
}

func TestDecodeFailureIsSurfacedWithHint(t *testing.T) {
	e := newEnv(t)

	broken := server.New(
		func() *config.Config {
			cfg := &config.Config{}
			cfg.Server.BodyLimitMB = 64
			cfg.Media.ScratchDir = t.TempDir()
			cfg.Session.TokenSecret = "test-secret"
			return cfg
		}(),
		e.store,
		extractorFunc(func(context.Context, string) (string, error) {
			return "", errors.Wrap(pipeline.ErrDecode, "ffmpeg: no audio stream")
		}),
		e.transcriber,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	resp, err := broken.App().Test(uploadRequest(t, "silent.mp4", ""), -1)
	if err != nil {
		t.Fatal(err)
	}
	id := decode(t, resp)["id"].(string)

	failed, err := broken.App().Test(jsonRequest(t, http.MethodPost, "/api/sessions/"+id+"/extract", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if failed.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d, want 422", failed.StatusCode)
	}
	body := decode(t, failed)
	if body["class"] != "decode_failure" {
		t.Errorf("class: got %v", body["class"])
	}
	hint, _ := body["hint"].(string)
	if !strings.Contains(hint, "ffmpeg") {
		t.Errorf("hint should mention ffmpeg, got %q", hint)
	}

	// The session survives the failure.
	again, err := broken.App().Test(httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if again.StatusCode != http.StatusOK {
		t.Errorf("session should stay usable, got %d", again.StatusCode)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", resp.StatusCode)
	}
}
