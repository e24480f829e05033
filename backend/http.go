package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	chatPath      = "/chat"
	speechPath    = "/speech-to-text"
	translatePath = "/translate-from-english"
	pingPath      = "/ping"

	maxResponseBytes = 20 << 20
)

type Config struct {
	BaseURL string
	// Timeout bounds each request; zero waits indefinitely.
	Timeout time.Duration
	// OnRequest observes every completed round trip.
	OnRequest func(RequestStats)
}

// HTTPClient implements Client over the backend's JSON/multipart API.
type HTTPClient struct {
	baseURL   *url.URL
	timeout   time.Duration
	client    *TracedClient
	onRequest func(RequestStats)
}

func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	u, err := ParseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &HTTPClient{
		baseURL:   u,
		timeout:   cfg.Timeout,
		client:    NewTracedClient(maxResponseBytes),
		onRequest: cfg.OnRequest,
	}, nil
}

// ParseBaseURL validates an http(s) base URL and strips any trailing slash.
func ParseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, fmt.Errorf("backend url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("backend url %q: must be an absolute http(s) URL", raw)
	}
	return u, nil
}

func (c *HTTPClient) BaseURL() string { return c.baseURL.String() }

// Warm opens a connection to the backend before the first request.
func (c *HTTPClient) Warm(ctx context.Context) time.Duration {
	return c.client.Warm(ctx, c.endpoint(pingPath))
}

func (c *HTTPClient) endpoint(path string) string {
	return c.baseURL.JoinPath(path).String()
}

type chatRequest struct {
	Query string `json:"query"`
}

type chatResponse struct {
	Response        string `json:"response"`
	EnglishResponse string `json:"english_response"`
	AudioURL        string `json:"audio_url"`
	Language        string `json:"language"`
	DetectedModule  string `json:"detected_module"`
}

type speechResponse struct {
	Transcription string `json:"transcription"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
	TargetLanguage string `json:"target_language"`
}

type pingResponse struct {
	Message string `json:"message"`
}

func (c *HTTPClient) Chat(ctx context.Context, query string) (*ChatReply, error) {
	payload, err := json.Marshal(chatRequest{Query: query})
	if err != nil {
		return nil, &Error{Op: "chat", Cause: err}
	}
	resp, err := c.do(ctx, "chat", http.MethodPost, c.endpoint(chatPath), payload, "application/json")
	if err != nil {
		return nil, err
	}

	var cr chatResponse
	if err := json.Unmarshal(resp.Body, &cr); err != nil {
		return nil, &Error{Op: "chat", Status: resp.StatusCode, Cause: fmt.Errorf("decoding response: %w", err)}
	}
	lang := NormalizeLanguage(cr.Language)
	if lang == "" {
		lang = DefaultLanguage
	}
	return &ChatReply{
		Response:        cr.Response,
		EnglishResponse: cr.EnglishResponse,
		AudioURL:        c.resolve(cr.AudioURL),
		Language:        lang,
		Module:          cr.DetectedModule,
	}, nil
}

func (c *HTTPClient) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Transcription, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, uploadName(mimeType)))
	h.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, &Error{Op: "speech-to-text", Cause: err}
	}
	if _, err := part.Write(audio); err != nil {
		return nil, &Error{Op: "speech-to-text", Cause: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &Error{Op: "speech-to-text", Cause: err}
	}

	resp, err := c.do(ctx, "speech-to-text", http.MethodPost, c.endpoint(speechPath), body.Bytes(), writer.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var sr speechResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil {
		return nil, &Error{Op: "speech-to-text", Status: resp.StatusCode, Cause: fmt.Errorf("decoding response: %w", err)}
	}
	return &Transcription{Text: strings.TrimSpace(sr.Transcription)}, nil
}

func (c *HTTPClient) Translate(ctx context.Context, text, targetLang string) (*Translation, error) {
	if !IsTranslationTarget(targetLang) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, targetLang)
	}
	q := url.Values{}
	q.Set("text", text)
	q.Set("target_lang", targetLang)

	resp, err := c.do(ctx, "translate", http.MethodGet, c.endpoint(translatePath)+"?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}

	var tr translateResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return nil, &Error{Op: "translate", Status: resp.StatusCode, Cause: fmt.Errorf("decoding response: %w", err)}
	}
	if strings.TrimSpace(tr.TranslatedText) == "" {
		return nil, ErrEmptyTranslation
	}
	target := tr.TargetLanguage
	if target == "" {
		target = targetLang
	}
	return &Translation{Text: tr.TranslatedText, TargetLanguage: target}, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, "ping", http.MethodGet, c.endpoint(pingPath), nil, "")
	if err != nil {
		return err
	}
	var pr pingResponse
	if err := json.Unmarshal(resp.Body, &pr); err != nil || pr.Message != "pong" {
		return &Error{Op: "ping", Status: resp.StatusCode, Detail: fmt.Sprintf("unexpected reply %q", truncate(resp.Body, 80))}
	}
	return nil
}

func (c *HTTPClient) FetchAudio(ctx context.Context, rawURL string) ([]byte, error) {
	if rawURL == "" {
		return nil, &Error{Op: "audio", Detail: "no audio url"}
	}
	resp, err := c.do(ctx, "audio", http.MethodGet, c.resolve(rawURL), nil, "")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, target string, payload []byte, contentType string) (*TracedResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &Error{Op: op, Cause: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Cause: err}
	}

	if c.onRequest != nil {
		c.onRequest(RequestStats{
			Op:        op,
			Status:    resp.StatusCode,
			SentBytes: len(payload),
			RecvBytes: len(resp.Body),
			RequestID: firstNonEmpty(resp.Header, "X-Request-Id", "X-Correlation-Id"),
			Metrics:   resp.Metrics,
		})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Op: op, Status: resp.StatusCode, Detail: errorDetail(resp.Body)}
	}
	return resp, nil
}

// resolve makes a possibly relative audio URL absolute against the base URL.
func (c *HTTPClient) resolve(raw string) string {
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return c.baseURL.ResolveReference(ref).String()
}

// errorDetail extracts the "detail" field of an error body. Validation
// errors carry a list instead of a string; those are returned as raw JSON.
func errorDetail(body []byte) string {
	var e struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err != nil || len(e.Detail) == 0 {
		return truncate(body, 200)
	}
	var s string
	if err := json.Unmarshal(e.Detail, &s); err == nil {
		return s
	}
	return truncate(e.Detail, 200)
}

// truncate keeps at most n runes of b, so clipped Indic text stays valid UTF-8.
func truncate(b []byte, n int) string {
	s := strings.ToValidUTF8(strings.TrimSpace(string(b)), "\uFFFD")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func uploadName(mimeType string) string {
	ext := "webm"
	if base, _, err := mime.ParseMediaType(mimeType); err == nil {
		if _, sub, ok := strings.Cut(base, "/"); ok && sub != "" {
			ext = strings.TrimPrefix(sub, "x-")
		}
	}
	return "recording." + ext
}
