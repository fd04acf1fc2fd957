// Package suno talks to the sunoapi.org task API: music generation, the
// derived MP4 video and lyrics drafts. Every call is a single request; the
// callers own polling.
package suno

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrProvider wraps every non-transport failure reported by the API.
var ErrProvider = errors.New("suno: provider error")

const defaultBaseURL = "https://api.sunoapi.org"

type Config struct {
	APIKey      string
	BaseURL     string
	CallbackURL string
	Model       string
	Timeout     time.Duration
}

// Client is safe for concurrent use and is meant to be built once per process.
type Client struct {
	apiKey      string
	baseURL     string
	callbackURL string
	model       string
	httpClient  *http.Client
	log         *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "V4_5"
	}
	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     base,
		callbackURL: cfg.CallbackURL,
		model:       model,
		httpClient:  &http.Client{Timeout: timeout},
		log:         log,
	}
}

// State is the normalized task state.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

type GenerateRequest struct {
	Lyrics      string
	StyleID     string
	CustomStyle string
	Language    string
	Title       string
	SeedAudio   string
}

// Clip is one generated track.
type Clip struct {
	ID        string  `json:"id"`
	AudioURL  string  `json:"audioUrl"`
	StreamURL string  `json:"streamAudioUrl"`
	ImageURL  string  `json:"imageUrl"`
	Duration  float64 `json:"duration"`
}

type Status struct {
	State State
	Clips []Clip
	Error string
}

type VideoStatus struct {
	State    State
	VideoURL string
	Error    string
}

type LyricsStatus struct {
	State  State
	Texts  []string
	Titles []string
	Error  string
}

// SubmitGeneration creates a music task and returns its task id. A seed
// audio switches to the cover endpoint.
func (c *Client) SubmitGeneration(ctx context.Context, req GenerateRequest) (string, error) {
	style := req.CustomStyle
	if style == "" {
		style = req.StyleID
	}
	if req.Language != "" {
		style = strings.TrimSpace(style + ", " + languageHint(req.Language))
	}
	body := map[string]any{
		"customMode":   true,
		"instrumental": req.Lyrics == "",
		"model":        c.model,
		"prompt":       req.Lyrics,
		"style":        style,
		"title":        req.Title,
		"callBackUrl":  c.callbackURL,
	}
	path := "/api/v1/generate"
	if req.SeedAudio != "" {
		path = "/api/v1/generate/upload-cover"
		body["uploadUrl"] = req.SeedAudio
	}
	return c.createTask(ctx, path, body)
}

func (c *Client) GetStatus(ctx context.Context, taskID string) (*Status, error) {
	var data struct {
		Status   string `json:"status"`
		Response struct {
			SunoData []Clip `json:"sunoData"`
		} `json:"response"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/generate/record-info", url.Values{"taskId": {taskID}}, nil, &data); err != nil {
		return nil, err
	}
	st := &Status{State: musicState(data.Status), Error: data.ErrorMessage}
	if st.State == StateCompleted {
		st.Clips = data.Response.SunoData
		if len(st.Clips) == 0 {
			return nil, fmt.Errorf("%w: task %s succeeded without clips", ErrProvider, taskID)
		}
	}
	if st.State == StateFailed && st.Error == "" {
		st.Error = strings.ToLower(data.Status)
	}
	return st, nil
}

// SubmitVideo starts an MP4 render of one clip of a finished music task.
func (c *Client) SubmitVideo(ctx context.Context, taskID, audioID, author, domain string) (string, error) {
	return c.createTask(ctx, "/api/v1/mp4/generate", map[string]any{
		"taskId":      taskID,
		"audioId":     audioID,
		"author":      author,
		"domainName":  domain,
		"callBackUrl": c.callbackURL,
	})
}

func (c *Client) GetVideoStatus(ctx context.Context, videoTaskID string) (*VideoStatus, error) {
	var data struct {
		SuccessFlag string `json:"successFlag"`
		Response    struct {
			VideoURL string `json:"videoUrl"`
		} `json:"response"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/mp4/record-info", url.Values{"taskId": {videoTaskID}}, nil, &data); err != nil {
		return nil, err
	}
	st := &VideoStatus{Error: data.ErrorMessage}
	switch {
	case data.SuccessFlag == "SUCCESS":
		st.State = StateCompleted
		st.VideoURL = data.Response.VideoURL
		if st.VideoURL == "" {
			return nil, fmt.Errorf("%w: video task %s succeeded without url", ErrProvider, videoTaskID)
		}
	case strings.HasSuffix(data.SuccessFlag, "FAILED"):
		st.State = StateFailed
		if st.Error == "" {
			st.Error = strings.ToLower(data.SuccessFlag)
		}
	default:
		st.State = StatePending
	}
	return st, nil
}

func (c *Client) SubmitLyrics(ctx context.Context, prompt string) (string, error) {
	return c.createTask(ctx, "/api/v1/lyrics", map[string]any{
		"prompt":      prompt,
		"callBackUrl": c.callbackURL,
	})
}

func (c *Client) GetLyricsStatus(ctx context.Context, taskID string) (*LyricsStatus, error) {
	var data struct {
		Status   string `json:"status"`
		Response struct {
			Data []struct {
				Text  string `json:"text"`
				Title string `json:"title"`
			} `json:"data"`
		} `json:"response"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/lyrics/record-info", url.Values{"taskId": {taskID}}, nil, &data); err != nil {
		return nil, err
	}
	st := &LyricsStatus{State: musicState(data.Status), Error: data.ErrorMessage}
	if st.State == StateCompleted {
		for _, d := range data.Response.Data {
			st.Texts = append(st.Texts, d.Text)
			st.Titles = append(st.Titles, d.Title)
		}
	}
	return st, nil
}

// musicState maps the API task states. TEXT_SUCCESS and FIRST_SUCCESS are
// intermediate: the full set of clips is only there on SUCCESS.
func musicState(s string) State {
	switch {
	case s == "SUCCESS":
		return StateCompleted
	case strings.HasSuffix(s, "FAILED"), s == "SENSITIVE_WORD_ERROR", s == "CALLBACK_EXCEPTION":
		return StateFailed
	default:
		return StatePending
	}
}

func languageHint(lang string) string {
	switch strings.ToLower(lang) {
	case "fr":
		return "sung in French"
	case "en":
		return "sung in English"
	default:
		return "sung in " + lang
	}
}

func (c *Client) createTask(ctx context.Context, path string, payload map[string]any) (string, error) {
	var data struct {
		TaskID string `json:"taskId"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, payload, &data); err != nil {
		return "", err
	}
	if data.TaskID == "" {
		return "", fmt.Errorf("%w: empty taskId from %s", ErrProvider, path)
	}
	c.log.Info("suno task created", "path", path, "task_id", data.TaskID)
	return data.TaskID, nil
}

// do sends one request and decodes the {code, msg, data} envelope into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, out any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("suno %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("suno request failed", "status", resp.StatusCode, "path", path, "body", truncateBody(raw))
		return fmt.Errorf("%w: status=%d path=%s body=%s", ErrProvider, resp.StatusCode, path, truncateBody(raw))
	}

	var env struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: decode envelope: %v (body=%s)", ErrProvider, err, truncateBody(raw))
	}
	if env.Code != http.StatusOK {
		return fmt.Errorf("%w: code=%d msg=%s", ErrProvider, env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrProvider, err)
	}
	return nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
