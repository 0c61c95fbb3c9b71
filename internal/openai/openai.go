// Package openai calls the OpenAI HTTP API for advice text, speech
// synthesis and transcription. Every request goes through a client.Caller
// so it shares retry, circuit breaking and upstream metrics.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kjstillabower/field-advisory/internal/client"
)

// ErrEmptyOutput is returned when a response carries no output text.
var ErrEmptyOutput = errors.New("model returned no text")

// Models selects the model per endpoint.
type Models struct {
	Advice        string
	Speech        string
	Transcription string
	Voice         string
}

// Client is a thin OpenAI API client.
type Client struct {
	caller  *client.Caller
	baseURL string
	apiKey  string
	models  Models
}

// New creates a Client. baseURL is the API root, e.g. https://api.openai.com/v1.
func New(caller *client.Caller, baseURL, apiKey string, models Models) *Client {
	return &Client{
		caller:  caller,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		models:  models,
	}
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model string         `json:"model"`
	Input []inputMessage `json:"input"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// Advise sends the system instructions and user content to the Responses
// endpoint and returns the concatenated output text.
func (c *Client) Advise(ctx context.Context, system, user string) (string, error) {
	payload, err := json.Marshal(responsesRequest{
		Model: c.models.Advice,
		Input: []inputMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode advice request: %w", err)
	}

	body, err := c.caller.Do(ctx, c.jsonRequest("/responses", payload))
	if err != nil {
		return "", fmt.Errorf("generate advice: %w", err)
	}

	var resp responsesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse advice response: %w", err)
	}
	var sb strings.Builder
	for _, item := range resp.Output {
		for _, part := range item.Content {
			if part.Type == "output_text" {
				sb.WriteString(part.Text)
			}
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("generate advice: %w", ErrEmptyOutput)
	}
	return text, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format"`
}

// Speak synthesises text to mp3 and writes it to path, replacing any
// existing file. It returns the path written.
func (c *Client) Speak(ctx context.Context, text, path string) (string, error) {
	payload, err := json.Marshal(speechRequest{
		Model:          c.models.Speech,
		Voice:          c.models.Voice,
		Input:          text,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return "", fmt.Errorf("encode speech request: %w", err)
	}

	audio, err := c.caller.Do(ctx, c.jsonRequest("/audio/speech", payload))
	if err != nil {
		return "", fmt.Errorf("synthesize speech: %w", err)
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("synthesize speech: %w", ErrEmptyOutput)
	}
	if err := writeFileAtomic(path, audio); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	return path, nil
}

// Transcribe uploads an audio file and returns the transcript text.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()
	return c.TranscribeReader(ctx, filepath.Base(path), f)
}

// TranscribeReader uploads audio read from r under the given file name.
func (c *Client) TranscribeReader(ctx context.Context, name string, r io.Reader) (string, error) {
	audio, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return "", errors.New("transcribe: empty audio")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", c.models.Transcription); err != nil {
		return "", fmt.Errorf("encode transcription request: %w", err)
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("encode transcription request: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("encode transcription request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("encode transcription request: %w", err)
	}
	form := buf.Bytes()
	contentType := mw.FormDataContentType()

	body, err := c.caller.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", bytes.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse transcription response: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// jsonRequest builds a fresh POST per attempt so retries resend the full body.
func (c *Client) jsonRequest(path string, payload []byte) client.RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".audio-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
