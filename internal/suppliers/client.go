// Package suppliers – webhook client
//
// Each external provider is driven through the same minimal shape: POST a
// JSON payload describing the media and a callback URL, authenticate with a
// bearer token, and treat any non-2xx response as a dispatch failure. The
// provider does the actual speech recognition and reports the result to the
// callback endpoint later.
package suppliers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Client talks to one external transcription provider.
type Client struct {
	// Name identifies the provider in job records, metrics, and callback
	// routes ("premium", "standard").
	Name string
	// Endpoint is the provider's job submission URL.
	Endpoint string
	// Token is the bearer credential for the provider API.
	Token string
	// SignCallbacks requests an HMAC signature on the callback URL; some
	// providers echo arbitrary caller state and cannot be trusted without it.
	SignCallbacks bool

	// HTTP is the client used for submissions. It must carry a bounded
	// timeout; the admission path runs under a short overall deadline.
	HTTP *http.Client
}

// Configured reports whether the client can be dispatched to.
func (c *Client) Configured() bool {
	return c != nil && c.Endpoint != "" && c.Token != ""
}

// jobPayload is the submission body shared by the webhook providers.
type jobPayload struct {
	AudioURL    string  `json:"audio_url"`
	CallbackURL string  `json:"callback_url"`
	Language    string  `json:"language,omitempty"`
	Diarization bool    `json:"diarization,omitempty"`
	ClipSeconds float64 `json:"clip_seconds,omitempty"`
}

// Submit POSTs one job to the provider. A non-2xx status is an error; the
// response body is drained and discarded either way so connections can be
// reused.
func (c *Client) Submit(ctx context.Context, mediaURL, callbackURL, language string, diarization bool, clipSeconds float64) error {
	body, err := json.Marshal(jobPayload{
		AudioURL:    mediaURL,
		CallbackURL: callbackURL,
		Language:    language,
		Diarization: diarization,
		ClipSeconds: clipSeconds,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("supplier %s returned %d", c.Name, resp.StatusCode)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
