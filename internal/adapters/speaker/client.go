// Package speaker talks to the optional external speaker-recognition
// service. When the service is down or unconfigured, callers treat
// identification as a no-op and keep the generic speaker labels.
package speaker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chronicleaudio/chronicle/internal/adapters/circuitbreaker"
	"github.com/chronicleaudio/chronicle/internal/adapters/retry"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
	"github.com/chronicleaudio/chronicle/internal/wav"
)

type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	retryConfig retry.BackoffConfig
	breaker     *circuitbreaker.CircuitBreaker
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		retryConfig: retry.DefaultConfig(),
		breaker:     circuitbreaker.New(5, 30*time.Second),
	}
}

type enrolledSpeakersResponse struct {
	Speakers []ports.EnrolledSpeaker `json:"speakers"`
}

func (c *Client) EnrolledSpeakers(ctx context.Context, userID string) ([]ports.EnrolledSpeaker, error) {
	var response enrolledSpeakersResponse
	endpoint := "/speakers?user_id=" + url.QueryEscape(userID)

	err := c.breaker.Execute(func() error {
		return c.getJSON(ctx, endpoint, &response)
	})
	if err != nil {
		return nil, err
	}
	return response.Speakers, nil
}

type identifyRequest struct {
	UserID   string                  `json:"user_id"`
	Segments []models.SpeakerSegment `json:"segments"`
	AudioWAV []byte                  `json:"audio_wav"` // base64 via encoding/json
}

type identifyResponse struct {
	Segments []models.SpeakerSegment `json:"segments"`
}

// Identify sends the conversation audio and its diarized segments; the
// service fills IdentifiedAs on segments it can match to enrolled voices.
func (c *Client) Identify(ctx context.Context, audio []byte, sampleRate int, segments []models.SpeakerSegment, userID string) ([]models.SpeakerSegment, error) {
	req := identifyRequest{
		UserID:   userID,
		Segments: segments,
		AudioWAV: wav.Encode(audio, sampleRate, 1),
	}

	var response identifyResponse
	err := c.breaker.Execute(func() error {
		return c.postJSON(ctx, "/identify", req, &response)
	})
	if err != nil {
		return nil, err
	}
	return response.Segments, nil
}

// Available probes the service health endpoint without retries.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload, response interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var respBody []byte
	err = retry.WithBackoffHTTP(ctx, c.retryConfig, func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint, bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return err
	}

	if response != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, response); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, response interface{}) error {
	var respBody []byte
	err := retry.WithBackoffHTTP(ctx, c.retryConfig, func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+endpoint, nil)
		if err != nil {
			return 0, fmt.Errorf("failed to create request: %w", err)
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return err
	}

	if response != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, response); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

var _ ports.SpeakerRecognitionService = (*Client)(nil)
