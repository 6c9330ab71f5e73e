// Package summary integrates the external text-summarization collaborator.
// Model inference stays behind an HTTP contract; only the request/response
// shape is known here.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/lo"

	"helpdesk/domain"
)

type HTTPSummarizer struct {
	endpoint string
	client   *http.Client
	log      *slog.Logger
}

func NewHTTPSummarizer(endpoint string, timeout time.Duration, log *slog.Logger) *HTTPSummarizer {
	return &HTTPSummarizer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

type summarizeRequest struct {
	Subject  string             `json:"subject,omitempty"`
	Language string             `json:"language,omitempty"`
	Messages []summarizeMessage `json:"messages"`
}

type summarizeMessage struct {
	SenderRole string `json:"sender_role"`
	Text       string `json:"text"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

func (s *HTTPSummarizer) Summarize(ctx context.Context, conv domain.Conversation, history []domain.Message) (string, error) {
	payload := summarizeRequest{
		Subject:  conv.Subject,
		Language: conv.Language,
		Messages: lo.FilterMap(history, func(m domain.Message, _ int) (summarizeMessage, bool) {
			if m.Text == "" {
				return summarizeMessage{}, false
			}
			return summarizeMessage{SenderRole: string(m.SenderRole), Text: m.Text}, true
		}),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("summarizer unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summarizer returned %d", resp.StatusCode)
	}
	var decoded summarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	return decoded.Summary, nil
}
