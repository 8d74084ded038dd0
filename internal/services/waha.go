package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/code-Quester/SpeakSutra/internal/config"
	"github.com/code-Quester/SpeakSutra/internal/models"
)

// defaultChatCountryCode replaces the trunk '0' of national numbers.
const defaultChatCountryCode = "91"

type WahaService struct {
	baseURL string
	apiKey  string
	client  *http.Client
	pause   func(time.Duration)
}

func NewWahaService(cfg config.Waha) *WahaService {
	return &WahaService{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		pause:   time.Sleep,
	}
}

// Configured reports whether a WAHA endpoint is set.
func (s *WahaService) Configured() bool {
	return s != nil && s.baseURL != ""
}

func (s *WahaService) makeRequest(ctx context.Context, method, endpoint string, payload interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-Api-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (s *WahaService) chatAction(ctx context.Context, endpoint, chatID string) error {
	return s.makeRequest(ctx, http.MethodPost, endpoint, map[string]string{
		"chatId":  chatID,
		"session": "default",
	})
}

// NormalizeChatID turns a contact number into a WAHA chat id. Separators and a leading
// '+' are dropped; a national number starting with '0' gets defaultCountryCode in place
// of the trunk prefix. Group ids pass through.
func NormalizeChatID(chatID, defaultCountryCode string) string {
	chatID = strings.TrimSpace(chatID)

	if strings.HasSuffix(chatID, "@g.us") {
		return chatID
	}

	chatID = strings.TrimSuffix(chatID, "@c.us")
	chatID = digitsOnly(chatID)

	if strings.HasPrefix(chatID, "0") && defaultCountryCode != "" {
		chatID = digitsOnly(defaultCountryCode) + strings.TrimPrefix(chatID, "0")
	}

	return chatID + "@c.us"
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SendMessage sends a message with authentic behavior (seen -> typing -> stop typing -> send)
func (s *WahaService) SendMessage(ctx context.Context, chatID, text string) error {
	chatID = NormalizeChatID(chatID, defaultChatCountryCode)

	if err := s.chatAction(ctx, "/api/sendSeen", chatID); err != nil {
		return fmt.Errorf("failed to send seen: %w", err)
	}
	s.pause(100 * time.Millisecond)

	if err := s.chatAction(ctx, "/api/startTyping", chatID); err != nil {
		return fmt.Errorf("failed to start typing: %w", err)
	}
	s.pause(150 * time.Millisecond)

	if err := s.chatAction(ctx, "/api/stopTyping", chatID); err != nil {
		return fmt.Errorf("failed to stop typing: %w", err)
	}
	s.pause(50 * time.Millisecond)

	if err := s.makeRequest(ctx, http.MethodPost, "/api/sendText", map[string]string{
		"chatId":  chatID,
		"text":    text,
		"session": "default",
	}); err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}

	return nil
}

// EnrollmentMessage is the WhatsApp text sent after a completed enrollment.
func EnrollmentMessage(c *models.Customer, course config.Course) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s, your payment of %s for %s is confirmed (order %s).",
		c.Name, FormatAmount(c.Amount, c.Currency), course.Name, c.OrderID)
	if course.WhatsappGroupLink != "" {
		fmt.Fprintf(&b, "\n\nJoin the course group: %s", course.WhatsappGroupLink)
	}
	return b.String()
}
