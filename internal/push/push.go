package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/nudge/internal/model"
)

var (
	// ErrExpired is returned when the push service reports the endpoint is
	// gone (404 or 410). The endpoint should be deleted.
	ErrExpired = errors.New("push endpoint expired")
	// ErrTransport wraps any other delivery failure.
	ErrTransport = errors.New("push transport failure")
)

// Transport delivers an encoded payload to one endpoint.
type Transport interface {
	Send(ctx context.Context, ep model.PushEndpoint, payload []byte) error
}

// Config holds VAPID configuration.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             time.Duration
	Timeout         time.Duration
}

// Configured reports whether both VAPID keys are set.
func (c Config) Configured() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// Service sends Web Push messages with webpush-go.
type Service struct {
	cfg    Config
	client *http.Client
}

// NewService creates a push service with VAPID keys.
func NewService(cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// Send delivers payload to ep.
func (s *Service) Send(ctx context.Context, ep model.PushEndpoint, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: ep.Endpoint,
		Keys: webpush.Keys{
			P256dh: ep.P256dhKey,
			Auth:   ep.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		Subscriber:      s.cfg.Subscriber,
		TTL:             int(s.cfg.TTL.Seconds()),
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%w: push service returned %d", ErrExpired, code)
	case code >= 400:
		return fmt.Errorf("%w: push service returned %d", ErrTransport, code)
	}
	return nil
}

// GenerateVAPIDKeys generates a new VAPID key pair, base64url encoded.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate VAPID keys: %w", err)
	}
	return publicKey, privateKey, nil
}
