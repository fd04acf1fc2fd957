package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	TTL        int
}

// PushSender delivers Web Push notifications. The destination is the JSON
// PushSubscription produced by the browser.
type PushSender struct {
	cfg        VAPIDConfig
	httpClient webpush.HTTPClient
}

func NewPushSender(cfg VAPIDConfig, httpClient webpush.HTTPClient) *PushSender {
	if cfg.TTL <= 0 {
		cfg.TTL = 3600
	}
	return &PushSender{cfg: cfg, httpClient: httpClient}
}

func (s *PushSender) Send(ctx context.Context, destination string, m Message) error {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(destination), &sub); err != nil {
		return fmt.Errorf("decode push subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return fmt.Errorf("push subscription has no endpoint")
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      s.cfg.Subject,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
		TTL:             s.cfg.TTL,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push endpoint returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
