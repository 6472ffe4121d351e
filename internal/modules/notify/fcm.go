// README: FCM push sink with device tokens resolved from the Realtime Database.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/messaging"

	"ridematch/internal/types"
)

var ErrNoDeviceToken = errors.New("no device token registered")

// TokenDirectory resolves a user id to its current push token.
type TokenDirectory interface {
	DeviceToken(ctx context.Context, userID types.ID) (string, error)
}

// RTDBTokens reads tokens the mobile apps write under /device_tokens/{uid}.
type RTDBTokens struct {
	client *db.Client
}

func NewRTDBTokens(client *db.Client) *RTDBTokens {
	return &RTDBTokens{client: client}
}

func (t *RTDBTokens) DeviceToken(ctx context.Context, userID types.ID) (string, error) {
	var token string
	if err := t.client.NewRef("device_tokens").Child(string(userID)).Get(ctx, &token); err != nil {
		return "", fmt.Errorf("reading device token for %s: %w", string(userID), err)
	}
	if token == "" {
		return "", ErrNoDeviceToken
	}
	return token, nil
}

// messageSender is the subset of *messaging.Client used by FCMSink.
type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMSink struct {
	sender messageSender
	tokens TokenDirectory
	log    *slog.Logger
}

func NewFCMSink(client *messaging.Client, tokens TokenDirectory, logger *slog.Logger) *FCMSink {
	return &FCMSink{sender: client, tokens: tokens, log: logger}
}

func (s *FCMSink) Send(ctx context.Context, recipient types.ID, msg Message) error {
	token, err := s.tokens.DeviceToken(ctx, recipient)
	if err != nil {
		return err
	}

	m := &messaging.Message{
		Token: token,
		Data:  fcmData(msg),
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	messageID, err := s.sender.Send(ctx, m)
	if err != nil {
		return fmt.Errorf("sending FCM to %s: %w", string(recipient), err)
	}
	s.log.Debug("FCM sent", "kind", msg.Kind, "recipient", string(recipient), "message_id", messageID)
	return nil
}

func fcmData(msg Message) map[string]string {
	data := make(map[string]string, len(msg.Data)+1)
	for k, v := range msg.Data {
		data[k] = v
	}
	data["type"] = msg.Kind
	return data
}

// LogSink only logs; used when no push backend is configured.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{log: logger}
}

func (s *LogSink) Send(_ context.Context, recipient types.ID, msg Message) error {
	s.log.Info("notification", "kind", msg.Kind, "recipient", string(recipient), "title", msg.Title, "data", msg.Data)
	return nil
}
