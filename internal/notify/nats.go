package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher is the JetStream subset used by NATSDispatcher.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSDispatcher hands push requests to the push gateway through JetStream.
// Subjects follow {prefix}.{userID}.
type NATSDispatcher struct {
	js     Publisher
	prefix string
}

func NewNATSDispatcher(js Publisher, prefix string) *NATSDispatcher {
	return &NATSDispatcher{js: js, prefix: prefix}
}

type pushRequest struct {
	UserID string `json:"userId"`
	Payload
	SentAt time.Time `json:"sentAt"`
}

func (d *NATSDispatcher) Notify(ctx context.Context, userID string, p Payload) error {
	if p.Endpoint == "" {
		return fmt.Errorf("notify %s: %w", userID, ErrNoEndpoint)
	}

	data, err := json.Marshal(pushRequest{UserID: userID, Payload: p, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	// Message id lets JetStream drop duplicates when a settlement is redelivered.
	_, err = d.js.Publish(ctx, d.subject(userID), data, jetstream.WithMsgID(p.MatchID+":"+userID))
	if err != nil {
		return fmt.Errorf("publish push request for %s: %w", userID, err)
	}

	return nil
}

func (d *NATSDispatcher) subject(userID string) string {
	return d.prefix + "." + userID
}

// EnsureStream creates the stream holding push requests.
func EnsureStream(ctx context.Context, js jetstream.JetStream, prefix string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "TYPING_NOTIFICATIONS",
		Subjects:   []string{prefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     24 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create notifications stream: %w", err)
	}

	return nil
}
