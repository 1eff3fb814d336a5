package notification

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope is returned for queue records that are not SNS notifications
var ErrMalformedEnvelope = errors.New("notification: malformed SNS envelope")

// Envelope is an SNS notification as delivered to an SQS subscriber
type Envelope struct {
	Type              string                       `json:"Type"`
	MessageID         string                       `json:"MessageId"`
	TopicArn          string                       `json:"TopicArn"`
	Message           string                       `json:"Message"`
	MessageAttributes map[string]envelopeAttribute `json:"MessageAttributes"`
}

type envelopeAttribute struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

// EventType returns the "event_type" attribute, or "" when absent
func (e Envelope) EventType() string {
	return e.MessageAttributes["event_type"].Value
}

// ParseEnvelope decodes an SQS record body
func ParseEnvelope(body string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if env.Message == "" {
		return Envelope{}, fmt.Errorf("%w: empty message", ErrMalformedEnvelope)
	}
	return env, nil
}

// Decode unmarshals the message body into v
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal([]byte(e.Message), v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	return nil
}
