package kafka

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// DLQError marks a handler failure as permanent: the message goes straight to
// the dead-letter topic instead of being retried.
type DLQError struct {
	Err    error
	Reason string
}

func (e *DLQError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *DLQError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func DLQ(err error, reason string) error {
	if err == nil {
		return nil
	}
	return &DLQError{Err: err, Reason: reason}
}

const (
	DeadLetterConsume = "consume"
	DeadLetterPublish = "publish"
)

// DeadLetter is the record written to the dead-letter topic. The event and
// access request identifiers are copied out of the original payload when it
// still parses, so an operator can find the request without decoding
// Payload.
type DeadLetter struct {
	Source        string    `json:"source"`
	OriginalTopic string    `json:"original_topic"`
	Partition     *int32    `json:"partition,omitempty"`
	Offset        *int64    `json:"offset,omitempty"`
	Key           string    `json:"key,omitempty"`
	EventID       string    `json:"event_id,omitempty"`
	EventType     string    `json:"event_type,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	ReferenceCode string    `json:"reference_code,omitempty"`
	Error         string    `json:"error"`
	Reason        string    `json:"reason,omitempty"`
	Attempts      int       `json:"attempts"`
	Payload       string    `json:"payload_base64,omitempty"`
	FailedAt      time.Time `json:"failed_at"`
}

type deadLetterSubject struct {
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"`
	CorrelationID string `json:"correlation_id"`
	RequestID     string `json:"request_id"`
	ReferenceCode string `json:"reference_code"`
}

func (d *DeadLetter) describe(raw []byte) {
	if len(raw) == 0 {
		return
	}
	d.Payload = base64.StdEncoding.EncodeToString(raw)
	var subject deadLetterSubject
	if json.Unmarshal(raw, &subject) != nil {
		return
	}
	d.EventID = subject.EventID
	d.EventType = subject.EventType
	d.CorrelationID = subject.CorrelationID
	d.RequestID = subject.RequestID
	d.ReferenceCode = subject.ReferenceCode
}

// DeadLetterFromMessage records a consumed message the handler gave up on.
func DeadLetterFromMessage(msg *sarama.ConsumerMessage, err *DLQError, attempts int, now time.Time) DeadLetter {
	d := DeadLetter{
		Source:   DeadLetterConsume,
		Attempts: attempts,
		FailedAt: now.UTC(),
	}
	if err != nil {
		d.Reason = err.Reason
		if err.Err != nil {
			d.Error = err.Err.Error()
		} else {
			d.Error = err.Error()
		}
	}
	if msg == nil {
		return d
	}
	partition, offset := msg.Partition, msg.Offset
	d.OriginalTopic = msg.Topic
	d.Partition = &partition
	d.Offset = &offset
	d.Key = string(msg.Key)
	d.describe(msg.Value)
	if d.EventID == "" {
		d.EventID = HeaderValue(msg.Headers, HeaderEventID)
	}
	if d.EventType == "" {
		d.EventType = HeaderValue(msg.Headers, HeaderEventType)
	}
	if d.CorrelationID == "" {
		d.CorrelationID = HeaderValue(msg.Headers, HeaderCorrelationID)
	}
	return d
}

// DeadLetterFromPublish records an event the producer could not deliver.
func DeadLetterFromPublish(topic, key string, value any, err error, reason string, attempts int, now time.Time) DeadLetter {
	d := DeadLetter{
		Source:        DeadLetterPublish,
		OriginalTopic: topic,
		Key:           key,
		Reason:        reason,
		Attempts:      attempts,
		FailedAt:      now.UTC(),
	}
	if err != nil {
		d.Error = err.Error()
	}
	if value != nil {
		raw, marshalErr := json.Marshal(value)
		if marshalErr != nil {
			raw = []byte(fmt.Sprintf("%v", value))
		}
		d.describe(raw)
	}
	return d
}
