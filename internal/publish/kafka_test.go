package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"statereport/internal/config"
	"statereport/internal/model"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishWritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w)
	start := time.Date(2024, 3, 1, 12, 0, 0, 250_000_000, time.UTC)
	end := start.Add(time.Minute)
	alerts := []model.Interval{
		{GroupID: 1, MemberID: 7, SignalType: model.SignalError, Value: model.Int(42), Start: start, End: &end},
		{GroupID: 1, MemberID: 8, SignalType: model.SignalWarning, Value: model.Text("overheat"), Start: end},
	}
	if err := p.Publish(context.Background(), alerts); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	if got := string(w.msgs[0].Key); got != "1/7/error" {
		t.Fatalf("unexpected key %q", got)
	}
	var decoded model.Interval
	if err := json.Unmarshal(w.msgs[1].Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(alerts[1]) {
		t.Fatalf("payload mismatch: %+v", decoded)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer closed")
	}
}

func TestPublishEmptyIsNoop(t *testing.T) {
	w := &fakeWriter{err: errors.New("unreachable")}
	p := newKafkaPublisher(w)
	if err := p.Publish(context.Background(), nil); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := newKafkaPublisher(&fakeWriter{err: boom})
	err := p.Publish(context.Background(), []model.Interval{{GroupID: 1, MemberID: 1, SignalType: model.SignalError, Value: model.Int(1), Start: time.Now()}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	if _, err := NewKafkaPublisher(config.PublishKafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatalf("expected topic error")
	}
	if _, err := NewKafkaPublisher(config.PublishKafkaConfig{Topic: "alerts"}); err == nil {
		t.Fatalf("expected broker error")
	}
	p, err := NewKafkaPublisher(config.PublishKafkaConfig{Topic: "alerts", Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = p.Close()
}
