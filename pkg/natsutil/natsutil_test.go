package natsutil

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type queryEvent struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}
	carrier.Set("traceparent", "00-xyz-def-01")
	if got := carrier.Get("traceparent"); got != "00-xyz-def-01" {
		t.Fatalf("expected overwrite, got %q", got)
	}

	keys := carrier.Keys()
	if len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestNatsHeaderCarrierNilHeader(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}
}

func TestNewMsgInjectsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	msg, err := newMsg(ctx, "firstaid.query.completed", queryEvent{ID: "q1", Status: 200})
	if err != nil {
		t.Fatal(err)
	}
	if got := msg.Header.Get("traceparent"); !strings.Contains(got, "4bf92f3577b34da6a3ce929d0e0e4736") {
		t.Fatalf("traceparent not injected: %q", got)
	}
	if string(msg.Data) != `{"id":"q1","status":200}` {
		t.Fatalf("unexpected data %s", msg.Data)
	}
}

func TestNewMsgMarshalError(t *testing.T) {
	_, err := newMsg(context.Background(), "s", make(chan int))
	if err == nil || !strings.HasPrefix(err.Error(), "natsutil: marshal s:") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPublisher(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("firstaid.query.completed", ch)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	p := NewPublisher[queryEvent](nc, "firstaid.query.completed")
	if p.Subject() != "firstaid.query.completed" {
		t.Fatalf("unexpected subject %q", p.Subject())
	}
	if err := p.Publish(context.Background(), queryEvent{ID: "abc", Status: 400}); err != nil {
		t.Fatal(err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-ch:
		var got queryEvent
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatal(err)
		}
		if got.ID != "abc" || got.Status != 400 {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPublishClosedConn(t *testing.T) {
	nc := startTestNATS(t)
	nc.Close()
	if err := Publish(context.Background(), nc, "s", queryEvent{}); err == nil {
		t.Fatal("expected error on closed connection")
	}
}

func TestNilPublisher(t *testing.T) {
	var p *Publisher[queryEvent]
	if err := p.Publish(context.Background(), queryEvent{}); err != nil {
		t.Fatalf("nil publisher should drop events, got %v", err)
	}
	if p.Subject() != "" {
		t.Fatal("nil publisher has no subject")
	}
}
