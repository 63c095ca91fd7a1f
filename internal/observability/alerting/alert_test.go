package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/events"
)

type failingNotifier struct{}

func (failingNotifier) Channel() Channel { return "failing" }

func (failingNotifier) Notify(context.Context, Event) error { return errors.New("boom") }

func TestFromErrorHonoursAlertAttribute(t *testing.T) {
	t.Parallel()

	if _, ok := FromError(xerrors.New(xerrors.CodeInvalidArgument, "bad"), "transfer", "a", "c"); ok {
		t.Fatal("invalid argument should not alert")
	}
	err := xerrors.New(xerrors.CodeStorageFailure, "db down", xerrors.WithMetadata("table", "agents"))
	event, ok := FromError(err, "transfer", "agent-1", "solana-devnet")
	if !ok {
		t.Fatal("storage failure should alert")
	}
	if event.Code != xerrors.CodeStorageFailure || event.Severity != xerrors.SeverityCritical || event.Metadata["table"] != "agents" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestFanoutDeliversToAllAndJoinsErrors(t *testing.T) {
	t.Parallel()

	pub := events.NewMemory(0)
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	dispatcher := NewFanout(&LogNotifier{Logger: log}, &EventNotifier{Publisher: pub}, failingNotifier{}, nil)
	err := dispatcher.Notify(context.Background(), Event{
		Code:      "SUBMISSION_FAILED",
		Severity:  xerrors.SeverityWarning,
		Operation: "transfer",
		AgentID:   "agent-1",
		Message:   "rpc rejected transaction",
	})
	if err == nil || !strings.Contains(err.Error(), "channel failing") {
		t.Fatalf("expected joined error from failing channel, got %v", err)
	}

	raised := pub.OfType(events.TypeAlertRaised)
	if len(raised) != 1 || raised[0].Attributes["code"] != "SUBMISSION_FAILED" || raised[0].AgentID != "agent-1" {
		t.Fatalf("unexpected alert events %+v", raised)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["event"] != "alert_raised" || line["level"] != "WARN" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestNilDispatcherIsNoop(t *testing.T) {
	t.Parallel()

	var d *FanoutDispatcher
	if err := d.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher: %v", err)
	}
}
