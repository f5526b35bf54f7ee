package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestChangePayloadDefinedAndEmpty(t *testing.T) {
	undefined := UndefinedChangePayload()
	if undefined.Defined() || !undefined.IsEmpty() || undefined.Raw() != nil {
		t.Fatalf("unexpected undefined payload state")
	}
	empty := NewChangePayload(nil)
	if !empty.Defined() || !empty.IsEmpty() {
		t.Fatalf("unexpected empty payload state")
	}
	raw := json.RawMessage(`{"id":"123"}`)
	defined := NewChangePayload(raw)
	raw[2] = 'X'
	if got := string(defined.Raw()); got != `{"id":"123"}` {
		t.Fatalf("payload must not alias caller bytes, got %s", got)
	}
}

func TestChangePayloadDecodeAndEqual(t *testing.T) {
	row := ScheduleRow{
		Base:  Base{ID: "row-1"},
		BayID: "bay-7",
		Phase: PhaseNTC,
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
	}
	a, err := NewChangePayloadFromValue(row)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	b, err := NewChangePayloadFromValue(row)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("expected identical payloads to be equal")
	}
	decoded, ok := DecodeChangePayload[ScheduleRow](a)
	if !ok || decoded.ID != "row-1" || !decoded.End.Equal(row.End) {
		t.Fatalf("unexpected decode result %+v (ok=%v)", decoded, ok)
	}
	if _, ok := DecodeChangePayload[ScheduleRow](UndefinedChangePayload()); ok {
		t.Fatalf("expected undefined payload decode to fail")
	}
	if _, ok := DecodeChangePayload[ScheduleRow](NewChangePayload(json.RawMessage(`[1,2]`))); ok {
		t.Fatalf("expected mismatched payload decode to fail")
	}
}

func TestChangePayloadJSONRoundTrip(t *testing.T) {
	type entry struct {
		Before ChangePayload `json:"before"`
		After  ChangePayload `json:"after"`
	}
	in := entry{Before: UndefinedChangePayload(), After: NewChangePayload(json.RawMessage(`{"id":"b"}`))}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"before":null,"after":{"id":"b"}}` {
		t.Fatalf("unexpected encoding %s", data)
	}
	var out entry
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Before.Defined() || !out.After.Equal(in.After) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestResultBlockingAndErrorMessage(t *testing.T) {
	res := Result{}
	res.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn, Message: "soft"}}})
	if res.HasBlocking() {
		t.Fatalf("warn must not block")
	}
	res.Merge(Result{Violations: []Violation{{Rule: "bay_overlap", Severity: SeverityBlock, Message: "bay 7 double booked"}}})
	if !res.HasBlocking() || len(res.Blocking()) != 1 {
		t.Fatalf("expected one blocking violation")
	}
	if msg := (RuleViolationError{Result: res}).Error(); msg != "transaction blocked by rules: bay 7 double booked" {
		t.Fatalf("unexpected message %q", msg)
	}
}
