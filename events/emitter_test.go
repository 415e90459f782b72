package events

import "testing"

func TestEmitterDeliversToSubscribers(t *testing.T) {
	e := NewEmitter()
	var got []Event
	e.Subscribe(EventSessionStarted, func(ev Event) { got = append(got, ev) })
	e.Subscribe(EventSessionEnded, func(ev Event) { t.Error("wrong event type delivered") })

	e.Emit(Event{Type: EventSessionStarted, TxID: "t1"})
	e.Emit(Event{Type: EventSessionStarted, TxID: "t2"})

	if len(got) != 2 || got[0].TxID != "t1" || got[1].TxID != "t2" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func TestEmitterSurvivesPanickingHandler(t *testing.T) {
	e := NewEmitter()
	var delivered bool
	e.Subscribe(EventRewardsClaimed, func(Event) { panic("boom") })
	e.Subscribe(EventRewardsClaimed, func(Event) { delivered = true })

	e.Emit(Event{Type: EventRewardsClaimed})

	if !delivered {
		t.Fatal("panic in one handler must not block the others")
	}
}
