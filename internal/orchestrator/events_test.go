package orchestrator

import "testing"

func TestEventDispatchRecoversHandlerPanic(t *testing.T) {
	o, _ := newTestOrchestrator(t, 80, "Alice")

	secondCalled := false
	o.OnEvent(func(ev Event) {
		panic("boom")
	})
	o.OnEvent(func(ev Event) {
		secondCalled = true
	})

	if err := o.AddContact(newTestContact("contact-1", "Bob")); err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	if !secondCalled {
		t.Fatalf("expected second handler to run despite first handler panicking")
	}
}

func TestEventDispatchFiresContactAddedAndRemoved(t *testing.T) {
	o, _ := newTestOrchestrator(t, 81, "Alice")

	var kinds []EventKind
	o.OnEvent(func(ev Event) {
		kinds = append(kinds, ev.Kind)
	})

	if err := o.AddContact(newTestContact("contact-1", "Bob")); err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	if err := o.RemoveContact("contact-1"); err != nil {
		t.Fatalf("RemoveContact: %v", err)
	}

	if len(kinds) != 2 || kinds[0] != EventContactAdded || kinds[1] != EventContactRemoved {
		t.Fatalf("unexpected event sequence: %v", kinds)
	}
}
