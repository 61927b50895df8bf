package orchestrator

import (
	"testing"

	"github.com/webbook/contactbook/pkg/models"
)

func TestMetricsSnapshotTracksOperationsAndCounts(t *testing.T) {
	o, _ := newTestOrchestrator(t, 70, "Alice")

	if err := o.AddContact(newTestContact("contact-1", "Bob")); err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	if err := o.AddContact(models.Contact{}); err == nil {
		t.Fatalf("expected an error to bump the error counter")
	}

	snap, err := o.MetricsSnapshot()
	if err != nil {
		t.Fatalf("MetricsSnapshot: %v", err)
	}
	if snap.ContactCount != 1 {
		t.Fatalf("expected contact_count 1, got %d", snap.ContactCount)
	}
	if snap.OperationCounts["add_contact"] != 2 {
		t.Fatalf("expected add_contact operation count 2, got %d", snap.OperationCounts["add_contact"])
	}
	if snap.ErrorCounts["add_contact"] != 1 {
		t.Fatalf("expected add_contact error count 1, got %d", snap.ErrorCounts["add_contact"])
	}
}
