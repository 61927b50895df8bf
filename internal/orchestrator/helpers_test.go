package orchestrator

import (
	"testing"

	"github.com/webbook/contactbook/internal/crypto"
	"github.com/webbook/contactbook/internal/storage"
	"github.com/webbook/contactbook/pkg/models"
)

func testStoreKey(t *testing.T, seed byte) crypto.SymmetricKey {
	t.Helper()
	var raw [32]byte
	for i := range raw {
		raw[i] = seed + byte(i)
	}
	key, err := crypto.KeyFromBytes(raw[:])
	if err != nil {
		t.Fatalf("KeyFromBytes: %v", err)
	}
	return key
}

func newTestStore(t *testing.T, seed byte) *storage.Store {
	t.Helper()
	s, err := storage.Open(t.TempDir()+"/contactbook.db", testStoreKey(t, seed))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// newTestOrchestrator bootstraps a fresh identity over a fresh store in a
// per-test temp directory, returning the façade and the underlying store for assertions that
// need to reach past it.
func newTestOrchestrator(t *testing.T, seed byte, displayName string) (*Orchestrator, *storage.Store) {
	t.Helper()
	store := newTestStore(t, seed)
	o, err := Bootstrap(store, displayName, Options{})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return o, store
}

// pairContacts wires a live, paired Double Ratchet session between a and b
// (a as initiator, b as responder) and registers each as the other's
// contact, so propagation/processing tests can exercise a real round trip.
func pairContacts(t *testing.T, a, b *Orchestrator) {
	t.Helper()

	aPub, _ := a.identity.SigningKeypair()
	bPub, _ := b.identity.SigningKeypair()

	aExchangePriv, aExchangePub := a.identity.ExchangeKeypair()
	bExchangePriv, bExchangePub := b.identity.ExchangeKeypair()

	aStatic := crypto.X3DHKeypair{Private: aExchangePriv, Public: aExchangePub}
	bStatic := crypto.X3DHKeypair{Private: bExchangePriv, Public: bExchangePub}

	secret, ephPub, err := crypto.X3DHInitiate(aStatic, bStatic.Public)
	if err != nil {
		t.Fatalf("X3DHInitiate: %v", err)
	}
	secretB, err := crypto.X3DHRespond(bStatic, aStatic.Public, ephPub)
	if err != nil {
		t.Fatalf("X3DHRespond: %v", err)
	}

	if err := a.AddContact(models.Contact{
		ContactID:        b.PublicID(),
		SigningPublicKey: bPub,
		Card:             models.Card{DisplayName: "B"},
	}); err != nil {
		t.Fatalf("a.AddContact: %v", err)
	}
	if err := b.AddContact(models.Contact{
		ContactID:        a.PublicID(),
		SigningPublicKey: aPub,
		Card:             models.Card{DisplayName: "A"},
	}); err != nil {
		t.Fatalf("b.AddContact: %v", err)
	}

	// a is the initiator and already knows b's current DH public key
	// (its static exchange key, for this test's purposes).
	if err := a.CreateRatchetAsInitiator(b.PublicID(), secret, bStatic.Public); err != nil {
		t.Fatalf("CreateRatchetAsInitiator: %v", err)
	}
	if err := b.CreateRatchetAsResponder(a.PublicID(), secretB, bStatic.Private, bStatic.Public); err != nil {
		t.Fatalf("CreateRatchetAsResponder: %v", err)
	}
}
