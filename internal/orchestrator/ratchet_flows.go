package orchestrator

import (
	"github.com/webbook/contactbook/internal/crypto"
)

// CreateRatchetAsInitiator builds and persists ratchet state for the side of
// a pairing handshake that already knows the peer's current DH public key
// (spec §4.3/§6 create_ratchet_as_initiator). The initiator can send
// immediately.
func (o *Orchestrator) CreateRatchetAsInitiator(contactID string, x3dhSecret, theirDHPublic []byte) error {
	return withMetricsErr(o, "create_ratchet_as_initiator", func() error {
		state, err := crypto.InitRatchetInitiator(x3dhSecret, theirDHPublic)
		if err != nil {
			return wrap(KindCrypto, err)
		}
		if err := o.store.SaveRatchetState(contactID, state, true); err != nil {
			return wrap(KindStorage, err)
		}
		return nil
	})
}

// CreateRatchetAsResponder builds and persists ratchet state for the side
// that must wait for the first inbound message before it may send (spec
// §4.3/§6 create_ratchet_as_responder).
func (o *Orchestrator) CreateRatchetAsResponder(contactID string, x3dhSecret, ourDHPriv, ourDHPub []byte) error {
	return withMetricsErr(o, "create_ratchet_as_responder", func() error {
		state, err := crypto.InitRatchetResponder(x3dhSecret, ourDHPriv, ourDHPub)
		if err != nil {
			return wrap(KindCrypto, err)
		}
		if err := o.store.SaveRatchetState(contactID, state, false); err != nil {
			return wrap(KindStorage, err)
		}
		return nil
	})
}

// GetRatchetState loads a contact's persisted ratchet state (spec §6
// get_ratchet_state).
func (o *Orchestrator) GetRatchetState(contactID string) (*crypto.RatchetState, bool, error) {
	state, isInitiator, err := withMetrics(o, "get_ratchet_state", func() (*ratchetLoad, error) {
		s, initiator, err := o.ratchetFor(contactID)
		if err != nil {
			return nil, err
		}
		return &ratchetLoad{state: s, isInitiator: initiator}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return state.state, state.isInitiator, nil
}

type ratchetLoad struct {
	state       *crypto.RatchetState
	isInitiator bool
}

// SaveRatchetState persists a contact's ratchet state after a send or
// receive step (spec §6 save_ratchet_state). Hosts MUST call this atomically
// with any pending-update enqueue it feeds, per the crash-consistency
// requirement on ratchet-step/save pairs.
func (o *Orchestrator) SaveRatchetState(contactID string, state *crypto.RatchetState, isInitiator bool) error {
	return withMetricsErr(o, "save_ratchet_state", func() error {
		if err := o.store.SaveRatchetState(contactID, state, isInitiator); err != nil {
			return wrap(KindStorage, err)
		}
		return nil
	})
}
