package crypto

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// MaxSkipped bounds the number of out-of-order message keys retained per
// ratchet session (spec §3/§9 global configuration).
const MaxSkipped = 1000

const rootRatchetInfo = "WebBook_Root_Ratchet"

var (
	ErrTooManySkipped  = errors.New("ratchet: too many skipped message keys")
	ErrDuplicateMessage = errors.New("ratchet: duplicate message")
	ErrInvalidMessage  = errors.New("ratchet: invalid message for current state")
)

type skippedKeyID struct {
	dhGeneration uint32
	messageIndex uint32
}

// RatchetState is the per-contact Double Ratchet state described in spec §3.
// Every field that holds key material must be AEAD-encrypted before it is
// ever written to storage (see internal/storage).
type RatchetState struct {
	RootKey                 SymmetricKey
	OurDHPriv               []byte
	OurDHPub                []byte
	TheirDHPub              []byte // nil until the first inbound message
	SendChain               *ChainKey
	RecvChain               *ChainKey
	DHGeneration            uint32
	SendMsgCount            uint32
	RecvMsgCount            uint32
	PreviousSendChainLength uint32
	SkippedKeys             map[skippedKeyID]MessageKey
}

// RatchetMessage is the header+ciphertext transmitted over the wire per
// message (spec §6): dh_public, dh_generation, message_index,
// previous_chain_length, ciphertext.
type RatchetMessage struct {
	DHPublic            []byte
	DHGeneration         uint32
	MessageIndex         uint32
	PreviousChainLength  uint32
	Ciphertext           []byte
}

// InitRatchetInitiator builds ratchet state for the side that already knows
// the peer's current DH public key (spec §4.3 "Initiator initialization").
// The initiator can send immediately.
func InitRatchetInitiator(x3dhSecret, theirDHPublic []byte) (*RatchetState, error) {
	if len(x3dhSecret) != 32 || len(theirDHPublic) != 32 {
		return nil, ErrInvalidKey
	}
	ourPriv, ourPub, err := GenerateX25519Keypair()
	if err != nil {
		return nil, err
	}
	dh, err := DH(ourPriv, theirDHPublic)
	if err != nil {
		return nil, err
	}
	rootBytes, sendChainBytes := HKDFDeriveKeyPair(x3dhSecret, dh, []byte(rootRatchetInfo))
	root, err := KeyFromBytes(rootBytes)
	if err != nil {
		return nil, err
	}
	sendKey, err := KeyFromBytes(sendChainBytes)
	if err != nil {
		return nil, err
	}
	sendChain := NewChainKey(sendKey)
	return &RatchetState{
		RootKey:     root,
		OurDHPriv:   ourPriv,
		OurDHPub:    ourPub,
		TheirDHPub:  append([]byte(nil), theirDHPublic...),
		SendChain:   &sendChain,
		RecvChain:   nil,
		SkippedKeys: make(map[skippedKeyID]MessageKey),
	}, nil
}

// InitRatchetResponder builds ratchet state for the side that must wait for
// the first inbound message before it may send (spec §4.3 "Responder
// initialization").
func InitRatchetResponder(x3dhSecret, ourDHPriv, ourDHPub []byte) (*RatchetState, error) {
	if len(x3dhSecret) != 32 || len(ourDHPriv) != 32 || len(ourDHPub) != 32 {
		return nil, ErrInvalidKey
	}
	root, err := KeyFromBytes(x3dhSecret)
	if err != nil {
		return nil, err
	}
	return &RatchetState{
		RootKey:     root,
		OurDHPriv:   append([]byte(nil), ourDHPriv...),
		OurDHPub:    append([]byte(nil), ourDHPub...),
		SkippedKeys: make(map[skippedKeyID]MessageKey),
	}, nil
}

// Encrypt ratchets the send chain forward once and produces a RatchetMessage.
func (s *RatchetState) Encrypt(plaintext []byte) (RatchetMessage, error) {
	if s.SendChain == nil {
		return RatchetMessage{}, ErrInvalidMessage
	}
	mk, nextChain := s.SendChain.Ratchet()
	msg := RatchetMessage{
		DHPublic:            append([]byte(nil), s.OurDHPub...),
		DHGeneration:         s.DHGeneration,
		MessageIndex:         s.SendMsgCount,
		PreviousChainLength:  s.PreviousSendChainLength,
	}
	ad := msg.header()
	key, err := KeyFromBytes(mk.Bytes())
	if err != nil {
		return RatchetMessage{}, err
	}
	ciphertext, err := Encrypt(key, plaintext, ad)
	if err != nil {
		return RatchetMessage{}, err
	}
	msg.Ciphertext = ciphertext
	s.SendChain = &nextChain
	s.SendMsgCount++
	return msg, nil
}

// Decrypt consumes a RatchetMessage, performing a DH-ratchet step and/or
// fast-forwarding the receive chain as needed (spec §4.3 "Decrypt").
func (s *RatchetState) Decrypt(msg RatchetMessage) ([]byte, error) {
	if len(msg.DHPublic) != 32 {
		return nil, ErrInvalidMessage
	}

	id := skippedKeyID{dhGeneration: msg.DHGeneration, messageIndex: msg.MessageIndex}
	if mk, ok := s.SkippedKeys[id]; ok {
		delete(s.SkippedKeys, id)
		return s.openWith(mk, msg)
	}

	if bytes.Equal(msg.DHPublic, s.TheirDHPub) {
		if msg.MessageIndex < s.RecvMsgCount {
			return nil, ErrDuplicateMessage
		}
	} else {
		if err := s.dhRatchetStep(msg); err != nil {
			return nil, err
		}
	}

	if err := s.fastForwardRecv(s.RecvMsgCount, msg.MessageIndex, msg.DHGeneration); err != nil {
		return nil, err
	}

	mk, nextChain := s.RecvChain.Ratchet()
	plaintext, err := s.openWith(mk, msg)
	if err != nil {
		return nil, err
	}
	s.RecvChain = &nextChain
	s.RecvMsgCount = msg.MessageIndex + 1
	return plaintext, nil
}

func (s *RatchetState) openWith(mk MessageKey, msg RatchetMessage) ([]byte, error) {
	key, err := KeyFromBytes(mk.Bytes())
	if err != nil {
		return nil, err
	}
	return Decrypt(key, msg.Ciphertext, msg.header())
}

// dhRatchetStep performs a full DH ratchet transition: fast-forward and
// retire the old receive chain (if any) under the PREVIOUS generation, then
// derive fresh receive and send chains from a newly generated DH keypair.
func (s *RatchetState) dhRatchetStep(msg RatchetMessage) error {
	if s.RecvChain != nil && msg.DHGeneration > 0 {
		if err := s.fastForwardRecv(s.RecvMsgCount, msg.PreviousChainLength, msg.DHGeneration-1); err != nil {
			return err
		}
	}

	dh1, err := DH(s.OurDHPriv, msg.DHPublic)
	if err != nil {
		return err
	}
	newRoot1, recvChainBytes := HKDFDeriveKeyPair(s.RootKey.Bytes(), dh1, []byte(rootRatchetInfo))

	newPriv, newPub, err := GenerateX25519Keypair()
	if err != nil {
		return err
	}
	dh2, err := DH(newPriv, msg.DHPublic)
	if err != nil {
		return err
	}
	newRoot2, sendChainBytes := HKDFDeriveKeyPair(newRoot1, dh2, []byte(rootRatchetInfo))

	root, err := KeyFromBytes(newRoot2)
	if err != nil {
		return err
	}
	recvKey, err := KeyFromBytes(recvChainBytes)
	if err != nil {
		return err
	}
	sendKey, err := KeyFromBytes(sendChainBytes)
	if err != nil {
		return err
	}
	recvChain := NewChainKey(recvKey)
	sendChain := NewChainKey(sendKey)

	s.RootKey = root
	s.RecvChain = &recvChain
	s.SendChain = &sendChain
	s.OurDHPriv = newPriv
	s.OurDHPub = newPub
	s.TheirDHPub = append([]byte(nil), msg.DHPublic...)
	s.PreviousSendChainLength = s.SendMsgCount
	s.SendMsgCount = 0
	s.RecvMsgCount = 0
	s.DHGeneration++
	return nil
}

// fastForwardRecv ratchets the current receive chain from fromIdx up to (but
// not including) toIdx, storing each derived key under the given generation
// so a later out-of-order message can still be decrypted.
func (s *RatchetState) fastForwardRecv(fromIdx, toIdx, generation uint32) error {
	if toIdx < fromIdx || s.RecvChain == nil {
		return nil
	}
	n := int(toIdx - fromIdx)
	if len(s.SkippedKeys)+n > MaxSkipped {
		return ErrTooManySkipped
	}
	keys, nextChain, err := s.RecvChain.SkipTo(n)
	if err != nil {
		return ErrTooManySkipped
	}
	for i, mk := range keys {
		idx := fromIdx + uint32(i)
		s.SkippedKeys[skippedKeyID{dhGeneration: generation, messageIndex: idx}] = mk
	}
	s.RecvChain = &nextChain
	return nil
}

func (m RatchetMessage) header() []byte {
	buf := make([]byte, 0, 32+4+4+4)
	buf = append(buf, m.DHPublic...)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], m.DHGeneration)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], m.MessageIndex)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], m.PreviousChainLength)
	buf = append(buf, tmp[:]...)
	return buf
}

// MarshalRatchetMessage encodes a message for the wire: header fields
// followed by the ciphertext, per spec §6.
func MarshalRatchetMessage(m RatchetMessage) []byte {
	out := m.header()
	out = append(out, m.Ciphertext...)
	return out
}

// UnmarshalRatchetMessage decodes the wire format produced by
// MarshalRatchetMessage.
func UnmarshalRatchetMessage(b []byte) (RatchetMessage, error) {
	if len(b) < 32+4+4+4 {
		return RatchetMessage{}, ErrInvalidMessage
	}
	msg := RatchetMessage{
		DHPublic:            append([]byte(nil), b[:32]...),
		DHGeneration:         binary.BigEndian.Uint32(b[32:36]),
		MessageIndex:         binary.BigEndian.Uint32(b[36:40]),
		PreviousChainLength:  binary.BigEndian.Uint32(b[40:44]),
		Ciphertext:           append([]byte(nil), b[44:]...),
	}
	return msg, nil
}
