package crypto

// RatchetSnapshot is the JSON-friendly projection of RatchetState used by the
// storage layer. Storage always encrypts the serialized snapshot before
// writing it (spec §3 "on serialization, root_key and all key material must
// be encrypted at rest") — this type never touches disk in the clear.
type RatchetSnapshot struct {
	RootKey                 []byte              `json:"root_key"`
	OurDHPriv               []byte              `json:"our_dh_priv"`
	OurDHPub                []byte              `json:"our_dh_pub"`
	TheirDHPub              []byte              `json:"their_dh_pub,omitempty"`
	SendChainKey            []byte              `json:"send_chain_key,omitempty"`
	RecvChainKey            []byte              `json:"recv_chain_key,omitempty"`
	DHGeneration            uint32              `json:"dh_generation"`
	SendMsgCount            uint32              `json:"send_msg_count"`
	RecvMsgCount            uint32              `json:"recv_msg_count"`
	PreviousSendChainLength uint32              `json:"previous_send_chain_length"`
	SkippedKeys             []SkippedKeySnapshot `json:"skipped_keys"`
}

type SkippedKeySnapshot struct {
	DHGeneration uint32 `json:"dh_generation"`
	MessageIndex uint32 `json:"message_index"`
	Key          []byte `json:"key"`
}

func (s *RatchetState) Snapshot() RatchetSnapshot {
	snap := RatchetSnapshot{
		RootKey:                 s.RootKey.Bytes(),
		OurDHPriv:               append([]byte(nil), s.OurDHPriv...),
		OurDHPub:                append([]byte(nil), s.OurDHPub...),
		DHGeneration:            s.DHGeneration,
		SendMsgCount:            s.SendMsgCount,
		RecvMsgCount:            s.RecvMsgCount,
		PreviousSendChainLength: s.PreviousSendChainLength,
	}
	if s.TheirDHPub != nil {
		snap.TheirDHPub = append([]byte(nil), s.TheirDHPub...)
	}
	if s.SendChain != nil {
		snap.SendChainKey = s.SendChain.key.Bytes()
	}
	if s.RecvChain != nil {
		snap.RecvChainKey = s.RecvChain.key.Bytes()
	}
	for id, mk := range s.SkippedKeys {
		snap.SkippedKeys = append(snap.SkippedKeys, SkippedKeySnapshot{
			DHGeneration: id.dhGeneration,
			MessageIndex: id.messageIndex,
			Key:          mk.Bytes(),
		})
	}
	return snap
}

func RatchetStateFromSnapshot(snap RatchetSnapshot) (*RatchetState, error) {
	root, err := KeyFromBytes(snap.RootKey)
	if err != nil {
		return nil, err
	}
	s := &RatchetState{
		RootKey:                 root,
		OurDHPriv:               append([]byte(nil), snap.OurDHPriv...),
		OurDHPub:                append([]byte(nil), snap.OurDHPub...),
		DHGeneration:            snap.DHGeneration,
		SendMsgCount:            snap.SendMsgCount,
		RecvMsgCount:            snap.RecvMsgCount,
		PreviousSendChainLength: snap.PreviousSendChainLength,
		SkippedKeys:             make(map[skippedKeyID]MessageKey, len(snap.SkippedKeys)),
	}
	if len(snap.TheirDHPub) == 32 {
		s.TheirDHPub = append([]byte(nil), snap.TheirDHPub...)
	}
	if len(snap.SendChainKey) == 32 {
		k, err := KeyFromBytes(snap.SendChainKey)
		if err != nil {
			return nil, err
		}
		ck := NewChainKey(k)
		s.SendChain = &ck
	}
	if len(snap.RecvChainKey) == 32 {
		k, err := KeyFromBytes(snap.RecvChainKey)
		if err != nil {
			return nil, err
		}
		ck := NewChainKey(k)
		s.RecvChain = &ck
	}
	for _, sk := range snap.SkippedKeys {
		key, err := KeyFromBytes(sk.Key)
		if err != nil {
			return nil, err
		}
		s.SkippedKeys[skippedKeyID{dhGeneration: sk.DHGeneration, messageIndex: sk.MessageIndex}] = MessageKey{key: key}
	}
	return s, nil
}
