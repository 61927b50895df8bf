package crypto

// X3DH key agreement (spec §4.5). Every pairing path (QR, NFC, device link)
// runs one of these two functions to produce the 32-byte secret that seeds
// the Double Ratchet root key.

const x3dhInfo = "X3DH"

// X3DHKeypair is an ephemeral or long-term X25519 keypair used in agreement.
type X3DHKeypair struct {
	Private []byte
	Public  []byte
}

func GenerateX3DHKeypair() (X3DHKeypair, error) {
	priv, pub, err := GenerateX25519Keypair()
	if err != nil {
		return X3DHKeypair{}, err
	}
	return X3DHKeypair{Private: priv, Public: pub}, nil
}

// X3DHInitiate runs the initiator side: generate an ephemeral keypair, derive
// dh1 = DH(our_static, their_static) and dh2 = DH(eph, their_static), and fold
// both into one HKDF call. Returns the shared secret and the ephemeral public
// key the responder needs to reproduce it.
func X3DHInitiate(ourStatic X3DHKeypair, theirStaticPub []byte) (shared []byte, ephemeralPub []byte, err error) {
	eph, err := GenerateX3DHKeypair()
	if err != nil {
		return nil, nil, err
	}
	dh1, err := DH(ourStatic.Private, theirStaticPub)
	if err != nil {
		return nil, nil, err
	}
	dh2, err := DH(eph.Private, theirStaticPub)
	if err != nil {
		return nil, nil, err
	}
	ikm := append(append([]byte{}, dh1...), dh2...)
	return HKDFDeriveKey(nil, ikm, []byte(x3dhInfo)), eph.Public, nil
}

// X3DHRespond runs the responder side given the initiator's static and
// ephemeral public keys, reproducing the same shared secret.
func X3DHRespond(ourStatic X3DHKeypair, theirStaticPub, theirEphemeralPub []byte) ([]byte, error) {
	dh1, err := DH(ourStatic.Private, theirStaticPub)
	if err != nil {
		return nil, err
	}
	dh2, err := DH(ourStatic.Private, theirEphemeralPub)
	if err != nil {
		return nil, err
	}
	ikm := append(append([]byte{}, dh1...), dh2...)
	return HKDFDeriveKey(nil, ikm, []byte(x3dhInfo)), nil
}
