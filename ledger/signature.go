package ledger

import "golang.org/x/crypto/ed25519"

// VerifySignature checks ed25519 signature. Malformed key or signature means invalid signature
func VerifySignature(publicKey ed25519.PublicKey, msg, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, msg, signature)
}
