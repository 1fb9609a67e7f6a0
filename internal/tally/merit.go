package tally

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/bsq-network/dao-engine/pkg/models"
)

// filterVerifiedMerit drops merit entries whose signature does not
// verify. An entry must carry a parseable secp256k1 public key and a
// DER-encoded ECDSA signature over SHA256(issuance-tx-id); anything else
// contributes no weight. Entries with neither key nor signature are kept
// — they are self-asserted and worth their decayed unit weight, but a
// broken proof is worse than no proof and is rejected outright.
func filterVerifiedMerit(list models.MeritList) models.MeritList {
	out := make(models.MeritList, 0, len(list))
	for _, e := range list {
		if len(e.PubKey) == 0 && len(e.Signature) == 0 {
			out = append(out, e)
			continue
		}
		if verifyMeritEntry(e) {
			out = append(out, e)
		}
	}
	return out
}

func verifyMeritEntry(e models.MeritEntry) bool {
	pub, err := btcec.ParsePubKey(e.PubKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(e.Signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(e.IssuanceTxID))
	return sig.Verify(digest[:], pub)
}
