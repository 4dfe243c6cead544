// Package beacon implements the beacon adapter (C1): fetching headers,
// sync-committee membership, aggregate signatures, and Merkle inclusion
// proofs from a consensus-layer RPC, normalized into circuit-input
// structures (spec.md §4.1).
package beacon

// ExecutionPayloadInclusion is the fixed-shape SSZ inclusion path for the
// execution-payload field vector inside the beacon block body: path length
// 4, generalized index 9, per spec.md §4.1.
type ExecutionPayloadInclusion struct {
	BlockHash   string
	BlockNumber uint64
	StateRoot   string
	Path        [4]string
	GIndex      uint64
}

// NonSigner is one member of the sync committee who did not sign, with its
// decompressed G1 public key.
type NonSigner struct {
	Index     uint64
	PublicKey string // hex-encoded, decompressed G1 point
}

// EpochInput is the circuit input produced by fetch_epoch_proof.
type EpochInput struct {
	Slot                 uint64
	SignedHeaderRoot      string
	BeaconStateRoot       string
	AggregateSignature    string // hex-encoded G2 point
	NonSigners            []NonSigner
	NumSigners            int
	ExecutionPayload      ExecutionPayloadInclusion
	ForkDomain            string // signing-root-derived fork domain for the slot
	CommitteeID           uint64
}

// CommitteeInput is the circuit input produced by fetch_committee_update.
type CommitteeInput struct {
	Slot               uint64
	CommitteeID        uint64
	AggregatePubkeyHash string
	SignedHeaderRoot    string
	AggregateSignature  string
	NonSigners          []NonSigner
	NumSigners          int
	ForkDomain          string
}

// Head is the beacon chain head as reported by fetch_latest_head.
type Head struct {
	Slot      uint64
	BlockRoot string
}
