package chunked

// Callbacks is the storage driver contract a transfer invokes into,
// mirroring ChunkedTransfer::Callbacks. The protocol core never touches a
// filesystem or flash part directly; it only calls these hooks, same
// separation the original keeps for mockability and for running the same
// core logic across very different platform storage backends.
type Callbacks interface {
	// PrepareForFirmwareUpdate validates (dryRun) or commits (!dryRun) the
	// transfer described by desc. Returns a non-nil error to reject the
	// update (insufficient space, bad store kind, etc).
	PrepareForFirmwareUpdate(desc *Descriptor, dryRun bool) error

	// SaveFirmwareChunk persists one validated chunk at the address the
	// caller has already computed into desc.ChunkAddress.
	SaveFirmwareChunk(desc *Descriptor, chunk []byte) error

	// FinishFirmwareUpdate finalizes the transfer. success indicates
	// whether every chunk was received and validated; it returns a short
	// human-readable status string carried back to the cloud as the
	// UPDATE_DONE payload.
	FinishFirmwareUpdate(desc *Descriptor, success bool) (status string, err error)
}
