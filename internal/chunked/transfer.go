package chunked

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/alxayo/devlink/internal/coap"
	"github.com/alxayo/devlink/internal/metrics"
	"github.com/alxayo/devlink/internal/protoerr"
)

// MissedChunksToSend bounds how many missing-chunk indices a single
// re-request batch carries, matching protocol.h's MISSED_CHUNKS_TO_SEND.
const MissedChunksToSend = 50

// MinimumChunkIncrease is the minimum growth applied to each missing-chunk
// re-request batch so later rounds probe progressively larger windows
// (chunked_transfer.cpp computes max(chunk_count*0.2, MINIMUM_CHUNK_INCREASE)
// but that constant isn't defined in any header this module was built
// against — 20 is a reasonable, conservative value chosen in its place).
const MinimumChunkIncrease = 20

// Sender is the subset of channel.Channel a Transfer needs to reply on:
// any of DatagramChannel, IDChannel or ReliableChannel satisfies it.
type Sender interface {
	Send(ctx context.Context, msg *coap.Message) error
	IsUnreliable() bool
}

// Transfer drives one OTA update from UPDATE_BEGIN through UPDATE_DONE,
// mirroring ChunkedTransfer. Not safe for concurrent use — like the
// original, it is meant to be driven by a single event-loop goroutine.
type Transfer struct {
	callbacks Callbacks
	crc       func([]byte) uint32
	now       func() time.Time
	metrics   *metrics.Registry

	updating           bool
	desc               Descriptor
	chunkSize          uint16
	chunkIndex         uint16
	chunkCountInFlight int
	bitmap             *Bitmap
	fastOTA            bool
	fastOTAOverride    *bool
	lastChunkTime      time.Time
	missedChunkIndex   uint16
}

// New builds a Transfer. crc computes the per-chunk checksum the cloud's
// CRC32 option is checked against (callbacks.calculate_crc in the
// original); now is injected for deterministic tests.
func New(callbacks Callbacks, crc func([]byte) uint32, now func() time.Time, reg *metrics.Registry) *Transfer {
	if now == nil {
		now = time.Now
	}
	return &Transfer{callbacks: callbacks, crc: crc, now: now, metrics: reg}
}

// SetFastOTA overrides the fast-OTA negotiation regardless of what the
// UPDATE_BEGIN flags request, matching ChunkedTransfer::set_fast_ota.
func (t *Transfer) SetFastOTA(enabled bool) {
	t.fastOTAOverride = &enabled
}

// IsUpdating reports whether a transfer is currently in progress (including
// the missing-chunks re-request sub-state after UPDATE_DONE).
func (t *Transfer) IsUpdating() bool { return t.updating }

// IsChunkReceived reports whether chunk idx has been flagged received in
// the current transfer's bitmap. Returns false if no transfer is active.
func (t *Transfer) IsChunkReceived(idx uint16) bool {
	if t.bitmap == nil {
		return false
	}
	return t.bitmap.IsReceived(idx)
}

// Cancel aborts an in-progress transfer, notifying the storage driver of
// failure. Intended for channel-level errors the caller can't recover from.
func (t *Transfer) Cancel() {
	if t.updating {
		_, _ = t.callbacks.FinishFirmwareUpdate(&t.desc, false)
	}
	t.reset()
}

func (t *Transfer) reset() {
	t.updating = false
	t.lastChunkTime = time.Time{}
	t.bitmap = nil
	t.chunkIndex = 0
	t.chunkCountInFlight = 0
}

// updateBeginPayloadLen is the size of the 12-byte layout HandleUpdateBegin expects:
// flags(1) chunkSize(2 BE) fileLength(4 BE) store(1) fileAddress(4 BE).
const updateBeginPayloadLen = 12

// HandleUpdateBegin negotiates a new transfer, matching
// ChunkedTransfer::handle_update_begin. It always replies on sender: an
// empty ACK (or 5.03 coded ACK on rejection) followed, on acceptance, by a
// separate UPDATE_READY message carrying the negotiated fast-OTA flag.
func (t *Transfer) HandleUpdateBegin(ctx context.Context, sender Sender, id uint16, token []byte, payload []byte) error {
	t.chunkCountInFlight = 0

	var flags uint8
	if len(payload) >= updateBeginPayloadLen {
		flags = payload[0]
		if t.fastOTAOverride != nil {
			if *t.fastOTAOverride {
				flags |= 1
			} else {
				flags &^= 1
			}
		}
		t.desc.ChunkSize = binary.BigEndian.Uint16(payload[1:3])
		t.desc.FileLength = binary.BigEndian.Uint32(payload[3:7])
		t.desc.Store = StoreKind(payload[7])
		t.desc.FileAddress = binary.BigEndian.Uint32(payload[8:12])
		t.desc.ChunkAddress = t.desc.FileAddress
	} else {
		t.desc = Descriptor{Store: StoreFirmware}
	}

	dryErr := t.callbacks.PrepareForFirmwareUpdate(&t.desc, true)
	success := dryErr == nil && t.desc.ChunkCount() < MaxChunks

	var ack *coap.Message
	if success {
		ack = coap.EmptyAck(id)
	} else {
		ack = coap.CodedAck(id, coap.NewCode(5, 3), token)
	}
	if err := sender.Send(ctx, ack); err != nil {
		return err
	}
	if !success {
		return nil
	}

	if err := t.callbacks.PrepareForFirmwareUpdate(&t.desc, false); err != nil {
		return protoerr.NewChunkError("chunked.update_begin.prepare", err)
	}

	t.lastChunkTime = t.now()
	t.chunkIndex = 0
	t.chunkSize = t.desc.ChunkSize
	t.fastOTA = flags&1 != 0
	t.updating = true

	chunkCount := t.desc.ChunkCount()
	t.bitmap = NewBitmap(chunkCount)
	if t.fastOTA {
		t.bitmap.Fill(0x00)
	} else {
		t.bitmap.Fill(0xFF)
	}

	ready := coap.UpdateReady(0, token, flags, sender.IsUnreliable())
	return sender.Send(ctx, ready)
}

// HandleChunk validates one incoming firmware chunk against its CRC option
// and, when valid, hands it to the storage driver and flags it received.
// Matches ChunkedTransfer::handle_chunk.
func (t *Transfer) HandleChunk(ctx context.Context, sender Sender, msg *coap.Message, token []byte) error {
	t.lastChunkTime = t.now()
	t.chunkCountInFlight++

	if !t.updating {
		return nil
	}

	crcValue, _ := msg.Option(coap.OptionChunkCRC)
	givenCRC := coap.DecodeUint(crcValue)

	idxValue, hasIdx := msg.Option(coap.OptionChunkIndex)
	if hasIdx {
		t.chunkIndex = binary.BigEndian.Uint16(idxValue)
	}
	fastOTA := hasIdx

	if !fastOTA {
		ack := coap.EmptyAck(msg.ID)
		if err := sender.Send(ctx, ack); err != nil {
			return err
		}
	}

	if t.chunkIndex >= MaxChunks {
		return nil
	}

	crc := t.crc(msg.Payload)
	valid := crc == givenCRC

	var code coap.ChunkReceivedCode
	if valid {
		chunkDesc := Descriptor{
			Store:        t.desc.Store,
			FileAddress:  t.desc.FileAddress,
			FileLength:   t.desc.FileLength,
			ChunkSize:    uint16(len(msg.Payload)),
			ChunkAddress: t.desc.FileAddress + uint32(t.chunkIndex)*uint32(t.chunkSize),
		}
		if err := t.callbacks.SaveFirmwareChunk(&chunkDesc, msg.Payload); err != nil {
			return protoerr.NewChunkError("chunked.chunk.save", err)
		}
		t.bitmap.FlagReceived(t.chunkIndex)
		code = coap.ChunkReceivedOK
		t.chunkIndex++
	} else {
		code = coap.ChunkReceivedBad
	}

	if !fastOTA {
		resp := coap.ChunkReceived(0, token, code, sender.IsUnreliable())
		return sender.Send(ctx, resp)
	}
	return nil
}

// HandleUpdateDone replies to the cloud's UPDATE_DONE with either a final
// confirmation (every chunk accounted for) or a rejection that kicks off a
// missing-chunk re-request round, matching
// ChunkedTransfer::handle_update_done/notify_update_done.
func (t *Transfer) HandleUpdateDone(ctx context.Context, sender Sender, msg *coap.Message, token []byte) error {
	chunkCount := t.desc.ChunkCount()
	missingIdx := t.bitmap.NextMissing(0, chunkCount)
	missing := missingIdx != NoChunksMissing

	status, finishErr := t.callbacks.FinishFirmwareUpdate(&t.desc, !missing)

	var resp *coap.Message
	if missing {
		resp = coap.CodedAck(msg.ID, coap.NewCode(4, 0), token)
		resp.Payload = []byte(status)
	} else {
		resp = coap.UpdateDoneWithResult(0, []byte(status), sender.IsUnreliable())
	}
	if err := sender.Send(ctx, resp); err != nil {
		return err
	}

	if !t.updating {
		return nil
	}

	if !missing {
		t.reset()
		if t.metrics != nil {
			t.metrics.ChunkedUpdatesCompleted.Inc()
		}
		if finishErr != nil {
			return protoerr.NewChunkError("chunked.update_done.finish", finishErr)
		}
		return nil
	}

	increase := uint16(float64(t.chunkCountInFlight) * 0.2)
	if increase < MinimumChunkIncrease {
		increase = MinimumChunkIncrease
	}
	resendCount := t.chunkCountInFlight + int(increase)
	if resendCount > MissedChunksToSend {
		resendCount = MissedChunksToSend
	}
	t.chunkCountInFlight = 0

	err := t.SendMissingChunks(ctx, sender, missingIdx, resendCount)
	t.lastChunkTime = t.now()
	return err
}

// SendMissingChunks requests retransmission of up to count chunks starting
// at start, matching ChunkedTransfer::send_missing_chunks.
func (t *Transfer) SendMissingChunks(ctx context.Context, sender Sender, start uint16, count int) error {
	chunkCount := t.desc.ChunkCount()
	var indices []uint16
	idx := start
	for len(indices) < count {
		idx = t.bitmap.NextMissing(idx, chunkCount)
		if idx == NoChunksMissing {
			break
		}
		indices = append(indices, idx)
		t.missedChunkIndex = idx
		idx++
	}
	if len(indices) == 0 {
		return nil
	}
	if t.metrics != nil {
		t.metrics.ChunkedMissingChunks.Add(float64(len(indices)))
	}
	return sender.Send(ctx, coap.ChunkMissedBatch(0, indices))
}
