// Package devicechannel wires internal/channel's layered decorators and
// internal/session's persistence manager into a concrete
// orchestrator.SecureChannel: the "external collaborator" interface
// orchestrator.go otherwise treats as an opaque boundary. Real firmware
// fills that boundary with an embedded DTLS-over-datagrams library; this
// package fills it with a plain (unencrypted) reliable CoAP channel plus
// session-record bookkeeping, enough to drive the protocol end to end in
// cmd/devicesim without pulling in a TLS stack (out of scope per spec.md
// §1's non-goal on record-layer cryptography).
package devicechannel

import (
	"context"

	"github.com/alxayo/devlink/internal/channel"
	"github.com/alxayo/devlink/internal/metrics"
	"github.com/alxayo/devlink/internal/orchestrator"
	"github.com/alxayo/devlink/internal/protoerr"
	"github.com/alxayo/devlink/internal/session"
)

// Plain implements orchestrator.SecureChannel over an unencrypted
// DatagramChannel -> IDChannel -> ReliableChannel stack. KeysChecksum
// stands in for the DTLS keys checksum the original uses to reject a
// persisted record from a different cryptographic handshake; since there
// are no real keys here it is just a caller-supplied constant identifying
// this simulated device/server pairing.
type Plain struct {
	*channel.ReliableChannel
	sessionMgr   *session.Manager
	keysChecksum uint32
	lastRecord   *session.Record
}

// New builds a Plain channel over transport, starting CoAP message ids at
// idSeed (so a restarted process doesn't immediately collide with ids the
// peer remembers from before).
func New(transport channel.Transport, unreliable bool, idSeed uint16, sessionMgr *session.Manager, keysChecksum uint32, reg *metrics.Registry) *Plain {
	dc := channel.NewDatagramChannel(transport, unreliable)
	idc := channel.NewIDChannel(dc, idSeed)
	rc := channel.NewReliableChannel(idc, reg)
	return &Plain{ReliableChannel: rc, sessionMgr: sessionMgr, keysChecksum: keysChecksum}
}

// Establish asks the session manager whether a previously persisted
// record matches keysChecksum; a match reports EstablishResumed, anything
// else (absent, expired, key mismatch, store error) reports EstablishNew.
func (p *Plain) Establish(ctx context.Context) (orchestrator.EstablishResult, error) {
	rec, status, err := p.sessionMgr.Restore(p.keysChecksum)
	if err != nil {
		return orchestrator.EstablishNew, protoerr.NewSessionError("devicechannel.establish", err)
	}
	if status != session.StatusComplete {
		return orchestrator.EstablishNew, nil
	}
	p.lastRecord = rec
	return orchestrator.EstablishResumed, nil
}

// MoveSession is a no-op here: there is no lower-level cryptographic
// session state to carry over onto a new connection, since Plain never
// had one to begin with.
func (p *Plain) MoveSession(ctx context.Context) error { return nil }

// SaveSession marks the record restored by Establish (or, if there is none,
// a new record holding only the keys checksum) persistent and saves it. It
// does not refresh the record's protocol or application-state checksums.
func (p *Plain) SaveSession(ctx context.Context) error {
	rec := p.currentOrNewRecord()
	rec.Persistent = 1
	return p.sessionMgr.Save(rec)
}

// LoadSession reloads whatever record SaveSession most recently wrote; in
// this unencrypted implementation that is simply the record already held
// in memory, since there is no separate lower-level session to reattach.
func (p *Plain) LoadSession(ctx context.Context) error { return nil }

// DiscardSession drops any persisted record entirely, matching a detected
// KEY_CHANGE or an unrecoverable RST on the underlying channel.
func (p *Plain) DiscardSession(ctx context.Context) error {
	p.lastRecord = nil
	return p.sessionMgr.Clear()
}

// Established marks the handshake complete; nothing further to do beyond
// what Begin() already persists via SaveSession.
func (p *Plain) Established(ctx context.Context) error { return nil }

func (p *Plain) currentOrNewRecord() *session.Record {
	if p.lastRecord != nil {
		return p.lastRecord
	}
	return &session.Record{KeysChecksum: p.keysChecksum}
}
