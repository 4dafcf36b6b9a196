// Copyright 2025 Certen Protocol

package escrow

import (
	"sync"
	"time"

	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/notify"
	"github.com/certen/keri-core/pkg/keri/said"
	"github.com/certen/keri-core/pkg/keri/state"
)

type transReceiptEntry struct {
	r         *event.TransReceipt
	timestamp time.Time
}

// SignerStateLookup resolves the signer identifier's key configuration at a
// given (sn, digest) seal, so a transferable receipt's signatures can be
// verified once the signer's establishment event becomes known.
type SignerStateLookup interface {
	KeyConfigAt(signerPrefix string, sn uint64, digest string) (state.KeyConfig, bool, error)
}

// TransReceiptsEscrow holds transferable receipts for unknown signers (spec
// §4.6 row 5).
type TransReceiptsEscrow struct {
	mu      sync.Mutex
	entries map[Key]transReceiptEntry
	window  Window

	signers  SignerStateLookup
	rawBytes func(prefix string, sn uint64, said string) ([]byte, error)
	commit   ReceiptCommitter
}

// NewTransReceiptsEscrow constructs an escrow and subscribes it to
// KeyEventAdded, since any new establishment event may be the signer's.
// rawBytes resolves the originally-serialized event bytes by SAID, the data
// the receipt's signatures were made over.
func NewTransReceiptsEscrow(bus *notify.Bus, signers SignerStateLookup, rawBytes func(prefix string, sn uint64, said string) ([]byte, error), commit ReceiptCommitter, window Window) *TransReceiptsEscrow {
	e := &TransReceiptsEscrow{
		entries:  make(map[Key]transReceiptEntry),
		window:   window,
		signers:  signers,
		rawBytes: rawBytes,
		commit:   commit,
	}
	bus.Subscribe(notify.KeyEventAdded, func(ev notify.Event) { e.attemptAll() })
	return e
}

// Insert escrows a transferable receipt whose signer's establishment event
// is not yet known.
func (e *TransReceiptsEscrow) Insert(prefix string, sn uint64, eventSAID string, r *event.TransReceipt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries[Key{Prefix: prefix, SN: sn, SAID: eventSAID}] = transReceiptEntry{r: r, timestamp: time.Now()}
}

func (e *TransReceiptsEscrow) attemptAll() {
	e.mu.Lock()
	now := time.Now()
	keys := make([]Key, 0, len(e.entries))
	for k, entry := range e.entries {
		if stale(entry.timestamp, now, e.window) {
			delete(e.entries, k)
			continue
		}
		keys = append(keys, k)
	}
	e.mu.Unlock()

	for _, k := range keys {
		e.attemptOne(k)
	}
}

func (e *TransReceiptsEscrow) attemptOne(k Key) {
	e.mu.Lock()
	entry, ok := e.entries[k]
	e.mu.Unlock()
	if !ok {
		return
	}

	kc, found, err := e.signers.KeyConfigAt(entry.r.SignerSeal.Prefix, entry.r.SignerSeal.SN, entry.r.SignerSeal.SAID)
	if err != nil || !found {
		return
	}

	raw, err := e.rawBytes(k.Prefix, k.SN, entry.r.Receipt.EventSAID)
	if err != nil {
		return
	}

	indices := make([]int, 0, len(entry.r.Sigs))
	for _, s := range entry.r.Sigs {
		if s.Index < 0 || s.Index >= len(kc.Keys) {
			continue
		}
		if said.VerifySignature(kc.Keys[s.Index], s.Sig, raw) {
			indices = append(indices, s.Index)
		}
	}
	if !kc.Threshold.Satisfies(indices, len(kc.Keys)) {
		return
	}

	if err := e.commit.CommitTransReceipt(entry.r); err != nil {
		return
	}
	e.mu.Lock()
	delete(e.entries, k)
	e.mu.Unlock()
}

// Len reports the number of escrowed entries.
func (e *TransReceiptsEscrow) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}
