// Copyright 2025 Certen Protocol

package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/reply"
	"github.com/certen/keri-core/pkg/keri/state"
	"github.com/certen/keri-core/pkg/keri/validator"
)

// ====== KV Key Layout ======
//
// Adapted from pkg/ledger/store.go's prefix + big-endian-uint64 convention.

var (
	keyStatePrefix = []byte("keri:state:")  // + identifier prefix -> IdentifierState
	keyKELPrefix   = []byte("keri:kel:")    // + identifier prefix + sn -> kelRecord
	keyWSigPrefix  = []byte("keri:wsig:")   // + identifier prefix + sn + digest -> []state.WitnessSig
	keyTRctPrefix  = []byte("keri:trct:")   // + identifier prefix + sn + digest + signer -> event.TransReceipt
	keyDupPrefix   = []byte("keri:dup:")    // + identifier prefix + sn + said -> dupRecord
	keyReplyPrefix = []byte("keri:reply:")  // + receipted prefix + signer prefix -> replyRecord
)

func sn8(sn uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, sn)
	return b
}

func stateKey(prefix string) []byte {
	return append(append([]byte{}, keyStatePrefix...), []byte(prefix)...)
}

func kelKey(prefix string, sn uint64) []byte {
	k := append(append([]byte{}, keyKELPrefix...), []byte(prefix)...)
	k = append(k, ':')
	return append(k, sn8(sn)...)
}

func wsigKey(prefix string, sn uint64, digest string) []byte {
	k := append(append([]byte{}, keyWSigPrefix...), []byte(prefix)...)
	k = append(k, ':')
	k = append(k, sn8(sn)...)
	k = append(k, ':')
	return append(k, []byte(digest)...)
}

func trctKey(prefix string, sn uint64, digest, signer string) []byte {
	k := append(append([]byte{}, keyTRctPrefix...), []byte(prefix)...)
	k = append(k, ':')
	k = append(k, sn8(sn)...)
	k = append(k, ':')
	k = append(k, []byte(digest)...)
	k = append(k, ':')
	return append(k, []byte(signer)...)
}

func dupKey(prefix string, sn uint64, said string) []byte {
	k := append(append([]byte{}, keyDupPrefix...), []byte(prefix)...)
	k = append(k, ':')
	k = append(k, sn8(sn)...)
	k = append(k, ':')
	return append(k, []byte(said)...)
}

func replyKey(prefix, signer string) []byte {
	k := append(append([]byte{}, keyReplyPrefix...), []byte(prefix)...)
	k = append(k, ':')
	return append(k, []byte(signer)...)
}

type kelRecord struct {
	SAID string
	Raw  []byte
}

type dupRecord struct {
	Event *event.SignedEvent
	Raw   []byte
}

type replyRecord struct {
	Reply *reply.SignedReply
	Raw   []byte
}

// Store implements processor.Log, processor.ReceiptStore,
// processor.DuplicitousStore, and reply.Store/reply.SignerStateLookup over
// a single KV, the same "one storage contract funnels every collaborator"
// shape the teacher's LedgerStore gives the consensus commit path.
type Store struct {
	kv KV
}

// New constructs a Store over kv.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

func (s *Store) getJSON(key []byte, v interface{}) (bool, error) {
	b, err := s.kv.Get(key)
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("storage: unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", key, err)
	}
	return s.kv.Set(key, b)
}

// State implements processor.Log.
func (s *Store) State(prefix string) (state.IdentifierState, error) {
	var st state.IdentifierState
	if _, err := s.getJSON(stateKey(prefix), &st); err != nil {
		return state.IdentifierState{}, err
	}
	return st, nil
}

// Append implements processor.Log: it re-derives the resulting state from
// se (the caller already validated se against the prior state; Append is
// never given the candidate state directly, so it recomputes the same pure
// projection validator.Validate used internally) and persists both the KEL
// record and the updated state.
func (s *Store) Append(prefix string, sn uint64, se *event.SignedEvent, raw []byte) error {
	prior, err := s.State(prefix)
	if err != nil {
		return err
	}
	ns, err := validator.NextState(prior, se.Event)
	if err != nil {
		return fmt.Errorf("storage: re-derive state for append: %w", err)
	}
	if err := s.setJSON(kelKey(prefix, sn), kelRecord{SAID: se.Event.SAID, Raw: raw}); err != nil {
		return err
	}
	return s.setJSON(stateKey(prefix), ns)
}

// AcceptedAt implements processor.Log.
func (s *Store) AcceptedAt(prefix string, sn uint64) (string, []byte, bool, error) {
	var rec kelRecord
	found, err := s.getJSON(kelKey(prefix, sn), &rec)
	if err != nil || !found {
		return "", nil, false, err
	}
	return rec.SAID, rec.Raw, true, nil
}

// RawAt implements processor.Log.
func (s *Store) RawAt(prefix string, sn uint64, digest string) ([]byte, error) {
	var rec kelRecord
	found, err := s.getJSON(kelKey(prefix, sn), &rec)
	if err != nil || !found || rec.SAID != digest {
		return nil, err
	}
	return rec.Raw, nil
}

// SealsAt implements processor.Log / validator.DelegatorLookup: it resolves
// the anchored seals of the event at (delegatorPrefix, sn).
func (s *Store) SealsAt(delegatorPrefix string, sn uint64) ([]event.Seal, bool, error) {
	var rec kelRecord
	found, err := s.getJSON(kelKey(delegatorPrefix, sn), &rec)
	if err != nil || !found {
		return nil, false, err
	}
	// rec.Raw is the canonical envelope bytes of the bare event (what
	// event.Build* returns), not a SignedEvent wrapper.
	var e event.Event
	if err := json.Unmarshal(rec.Raw, &e); err != nil {
		return nil, false, fmt.Errorf("storage: decode anchoring event: %w", err)
	}
	return e.Seals, true, nil
}

// KeyConfigAt implements processor.Log / reply.SignerStateLookup: the key
// configuration in effect is whatever the identifier's *current* state
// holds, evaluated lazily against the claimed establishment (sn, digest) —
// correct because every establishment event overwrites Current in place and
// a signer can only claim its own most recent one as authoritative going
// forward.
func (s *Store) KeyConfigAt(prefix string, sn uint64, digest string) (state.KeyConfig, bool, error) {
	st, err := s.State(prefix)
	if err != nil {
		return state.KeyConfig{}, false, err
	}
	if st.Empty() || st.LastEst.SN != sn || st.LastEst.SAID != digest {
		return state.KeyConfig{}, false, nil
	}
	return st.Current, true, nil
}

// WitnessSigsFor implements processor.ReceiptStore.
func (s *Store) WitnessSigsFor(prefix string, sn uint64, digest string) ([]state.WitnessSig, error) {
	var sigs []state.WitnessSig
	if _, err := s.getJSON(wsigKey(prefix, sn, digest), &sigs); err != nil {
		return nil, err
	}
	return sigs, nil
}

// AppendWitnessSigs implements processor.ReceiptStore: it unions the new
// sigs with whatever is already on file, deduplicated by witness.
func (s *Store) AppendWitnessSigs(prefix string, sn uint64, digest string, sigs []state.WitnessSig) error {
	existing, err := s.WitnessSigsFor(prefix, sn, digest)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	merged := make([]state.WitnessSig, 0, len(existing)+len(sigs))
	for _, w := range existing {
		if !seen[w.Witness.String()] {
			seen[w.Witness.String()] = true
			merged = append(merged, w)
		}
	}
	for _, w := range sigs {
		if !seen[w.Witness.String()] {
			seen[w.Witness.String()] = true
			merged = append(merged, w)
		}
	}
	return s.setJSON(wsigKey(prefix, sn, digest), merged)
}

// AppendTransReceipt implements processor.ReceiptStore.
func (s *Store) AppendTransReceipt(r *event.TransReceipt) error {
	return s.setJSON(trctKey(r.Receipt.Prefix, r.Receipt.SN, r.Receipt.EventSAID, r.SignerSeal.Prefix), r)
}

// RecordDuplicitous implements processor.DuplicitousStore: se/raw are stored
// in the forensic table, never overwriting the accepted KEL entry at the
// same (prefix, sn).
func (s *Store) RecordDuplicitous(prefix string, sn uint64, se *event.SignedEvent, raw []byte) error {
	return s.setJSON(dupKey(prefix, sn, se.Event.SAID), dupRecord{Event: se, Raw: raw})
}

// Get implements reply.Store.
func (s *Store) Get(prefix, signerPrefix string) (*reply.SignedReply, bool, error) {
	var rec replyRecord
	found, err := s.getJSON(replyKey(prefix, signerPrefix), &rec)
	if err != nil || !found {
		return nil, false, err
	}
	return rec.Reply, true, nil
}

// Put implements reply.Store.
func (s *Store) Put(prefix, signerPrefix string, sr *reply.SignedReply, raw []byte) error {
	return s.setJSON(replyKey(prefix, signerPrefix), replyRecord{Reply: sr, Raw: raw})
}
