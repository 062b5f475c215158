// Package journal implements the event journal (C9): an append-only,
// totally ordered log of admin-visible actions, RLP-encoded, that can be
// dumped to a file and replayed against a freshly initialized core to
// reproduce the same final state.
package journal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sirupsen/logrus"

	"starkdevnet/core/felt"
)

// Kind tags which variant an Entry's Payload decodes as.
type Kind uint8

const (
	KindAddDeclareTx Kind = iota
	KindAddDeployAccountTx
	KindAddInvokeTx
	KindAddL1HandlerTx
	KindCreateBlock
	KindSetTime
	KindIncreaseTime
	KindSetGasPrice
	KindAbortBlocks
	KindAcceptOnL1
	KindImpersonateAccount
	KindStopImpersonate
	KindAutoImpersonate
	KindStopAutoImpersonate
	KindRestart
	// KindSetL1Cursor is not in the original chain's event vocabulary; it
	// closes the gap identified during design: without it, replaying the
	// journal against a fresh core would re-fetch every L1 message from
	// scratch rather than resuming from the postman's last cursor.
	KindSetL1Cursor
)

// Entry is one journal record: a tag plus its RLP-encoded payload. Payload
// bytes are produced with rlp.EncodeToBytes on the matching Kind*Payload
// struct below.
type Entry struct {
	Kind    Kind
	Payload []byte
}

// EncodeRLP implements rlp.Encoder.
func (e Entry) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, []interface{}{uint8(e.Kind), e.Payload})
}

// DecodeRLP implements rlp.Decoder.
func (e *Entry) DecodeRLP(s *rlp.Stream) error {
	var raw struct {
		Kind    uint8
		Payload []byte
	}
	if err := s.Decode(&raw); err != nil {
		return err
	}
	e.Kind = Kind(raw.Kind)
	e.Payload = raw.Payload
	return nil
}

// Payload shapes, one per Kind. Each is RLP-encodable by reflection since
// every field is either a felt.Felt (which implements Encoder/Decoder),
// a fixed-width integer, a bool, or a byte slice.

type TxPayload struct {
	TxHash felt.Felt
	// RawTxJSON is the full transaction, JSON-encoded. The transaction
	// carries signed-int enum fields (txn.Kind, txn.DAMode) that
	// go-ethereum's rlp package cannot encode via struct reflection, so
	// the inner payload uses the same JSON wire shape core/rpcapi already
	// decodes; only the outer Entry envelope is RLP.
	RawTxJSON []byte
}

type CreateBlockPayload struct {
	RequestedTimestamp uint64 // 0 means "use the logical clock"
}

type SetTimePayload struct {
	Time           uint64
	GenerateBlock  bool
}

type IncreaseTimePayload struct {
	Delta uint64
}

type SetGasPricePayload struct {
	L1GasWei, L1GasFri         felt.Felt
	L1DataGasWei, L1DataGasFri felt.Felt
	L2GasWei, L2GasFri         felt.Felt
	HasL1GasWei, HasL1GasFri             bool
	HasL1DataGasWei, HasL1DataGasFri     bool
	HasL2GasWei, HasL2GasFri             bool
	GenerateBlock bool
}

type AbortBlocksPayload struct {
	FromBlockNumber uint64
}

type AcceptOnL1Payload struct {
	UpToBlockNumber uint64
}

type AddressPayload struct {
	Address felt.Felt
}

type SetL1CursorPayload struct {
	LastFetchedL1Block uint64
}

type RestartPayload struct {
	KeepJournal bool
}

// Mode selects when the journal persists to disk.
type Mode int

const (
	ModeOff Mode = iota
	ModeOnAcceptedBlock
	ModeOnAcceptedTransaction
	ModeOnCleanShutdown
	ModeOnExplicitRequest
)

// Journal is the C9 append-only event log.
type Journal struct {
	mu      sync.Mutex
	mode    Mode
	path    string
	entries []Entry
}

// New returns an empty journal. path is the dump target used for
// ModeOnAcceptedBlock/ModeOnAcceptedTransaction/ModeOnCleanShutdown; it may
// be empty when mode is ModeOff or when only explicit Dump calls are used.
func New(mode Mode, path string) *Journal {
	return &Journal{mode: mode, path: path}
}

// Append records an entry and, depending on mode and trigger, persists to
// disk. trigger names which event class just happened ("block" or "tx") so
// Append can decide whether this mode fires now.
func (j *Journal) Append(e Entry, trigger string) {
	j.mu.Lock()
	j.entries = append(j.entries, e)
	mode := j.mode
	path := j.path
	j.mu.Unlock()

	switch mode {
	case ModeOnAcceptedBlock:
		if trigger == "block" {
			if err := j.Dump(path); err != nil {
				logrus.WithError(err).Error("journal: dump on accepted block failed")
			}
		}
	case ModeOnAcceptedTransaction:
		if trigger == "tx" {
			if err := j.Dump(path); err != nil {
				logrus.WithError(err).Error("journal: dump on accepted transaction failed")
			}
		}
	}
}

// Entries returns a copy of the full ordered entry list.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Dump persists the entire journal to path as a sequence of length-prefixed
// RLP records.
func (j *Journal) Dump(path string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("journal: dump: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, e := range j.entries {
		if err := rlp.Encode(w, e); err != nil {
			return fmt.Errorf("journal: encode entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	return f.Sync()
}

// Load reads a previously dumped journal from path. It does not itself
// replay the entries against a core; the caller iterates Entries() and
// dispatches each one.
func Load(path string) (*Journal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: load: %w", err)
	}
	defer f.Close()

	j := &Journal{path: path}
	stream := rlp.NewStream(f, 0)
	for {
		var e Entry
		if err := stream.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("journal: decode entry: %w", err)
		}
		j.entries = append(j.entries, e)
	}
	return j, nil
}

// CloneForRestart returns a new journal with the same mode/path, holding
// a copy of j's entries when keepJournal is true and none otherwise,
// modeling the Restart event: all state is cleared except optionally the
// journal itself (keepJournal controls whether entries survive).
func (j *Journal) CloneForRestart(keepJournal bool) *Journal {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := &Journal{mode: j.mode, path: j.path}
	if keepJournal {
		out.entries = append(out.entries, j.entries...)
	}
	return out
}

// Replace overwrites j's entries in place with a copy of other's (and
// j's dump path with other's, if other's is non-empty); j's mode is left
// unchanged and other is not modified. It exists so Load
// (devnet_load) can swap in a freshly read journal without invalidating
// every component — the pipeline among them — that was constructed
// holding a pointer to this same Journal.
func (j *Journal) Replace(other *Journal) {
	other.mu.Lock()
	entries := make([]Entry, len(other.entries))
	copy(entries, other.entries)
	path := other.path
	other.mu.Unlock()

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = entries
	if path != "" {
		j.path = path
	}
}

// ResetForRestart applies Restart semantics in place: every other
// component holds this same *Journal pointer (the pipeline in
// particular), so a Restart handled by the live server clears entries on
// the existing object rather than handing back a clone nothing points
// to. keepJournal mirrors CloneForRestart's flag.
func (j *Journal) ResetForRestart(keepJournal bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !keepJournal {
		j.entries = nil
	}
}
