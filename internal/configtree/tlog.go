package configtree

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
)

// TxOp distinguishes a merge (non-destructive) entry from a replace
// (destructive at the target level) entry and a remove (detach) entry in
// the transaction log. This is the Go-side encoding of spec.md §3's
// {timestamp, path, op: Set|Remove, value} record: TxMerge/TxReplace both
// correspond to "Set" (they differ only in whether siblings absent from
// the record are pruned), TxRemove to "Remove".
type TxOp string

const (
	TxMerge   TxOp = "merge"
	TxReplace TxOp = "replace"
	TxRemove  TxOp = "remove"
)

// TxEntry is a single line of the transaction log: one mutation applied
// at Path with the recorded ModTime, expressed as a nested map so replay
// can call MergeMap/ReplaceMap directly. Entries are appended one JSON
// object per line, the same append-only, replay-on-boot shape as the
// teacher's event log, except durable (the kernel must recover its
// configuration tree across restarts, where the in-memory event log does
// not need to).
type TxEntry struct {
	Seq     uint64 `json:"seq"`
	ModTime int64  `json:"modtime"`
	Op      TxOp   `json:"op"`
	Path    string `json:"path"`
	Value   Any    `json:"value"`
}

// TxLog appends TxEntry records to an underlying writer and assigns each
// one the next sequence number, mirroring the teacher's EventLog.Publish
// monotonic-seq pattern but persisted line-by-line instead of held in
// memory, since the whole point of this log is to survive a restart.
type TxLog struct {
	w   io.Writer
	enc *json.Encoder
	seq uint64
}

// OpenTxLog opens (creating if absent) the log file at path for
// appending and returns a TxLog writing to it.
func OpenTxLog(path string) (*TxLog, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return NewTxLog(f), f, nil
}

// NewTxLog wraps an arbitrary io.Writer (tests use a bytes.Buffer).
func NewTxLog(w io.Writer) *TxLog {
	return &TxLog{w: w, enc: json.NewEncoder(w)}
}

// SetSeq sets the next sequence number to be assigned, so a TxLog opened
// for append can continue numbering after a prior replay.
func (l *TxLog) SetSeq(seq uint64) {
	l.seq = seq
}

// Append writes one transaction entry and returns its assigned sequence
// number.
func (l *TxLog) Append(modtime int64, op TxOp, path string, value Any) (uint64, error) {
	l.seq++
	entry := TxEntry{Seq: l.seq, ModTime: modtime, Op: op, Path: path, Value: value}
	if err := l.enc.Encode(entry); err != nil {
		l.seq--
		return 0, err
	}
	return entry.Seq, nil
}

// ReplayTxLog reads every entry from r in order and applies it to tree,
// reusing each entry's recorded ModTime rather than allocating a fresh
// one, so replay reproduces the exact modtime state the tree had when the
// log was written. It returns the highest sequence number seen, so the
// caller's live TxLog can continue numbering from there.
func ReplayTxLog(tree *Tree, r io.Reader) (uint64, error) {
	dec := json.NewDecoder(bufio.NewReader(r))
	dec.UseNumber()
	var maxSeq uint64
	for {
		var entry TxEntry
		err := dec.Decode(&entry)
		if err == io.EOF {
			break
		}
		if err != nil {
			return maxSeq, err
		}
		if entry.Seq > maxSeq {
			maxSeq = entry.Seq
		}
		if err := applyTxEntry(tree, entry); err != nil {
			return maxSeq, err
		}
	}
	return maxSeq, nil
}

func applyTxEntry(tree *Tree, entry TxEntry) error {
	if entry.Op == TxRemove {
		tree.removeAt(entry.Path, entry.ModTime)
		return nil
	}
	m, ok := entry.Value.(map[string]Any)
	if !ok {
		// scalar write to a leaf path
		topic, err := tree.LookupTopic(entry.Path)
		if err != nil {
			return err
		}
		topic.SetValue(entry.ModTime, entry.Value)
		return nil
	}
	topics, err := tree.lookupTopicsSegs(splitPath(entry.Path), entry.ModTime)
	if err != nil {
		return err
	}
	if entry.Op == TxReplace {
		for _, existing := range topics.ChildNames() {
			if _, keep := m[existing]; !keep {
				topics.remove(existing, entry.ModTime)
			}
		}
	}
	return mergeInto(topics, m, entry.ModTime)
}
