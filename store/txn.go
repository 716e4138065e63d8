package store

import (
	"context"
	"fmt"
	"sort"
)

// Loader reads the committed state of one document. Backends pass their
// point-read to NewTxn; a missing document is a Snapshot with Exists false.
type Loader func(ctx context.Context, ref Ref) (Snapshot, error)

// Mutation is one buffered write, resolved to the full document it leaves
// behind.
type Mutation struct {
	Ref  Ref
	Data map[string]any

	// BaseVersion is the version observed when the document was read
	// (0 when absent). Only meaningful when Checked is set.
	BaseVersion int64

	// Checked writes must still see BaseVersion at commit, otherwise the
	// commit fails with ErrConflict.
	Checked bool

	// Create writes must find no document at commit. With Checked unset an
	// existing document is ErrAlreadyExists rather than a conflict.
	Create bool
}

// NextVersion is the version the document carries after a checked write.
func (m *Mutation) NextVersion() int64 { return m.BaseVersion + 1 }

// Txn is the optimistic transaction buffer shared by every backend. It
// implements Tx: reads go through the loader and are remembered with their
// version, writes are held until the backend's commit applies them.
type Txn struct {
	load   Loader
	reads  map[Ref]Snapshot
	writes map[Ref]*Mutation
	order  []Ref
}

var _ Tx = (*Txn)(nil)

// NewTxn returns an empty buffer reading through load.
func NewTxn(load Loader) *Txn {
	return &Txn{
		load:   load,
		reads:  make(map[Ref]Snapshot),
		writes: make(map[Ref]*Mutation),
	}
}

// Get returns the document as this transaction sees it.
func (t *Txn) Get(ctx context.Context, ref Ref) (Snapshot, error) {
	if err := ref.Validate(true); err != nil {
		return Snapshot{}, err
	}
	if m, ok := t.writes[ref]; ok {
		return Snapshot{Ref: ref, Exists: true, Data: Clone(m.Data), Version: m.BaseVersion}, nil
	}
	snap, err := t.read(ctx, ref)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Data = Clone(snap.Data)
	return snap, nil
}

// Update merges fields into an existing document.
func (t *Txn) Update(ctx context.Context, ref Ref, fields map[string]any) error {
	if err := ref.Validate(true); err != nil {
		return err
	}
	if m, ok := t.writes[ref]; ok {
		m.Data = Merge(m.Data, fields)
		return nil
	}
	snap, err := t.read(ctx, ref)
	if err != nil {
		return err
	}
	if !snap.Exists {
		return fmt.Errorf("%w: %s", ErrNoDocument, ref)
	}
	t.put(&Mutation{Ref: ref, Data: Merge(snap.Data, fields), BaseVersion: snap.Version, Checked: true})
	return nil
}

// Set replaces a document. A document read earlier in the transaction is
// version-checked; a blind Set is not.
func (t *Txn) Set(_ context.Context, ref Ref, data map[string]any) error {
	if err := ref.Validate(true); err != nil {
		return err
	}
	if m, ok := t.writes[ref]; ok {
		m.Data = Clone(data)
		return nil
	}
	m := &Mutation{Ref: ref, Data: Clone(data)}
	if snap, ok := t.reads[ref]; ok {
		m.BaseVersion, m.Checked = snap.Version, true
	}
	t.put(m)
	return nil
}

// Create writes a document that must not exist.
func (t *Txn) Create(_ context.Context, ref Ref, data map[string]any) error {
	if err := ref.Validate(true); err != nil {
		return err
	}
	if _, ok := t.writes[ref]; ok {
		return ExistsError(ref)
	}
	m := &Mutation{Ref: ref, Data: Clone(data), Create: true}
	if snap, ok := t.reads[ref]; ok {
		if snap.Exists {
			return ExistsError(ref)
		}
		m.Checked = true
	}
	t.put(m)
	return nil
}

// Writes returns the buffered mutations in the order they were first made.
func (t *Txn) Writes() []*Mutation {
	out := make([]*Mutation, 0, len(t.order))
	for _, ref := range t.order {
		out = append(out, t.writes[ref])
	}
	return out
}

// ReadOnly returns the versions of documents that were read but not
// written, sorted by path. The commit must verify they are unchanged.
func (t *Txn) ReadOnly() []Snapshot {
	out := make([]Snapshot, 0, len(t.reads))
	for ref, snap := range t.reads {
		if _, written := t.writes[ref]; written {
			continue
		}
		out = append(out, Snapshot{Ref: ref, Exists: snap.Exists, Version: snap.Version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

// Empty reports whether the transaction buffered no writes.
func (t *Txn) Empty() bool { return len(t.order) == 0 }

func (t *Txn) read(ctx context.Context, ref Ref) (Snapshot, error) {
	if snap, ok := t.reads[ref]; ok {
		return snap, nil
	}
	snap, err := t.load(ctx, ref)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Ref = ref
	if !snap.Exists {
		snap.Version, snap.Data = 0, nil
	}
	t.reads[ref] = snap
	return snap, nil
}

func (t *Txn) put(m *Mutation) {
	t.writes[m.Ref] = m
	t.order = append(t.order, m.Ref)
}
