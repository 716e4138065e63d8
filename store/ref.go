package store

import (
	"fmt"
	"strings"
)

// Ref is a slash-separated path to a document ("users/alice") or a
// collection ("users/alice/billing_history"). Documents sit at an even
// number of segments, collections at an odd number.
type Ref string

// Path joins segments into a Ref. It does not validate; call Validate
// before handing a Ref built from user input to a backend.
func Path(segments ...string) Ref {
	return Ref(strings.Join(segments, "/"))
}

// Child returns the document id under collection of r.
func (r Ref) Child(collection, id string) Ref {
	return Ref(string(r) + "/" + collection + "/" + id)
}

// Collection returns the collection named name under document r.
func (r Ref) Collection(name string) Ref {
	return Ref(string(r) + "/" + name)
}

// Doc returns the document id inside collection r.
func (r Ref) Doc(id string) Ref {
	return Ref(string(r) + "/" + id)
}

// ID returns the last path segment.
func (r Ref) ID() string {
	s := string(r)
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Parent returns the path up to the last segment: a collection for a
// document ref, and the owning document (or "") for a collection ref.
func (r Ref) Parent() Ref {
	s := string(r)
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return Ref(s[:i])
	}
	return ""
}

// IsDocument reports whether r addresses a document.
func (r Ref) IsDocument() bool {
	return len(r.segments())%2 == 0
}

func (r Ref) String() string { return string(r) }

func (r Ref) segments() []string {
	if r == "" {
		return nil
	}
	return strings.Split(string(r), "/")
}

// Validate checks that r has no empty segments and addresses a document
// (wantDoc) or a collection.
func (r Ref) Validate(wantDoc bool) error {
	segs := r.segments()
	if len(segs) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidRef)
	}
	for _, s := range segs {
		if s == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidRef, string(r))
		}
	}
	if isDoc := len(segs)%2 == 0; isDoc != wantDoc {
		kind := "collection"
		if wantDoc {
			kind = "document"
		}
		return fmt.Errorf("%w: %q is not a %s path", ErrInvalidRef, string(r), kind)
	}
	return nil
}
