package chunking

import (
	"errors"
	"fmt"
	"sync"

	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// ErrInvalidTransition is returned for a state change the lifecycle forbids.
var ErrInvalidTransition = errors.New("chunking: invalid state transition")

var transitions = map[trademark.ProcessingState][]trademark.ProcessingState{
	trademark.StateReceived:  {trademark.StateSectioned, trademark.StateFailed},
	trademark.StateSectioned: {trademark.StateChunked, trademark.StateFailed},
	trademark.StateChunked:   {trademark.StateDone, trademark.StateFailed},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to trademark.ProcessingState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Document is a decision moving through the chunking lifecycle.
type Document struct {
	CaseReference string
	Pages         []trademark.Page

	mu       sync.Mutex
	state    trademark.ProcessingState
	sections []trademark.Section
	chunks   []trademark.Chunk
	failure  error
}

// NewDocument returns a document in the received state.
func NewDocument(caseRef string, pages []trademark.Page) *Document {
	return &Document{CaseReference: caseRef, Pages: pages, state: trademark.StateReceived}
}

// State returns the current state.
func (d *Document) State() trademark.ProcessingState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Sections returns the sections recorded by stage 1.
func (d *Document) Sections() []trademark.Section {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]trademark.Section(nil), d.sections...)
}

// Chunks returns the chunks recorded by stage 2.
func (d *Document) Chunks() []trademark.Chunk {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]trademark.Chunk(nil), d.chunks...)
}

// Failure returns the error that moved the document to failed, if any.
func (d *Document) Failure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failure
}

func (d *Document) transition(to trademark.ProcessingState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !CanTransition(d.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.state, to)
	}
	d.state = to
	return nil
}

func (d *Document) setSections(s []trademark.Section) error {
	if err := d.transition(trademark.StateSectioned); err != nil {
		return err
	}
	d.mu.Lock()
	d.sections = s
	d.mu.Unlock()
	return nil
}

func (d *Document) setChunks(c []trademark.Chunk) error {
	if err := d.transition(trademark.StateChunked); err != nil {
		return err
	}
	d.mu.Lock()
	d.chunks = c
	d.mu.Unlock()
	return nil
}

// MarkDone moves a chunked document to done.
func (d *Document) MarkDone() error {
	return d.transition(trademark.StateDone)
}

// Fail moves the document to failed and records cause. Terminal documents
// cannot fail.
func (d *Document) Fail(cause error) error {
	if err := d.transition(trademark.StateFailed); err != nil {
		return err
	}
	d.mu.Lock()
	d.failure = cause
	d.mu.Unlock()
	return nil
}

// Reset returns a failed document to received so it can be retried.
func (d *Document) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != trademark.StateFailed {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, d.state)
	}
	d.state = trademark.StateReceived
	d.sections, d.chunks, d.failure = nil, nil, nil
	return nil
}
