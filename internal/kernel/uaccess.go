package kernel

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/kahiteam/cowfork/internal/events"
	"github.com/kahiteam/cowfork/internal/mmu"
)

// Memory access failures. Each one aborts the accessing environment.
var (
	ErrPageNotMapped   = errors.New("page not mapped")
	ErrNoFaultHandler  = errors.New("no page fault handler")
	ErrBadFaultStack   = errors.New("exception stack not writable")
	ErrFaultUnresolved = errors.New("write fault not resolved by handler")
	ErrStackCorrupted  = errors.New("fault frame on exception stack clobbered")
)

// trapFrameSize is the size of the record pushed on the alternate stack for
// each delivered fault.
const trapFrameSize = 16

var trapMagic = [4]byte{'T', 'R', 'A', 'P'}

// Load reads n bytes at va from the caller's address space. Reading an
// unmapped page aborts the caller.
func (s *Sys) Load(va mmu.VA, n int) []byte {
	out := make([]byte, 0, n)
	for n > 0 {
		off := mmu.PageOffset(va)
		chunk := min(n, int(mmu.PageSize-off))

		s.k.mu.Lock()
		pte := s.env.as.lookup(va)
		if !pte.Present() {
			s.k.mu.Unlock()
			Abortf(ErrPageNotMapped, "load from %s", va)
		}
		page := s.k.pool.Page(pte.PPN())
		out = append(out, page[off:int(off)+chunk]...)
		s.k.mu.Unlock()

		va += mmu.VA(chunk)
		n -= chunk
	}
	return out
}

// Store writes data at va in the caller's address space. A store to a page
// that is present but not writable, or is marked COW, is delivered to the
// caller's fault handler and retried once the handler returns.
func (s *Sys) Store(va mmu.VA, data []byte) {
	for len(data) > 0 {
		off := mmu.PageOffset(va)
		chunk := min(len(data), int(mmu.PageSize-off))
		s.storePage(va, data[:chunk])
		va += mmu.VA(chunk)
		data = data[chunk:]
	}
}

func (s *Sys) storePage(va mmu.VA, data []byte) {
	for faulted := false; ; faulted = true {
		s.k.mu.Lock()
		pte := s.env.as.lookup(va)
		if pte.Perm().Writable() {
			page := s.k.pool.Page(pte.PPN())
			copy(page[mmu.PageOffset(va):], data)
			s.k.mu.Unlock()
			return
		}
		s.k.mu.Unlock()

		if !pte.Present() {
			Abortf(ErrPageNotMapped, "store to %s", va)
		}
		if faulted {
			Abortf(ErrFaultUnresolved, "store to %s (%s)", va, pte.Perm())
		}
		s.deliverFault(va)
	}
}

// deliverFault pushes a trap frame on the caller's alternate stack and runs
// its fault entry there. The frame must be intact when the entry returns.
func (s *Sys) deliverFault(va mmu.VA) {
	s.k.mu.Lock()
	e := s.env
	entry, top := e.faultEntry, e.xstackTop
	if entry == nil {
		s.k.mu.Unlock()
		Abortf(ErrNoFaultHandler, "write fault at %s", va)
	}
	e.faults++
	seq := uint32(e.faults)
	depth := e.faultDepth
	s.k.mu.Unlock()

	if (depth+1)*trapFrameSize > mmu.PageSize {
		Abortf(ErrBadFaultStack, "exception stack overflow at depth %d", depth)
	}
	sp := top - mmu.VA((depth+1)*trapFrameSize)
	frame := encodeTrapFrame(va, e.id, seq)
	if !s.writeFrame(sp, frame) {
		Abortf(ErrBadFaultStack, "write fault at %s, stack top %s", va, top)
	}

	s.logger.Debug("page fault", "va", va.String(), "depth", depth)
	s.k.publish(events.PageFault, e.id, map[string]string{"va": va.String()})

	s.k.mu.Lock()
	e.faultDepth++
	s.k.mu.Unlock()

	entry(va)

	s.k.mu.Lock()
	e.faultDepth--
	s.k.mu.Unlock()

	if got := s.Load(sp, trapFrameSize); !bytes.Equal(got, frame) {
		Abortf(ErrStackCorrupted, "write fault at %s", va)
	}
}

// writeFrame stores a trap frame straight into the exception stack page.
// The stack page must be writable; it is never delivered as a fault.
func (s *Sys) writeFrame(sp mmu.VA, frame []byte) bool {
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	pte := s.env.as.lookup(sp)
	if !pte.Perm().Writable() {
		return false
	}
	page := s.k.pool.Page(pte.PPN())
	copy(page[mmu.PageOffset(sp):], frame)
	return true
}

func encodeTrapFrame(va mmu.VA, id EnvID, seq uint32) []byte {
	b := make([]byte, trapFrameSize)
	copy(b, trapMagic[:])
	binary.LittleEndian.PutUint32(b[4:], uint32(va))
	binary.LittleEndian.PutUint32(b[8:], uint32(id))
	binary.LittleEndian.PutUint32(b[12:], seq)
	return b
}
