// Package mmu describes the user address-space layout of the hosting kernel
// and the page-table entry format shared between the kernel and user code.
package mmu

import (
	"fmt"
	"strings"
)

// VA is a user virtual address.
type VA uint32

// Page geometry.
const (
	PageShift = 12
	PageSize  = 1 << PageShift
	PDShift   = 22
	PDMap     = 1 << PDShift // bytes covered by one page-directory entry

	// NPTEntries is the number of entries in a page table and in the page
	// directory.
	NPTEntries = 1024
)

// User address-space layout, top down:
//
//	ULim       +------------------+ 0x80000000
//	           |  page tables     |  UVPT
//	           |  page records    |  UPages
//	           |  env table       |  UEnvs
//	UTop       +------------------+ 0x7f400000 = UXStackTop
//	           |  exception stack |  one page
//	           |  fault scratch   |  one page
//	UStackTop  +------------------+
//	           |  user stack      |
//	           |        ...       |
//	UText      +------------------+ 0x00400000
const (
	ULim       VA = 0x80000000
	UVPT       VA = ULim - PDMap
	UPages     VA = UVPT - PDMap
	UEnvs      VA = UPages - PDMap
	UTop       VA = UEnvs
	UXStackTop VA = UTop
	UStackTop  VA = UTop - 2*PageSize
	UText      VA = 0x00400000

	// FaultScratch is the lower page of the alternate fault-stack region.
	// The fault resolver maps its temporary frame here; the exception
	// stack itself occupies the page above it.
	FaultScratch VA = UXStackTop - 2*PageSize
)

// VPN returns the virtual page number of va.
func VPN(va VA) uint32 { return uint32(va) >> PageShift }

// PDX returns the page-directory index of va.
func PDX(va VA) uint32 { return (uint32(va) >> PDShift) & (NPTEntries - 1) }

// PTX returns the page-table index of va.
func PTX(va VA) uint32 { return (uint32(va) >> PageShift) & (NPTEntries - 1) }

// PageAddr returns the first address of virtual page vpn.
func PageAddr(vpn uint32) VA { return VA(vpn << PageShift) }

// RoundDown returns va rounded down to a page boundary.
func RoundDown(va VA) VA { return va &^ (PageSize - 1) }

// PageOffset returns the offset of va within its page.
func PageOffset(va VA) uint32 { return uint32(va) & (PageSize - 1) }

func (va VA) String() string { return fmt.Sprintf("0x%08x", uint32(va)) }

// Perm holds the low twelve permission bits of a page-table entry.
type Perm uint32

// Permission bits.
const (
	PermCOW     Perm = 0x001 // copy-on-write
	PermLibrary Perm = 0x004 // shared across fork, never copied
	PermGlobal  Perm = 0x100
	PermValid   Perm = 0x200
	PermWrite   Perm = 0x400 // R bit: the page may be written
	PermUncache Perm = 0x800

	PermMask Perm = 0xfff
)

var permNames = []struct {
	bit  Perm
	name string
}{
	{PermValid, "V"},
	{PermWrite, "R"},
	{PermCOW, "COW"},
	{PermLibrary, "LIB"},
	{PermGlobal, "G"},
	{PermUncache, "UC"},
}

// Has reports whether all bits of want are set in p.
func (p Perm) Has(want Perm) bool { return p&want == want }

// Writable reports whether a store through this mapping succeeds without
// faulting.
func (p Perm) Writable() bool { return p.Has(PermValid|PermWrite) && !p.Has(PermCOW) }

func (p Perm) String() string {
	if p == 0 {
		return "-"
	}
	var parts []string
	rest := p
	for _, n := range permNames {
		if p&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// PTE is a page-table entry: a physical page number in the high twenty bits
// and permission bits in the low twelve.
type PTE uint32

// MakePTE packs a physical page number and permissions.
func MakePTE(ppn uint32, perm Perm) PTE {
	return PTE(ppn<<PageShift | uint32(perm&PermMask))
}

// PPN returns the physical page number.
func (e PTE) PPN() uint32 { return uint32(e) >> PageShift }

// Perm returns the permission bits.
func (e PTE) Perm() Perm { return Perm(e) & PermMask }

// Present reports whether the entry maps a page.
func (e PTE) Present() bool { return e.Perm().Has(PermValid) }
