// Package inspect renders environment address spaces and exit records for
// humans and scripts.
package inspect

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/term"

	"github.com/kahiteam/cowfork/internal/kernel"
	"github.com/kahiteam/cowfork/internal/mmu"
)

// Page is one present page of an address space.
type Page struct {
	VA     mmu.VA   `json:"va"`
	PPN    uint32   `json:"ppn"`
	Perm   mmu.Perm `json:"perm"`
	Ref    int      `json:"ref"`
	Digest string   `json:"digest"`
}

// Snapshot is the address space of one environment at a point in time.
type Snapshot struct {
	Env   kernel.EnvID `json:"env"`
	Pages []Page       `json:"pages"`
}

// Digest returns a short content hash of a page. Equal contents give equal
// digests, so copies made on a write fault are easy to spot.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:6])
}

// Dump takes a snapshot of a live environment.
func Dump(k *kernel.Kernel, id kernel.EnvID) (Snapshot, error) {
	ms, err := k.Mappings(id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("dump %s: %w", id, err)
	}
	return fromMappings(id, ms), nil
}

// FromExit builds a snapshot from the mappings recorded when an environment
// ended. The kernel must have been created with TraceExit.
func FromExit(rec kernel.ExitRecord) Snapshot {
	return fromMappings(rec.ID, rec.Mappings)
}

func fromMappings(id kernel.EnvID, ms []kernel.Mapping) Snapshot {
	s := Snapshot{Env: id}
	for _, m := range ms {
		s.Pages = append(s.Pages, Page{
			VA:     m.VA,
			PPN:    m.PPN,
			Perm:   m.Perm,
			Ref:    m.Ref,
			Digest: Digest(m.Data),
		})
	}
	return s
}

// WriteTable writes snapshots as an aligned table, one row per page.
// Permissions are colored when w is a terminal.
func WriteTable(w io.Writer, snaps ...Snapshot) error {
	return formatPageTable(w, snaps, isTerminal(w))
}

// WriteJSON writes snapshots as indented JSON.
func WriteJSON(w io.Writer, snaps ...Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snaps)
}

func formatPageTable(w io.Writer, snaps []Snapshot, color bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ENV\tVA\tPPN\tPERM\tREF\tDIGEST\n")
	for _, s := range snaps {
		for _, p := range s.Pages {
			perm := p.Perm.String()
			if color {
				perm = colorPerm(p.Perm)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n", s.Env, p.VA, p.PPN, perm, p.Ref, p.Digest)
		}
	}
	return tw.Flush()
}

// WriteExits writes one row per exit record, in exit order.
func WriteExits(w io.Writer, recs []kernel.ExitRecord) error {
	return formatExitTable(w, recs, isTerminal(w))
}

func formatExitTable(w io.Writer, recs []kernel.ExitRecord, color bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ENV\tPARENT\tSTATE\tDESCRIPTION\n")
	for _, r := range recs {
		state, desc := "EXITED", "-"
		if r.Err != nil {
			state, desc = "ABORTED", r.Err.Error()
		}
		if color {
			state = colorState(state)
		}
		parent := "-"
		if r.Parent != 0 {
			parent = r.Parent.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, parent, state, desc)
	}
	return tw.Flush()
}

func colorPerm(p mmu.Perm) string {
	s := p.String()
	switch {
	case p.Has(mmu.PermCOW):
		return "\033[33m" + s + "\033[0m"
	case p.Has(mmu.PermLibrary):
		return "\033[36m" + s + "\033[0m"
	case p.Writable():
		return "\033[32m" + s + "\033[0m"
	default:
		return s
	}
}

func colorState(state string) string {
	switch state {
	case "EXITED":
		return "\033[32m" + state + "\033[0m"
	case "ABORTED":
		return "\033[31m" + state + "\033[0m"
	default:
		return state
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
