// Command prooftree_vector_gen prints deterministic proof tree vectors as JSON.
//
// Each vector holds an ordered entry set, its root and one proof per entry, so
// other tooling can check that it builds identical roots and proofs.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"xdao.co/routeplane/cidutil"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/prooftree"
)

type vector struct {
	Name    string             `json:"name"`
	Entries []model.RouteEntry `json:"entries"`
	Root    model.Hash         `json:"root"`
	Proofs  []prooftree.Proof  `json:"proofs"`
}

func entries(n int) []model.RouteEntry {
	out := make([]model.RouteEntry, n)
	for i := range out {
		binary.BigEndian.PutUint32(out[i].Selector[:], uint32(0x10000000*(i%15+1)+i))
		out[i].Implementation[0] = 0xc0
		out[i].Implementation[19] = byte(i + 1)
		out[i].CodeHash = cidutil.ContentDigest([]byte(fmt.Sprintf("vector code %d", i)))
	}
	return out
}

func generate(sizes []int) ([]vector, error) {
	out := make([]vector, 0, len(sizes))
	for _, n := range sizes {
		es := entries(n)
		tree, err := prooftree.New(es)
		if err != nil {
			return nil, err
		}
		v := vector{Name: fmt.Sprintf("entries-%d", n), Entries: es, Root: tree.Root()}
		for i := range es {
			p, err := tree.Proof(i)
			if err != nil {
				return nil, err
			}
			v.Proofs = append(v.Proofs, p)
		}
		out = append(out, v)
	}
	return out, nil
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("prooftree_vector_gen", flag.ContinueOnError)
	fs.SetOutput(errOut)
	limit := fs.Int("max", 9, "Generate vectors for 1..max entries")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *limit < 1 {
		fmt.Fprintln(errOut, "--max must be at least 1")
		return 2
	}
	sizes := make([]int, *limit)
	for i := range sizes {
		sizes[i] = i + 1
	}
	vs, err := generate(sizes)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(vs); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
