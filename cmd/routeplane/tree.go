package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"xdao.co/routeplane/cidutil"
	"xdao.co/routeplane/deploy"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/prooftree"
)

func loadEntries(path string) ([]model.RouteEntry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []model.RouteEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return entries, nil
}

func cmdRoot(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("root", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: routeplane root <entries.json>")
		return 2
	}
	entries, err := loadEntries(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read entries: %v\n", err)
		return 1
	}
	root, err := prooftree.BuildRoot(entries)
	if err != nil {
		fmt.Fprintf(errOut, "build root: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, root)
	return 0
}

func cmdProof(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("proof", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var index int
	fs.IntVar(&index, "index", -1, "Entry index")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 || index < 0 {
		fmt.Fprintln(errOut, "usage: routeplane proof --index <n> <entries.json>")
		return 2
	}
	entries, err := loadEntries(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read entries: %v\n", err)
		return 1
	}
	tree, err := prooftree.New(entries)
	if err != nil {
		fmt.Fprintf(errOut, "build tree: %v\n", err)
		return 1
	}
	p, err := tree.Proof(index)
	if err != nil {
		fmt.Fprintf(errOut, "proof: %v\n", err)
		return 1
	}
	doc := struct {
		Root  model.Hash       `json:"root"`
		Index int              `json:"index"`
		Entry model.RouteEntry `json:"entry"`
		Proof prooftree.Proof  `json:"proof"`
	}{tree.Root(), index, entries[index], p}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		fmt.Fprintf(errOut, "encode: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, string(b))
	return 0
}

func cmdPredict(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var identity string
	fs.StringVar(&identity, "identity", "", "Deployment store identity address")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if identity == "" || fs.NArg() == 0 {
		fmt.Fprintln(errOut, "usage: routeplane predict --identity <address> <file> [<file> ...]")
		return 2
	}
	id, err := model.ParseAddress(identity)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --identity: %v\n", err)
		return 2
	}
	for _, path := range fs.Args() {
		b, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(errOut, "read %s: %v\n", path, err)
			return 1
		}
		if len(b) == 0 {
			fmt.Fprintf(errOut, "%s: empty content cannot be deployed\n", path)
			return 1
		}
		fmt.Fprintf(out, "%s\t%s\n", deploy.PredictAddress(id, b), path)
	}
	return 0
}

func cmdCID(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("cid", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: routeplane cid <file>")
		return 2
	}
	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read: %v\n", err)
		return 1
	}
	digest, id := cidutil.MustCID(b)
	fmt.Fprintf(out, "%s\t%s\n", id, digest)
	return 0
}
