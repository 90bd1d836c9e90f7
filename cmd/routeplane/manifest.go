package main

import (
	"crypto/ed25519"
	"flag"
	"fmt"
	"io"
	"time"

	"xdao.co/routeplane/keys"
	"xdao.co/routeplane/manifest"
	"xdao.co/routeplane/model"
)

func cmdManifest(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: routeplane manifest <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: new, verify, digest")
		return 2
	}
	switch args[0] {
	case "new":
		return cmdManifestNew(args[1:], out, errOut)
	case "verify":
		return cmdManifestVerify(args[1:], out, errOut)
	case "digest":
		return cmdManifestDigest(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown manifest subcommand: %s\n", args[0])
		return 2
	}
}

// signerFlags selects an ed25519 seed the way every signing command does.
type signerFlags struct {
	seedHex    string
	signerName string
	signerRole string
	keyFile    string
}

func (s *signerFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.seedHex, "seed-hex", "", "ed25519 seed as 64 hex chars")
	fs.StringVar(&s.signerName, "signer", "", "Use a stored key by name (from 'routeplane key init')")
	fs.StringVar(&s.signerRole, "signer-role", "", "When using --signer, optionally use a derived role key")
	fs.StringVar(&s.keyFile, "key-file", "", "Path to a seed file (hex) created by 'routeplane key init/derive'")
}

func (s *signerFlags) set() bool {
	return s.seedHex != "" || s.signerName != "" || s.keyFile != ""
}

func (s *signerFlags) check() error {
	if s.seedHex != "" && (s.signerName != "" || s.keyFile != "") {
		return fmt.Errorf("conflicting signer flags: --seed-hex cannot be combined with --signer or --key-file")
	}
	if s.signerName != "" && s.keyFile != "" {
		return fmt.Errorf("conflicting signer flags: --signer cannot be combined with --key-file")
	}
	return nil
}

func (s *signerFlags) load() (ed25519.PrivateKey, error) {
	ks, err := keys.CreateKeyStore("")
	if err != nil {
		return nil, err
	}
	seed, err := ks.LoadSeed(s.seedHex, s.signerName, s.signerRole, s.keyFile)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// buildManifest assembles a manifest over entries, chaining it to previous
// when given and signing it when sf names a key. The signer becomes the
// deployer unless deployer is set.
func buildManifest(h manifest.Header, entries []model.RouteEntry, previous string, sf signerFlags) (*manifest.Manifest, error) {
	var prev *manifest.Manifest
	if previous != "" {
		var err error
		prev, err = manifest.Load(previous)
		if err != nil {
			return nil, fmt.Errorf("read --previous: %w", err)
		}
		if h.Previous, err = prev.Digest(); err != nil {
			return nil, err
		}
	}

	var priv ed25519.PrivateKey
	if sf.set() {
		var err error
		if priv, err = sf.load(); err != nil {
			return nil, fmt.Errorf("invalid signer: %w", err)
		}
		if h.Deployer.IsZero() {
			h.Deployer = keys.AddressFromPublicKey(priv.Public().(ed25519.PublicKey))
		}
	}

	m, err := manifest.New(h, entries)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		if err := manifest.VerifyChain(prev, m); err != nil {
			return nil, err
		}
	}
	if priv != nil {
		if err := m.SignEd25519(priv); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func writeManifest(m *manifest.Manifest, path string, out io.Writer) error {
	if path == "" {
		b, err := m.Marshal()
		if err != nil {
			return err
		}
		_, err = out.Write(b)
		return err
	}
	return m.Save(path)
}

func cmdManifestNew(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("manifest new", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var version, entriesPath, networkID, deployer, previous, outPath string
	var epoch uint64
	var sf signerFlags

	fs.StringVar(&version, "version", "", "Human-readable version string")
	fs.Uint64Var(&epoch, "epoch", 0, "Epoch number (must exceed the previous manifest's)")
	fs.StringVar(&entriesPath, "entries", "", "Route entries JSON file")
	fs.StringVar(&networkID, "network", "", "Network identifier")
	fs.StringVar(&deployer, "deployer", "", "Deployer address (defaults to the signer's address)")
	fs.StringVar(&previous, "previous", "", "Previous manifest in the chain")
	fs.StringVar(&outPath, "out", "", "Write the manifest here instead of stdout")
	sf.register(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if version == "" || entriesPath == "" || epoch == 0 {
		fmt.Fprintln(errOut, "missing --version, --epoch or --entries")
		return 2
	}
	if err := sf.check(); err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	h := manifest.Header{Version: version, Timestamp: time.Now().UTC().Unix(), Network: networkID, Epoch: epoch}
	if deployer != "" {
		addr, err := model.ParseAddress(deployer)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --deployer: %v\n", err)
			return 2
		}
		h.Deployer = addr
	}
	entries, err := loadEntries(entriesPath)
	if err != nil {
		fmt.Fprintf(errOut, "read entries: %v\n", err)
		return 1
	}
	m, err := buildManifest(h, entries, previous, sf)
	if err != nil {
		fmt.Fprintf(errOut, "build manifest: %v\n", err)
		return 1
	}
	if err := writeManifest(m, outPath, out); err != nil {
		fmt.Fprintf(errOut, "write manifest: %v\n", err)
		return 1
	}
	if outPath != "" {
		fmt.Fprintf(out, "%s\n", m.Root)
	}
	return 0
}

func cmdManifestVerify(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("manifest verify", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var previous string
	var requireSig bool
	fs.StringVar(&previous, "previous", "", "Previous manifest; checks the hash chain")
	fs.BoolVar(&requireSig, "require-signature", false, "Fail when the manifest is unsigned")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: routeplane manifest verify [--previous <manifest.json>] [--require-signature] <manifest.json>")
		return 2
	}
	m, err := manifest.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "invalid manifest: %v\n", err)
		return 1
	}
	if err := m.Validate(); err != nil {
		fmt.Fprintf(errOut, "invalid: %v\n", err)
		return 1
	}
	if m.Signature != nil || requireSig {
		if err := m.VerifySignature(); err != nil {
			fmt.Fprintf(errOut, "invalid signature: %v\n", err)
			return 1
		}
	}
	if previous != "" {
		prev, err := manifest.Load(previous)
		if err != nil {
			fmt.Fprintf(errOut, "read --previous: %v\n", err)
			return 1
		}
		if err := manifest.VerifyChain(prev, m); err != nil {
			fmt.Fprintf(errOut, "invalid chain: %v\n", err)
			return 1
		}
	}
	_, _ = fmt.Fprintln(out, "OK")
	return 0
}

func cmdManifestDigest(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("manifest digest", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: routeplane manifest digest <manifest.json>")
		return 2
	}
	m, err := manifest.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "invalid manifest: %v\n", err)
		return 1
	}
	d, err := m.Digest()
	if err != nil {
		fmt.Fprintf(errOut, "digest: %v\n", err)
		return 1
	}
	id, err := m.CID()
	if err != nil {
		fmt.Fprintf(errOut, "cid: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "%s\t%s\n", d, id)
	return 0
}
