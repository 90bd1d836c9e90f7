package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	_ "xdao.co/routeplane/network/grpcnet"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "backends":
		return cmdBackends(args[1:], out, errOut)
	case "cid":
		return cmdCID(args[1:], out, errOut)
	case "deploy":
		return cmdDeploy(args[1:], out, errOut)
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "manifest":
		return cmdManifest(args[1:], out, errOut)
	case "plans":
		return cmdPlans(args[1:], out, errOut)
	case "predict":
		return cmdPredict(args[1:], out, errOut)
	case "proof":
		return cmdProof(args[1:], out, errOut)
	case "resume":
		return cmdResume(args[1:], out, errOut)
	case "root":
		return cmdRoot(args[1:], out, errOut)
	case "verify":
		return cmdVerify(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "routeplane: time-locked route upgrades across networks")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  routeplane root <entries.json>")
	fmt.Fprintln(w, "  routeplane proof --index <n> <entries.json>")
	fmt.Fprintln(w, "  routeplane predict --identity <address> <file> [<file> ...]")
	fmt.Fprintln(w, "  routeplane cid <file>")
	fmt.Fprintln(w, "  routeplane manifest new --version <v> --epoch <n> --entries <entries.json> [--network <id>] [--previous <manifest.json>] [--signer <name> [--signer-role <role>] | --seed-hex <64hex> | --key-file <path>] [--out <file>]")
	fmt.Fprintln(w, "  routeplane manifest verify [--previous <manifest.json>] [--require-signature] <manifest.json>")
	fmt.Fprintln(w, "  routeplane manifest digest <manifest.json>")
	fmt.Fprintln(w, "  routeplane key init --name <name> [--seed-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  routeplane key derive --from <name> --role <role> [--force]")
	fmt.Fprintln(w, "  routeplane key list")
	fmt.Fprintln(w, "  routeplane key export --name <name> [--role <role>]")
	fmt.Fprintln(w, "  routeplane deploy --config <file> --version <v> --epoch <n> --bind <selector>=<file> [--bind ...] [--manifest-out <file>] [--previous <manifest.json>] [--json]")
	fmt.Fprintln(w, "  routeplane resume --config <file> --plan <id> [--json]")
	fmt.Fprintln(w, "  routeplane verify --config <file> --plan <id> [--json]")
	fmt.Fprintln(w, "  routeplane plans --config <file>")
	fmt.Fprintln(w, "  routeplane backends")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - entries.json is a JSON array of {selector, implementation, codeHash}")
	fmt.Fprintln(w, "  - config files are YAML (.yaml/.yml) or TOML (.toml)")
	fmt.Fprintln(w, "  - deploy exits 0 when complete, 3 when activation is still pending, 1 otherwise")
	fmt.Fprintln(w, "  - keys are stored under ~/.routeplane/keys/<name> (0600 private key files)")
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
