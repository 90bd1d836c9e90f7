package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"xdao.co/routeplane/config"
	"xdao.co/routeplane/manifest"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/network/registry"
	"xdao.co/routeplane/observability"
	"xdao.co/routeplane/orchestrator"
)

// env is everything a config-driven command needs.
type env struct {
	cfg      config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	journal  *orchestrator.Journal
	orch     *orchestrator.Orchestrator
	closers  []func() error
}

func openEnv(ctx context.Context, cfgPath string, errOut io.Writer) (*env, error) {
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger("routeplane", cfg.Log.Format, cfg.Log.Level, errOut)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	e := &env{cfg: cfg, log: logger, registry: reg}
	nets, closeNets, err := cfg.Open(ctx, registry.UsageCLI, func(s *registry.Spec) {
		s.Logger = logger
		s.Metrics = metrics
	})
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, closeNets)

	if cfg.Journal != "" {
		j, err := orchestrator.OpenJournal(cfg.Journal)
		if err != nil {
			e.close()
			return nil, err
		}
		e.journal = j
		e.closers = append(e.closers, j.Close)
	}

	e.orch, err = orchestrator.New(nets, orchestrator.Options{
		Operator:          cfg.Operator,
		Parallelism:       cfg.Parallelism,
		PollInterval:      cfg.PollInterval.Duration,
		ActivationTimeout: cfg.ActivationTimeout.Duration,
		Logger:            &logger,
		Metrics:           metrics,
		Journal:           e.journal,
	})
	if err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.Warn().Err(err).Msg("close")
		}
	}
}

func (e *env) writeMetrics(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, e.registry)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// parseBindings turns selector=file pairs into deduplicated contents and
// bindings, in flag order.
func parseBindings(binds []string) ([][]byte, []orchestrator.Binding, error) {
	var contents [][]byte
	index := make(map[string]int)
	bindings := make([]orchestrator.Binding, 0, len(binds))
	for _, b := range binds {
		sel, path, ok := strings.Cut(b, "=")
		if !ok || sel == "" || path == "" {
			return nil, nil, fmt.Errorf("--bind %q: want <selector>=<file>", b)
		}
		s, err := model.ParseSelector(sel)
		if err != nil {
			return nil, nil, fmt.Errorf("--bind %q: %w", b, err)
		}
		i, seen := index[path]
		if !seen {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, nil, err
			}
			i = len(contents)
			index[path] = i
			contents = append(contents, data)
		}
		bindings = append(bindings, orchestrator.Binding{Selector: s, Content: i})
	}
	return contents, bindings, nil
}

func printReport(out io.Writer, plan *orchestrator.Plan, r *orchestrator.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	fmt.Fprintf(out, "plan %s root %s epoch %d\n", r.PlanID, plan.Root, plan.Epoch)
	for _, res := range r.Results {
		switch res.State {
		case orchestrator.StateFailed:
			fmt.Fprintf(out, "  %s\t%s\tat %s: %s\n", res.Network, res.State, res.Step, res.Error)
		case orchestrator.StatePending:
			fmt.Fprintf(out, "  %s\t%s\tactivatable at %d\n", res.Network, res.State, res.ActivatableAt)
		default:
			fmt.Fprintf(out, "  %s\t%s\n", res.Network, res.State)
		}
	}
	fmt.Fprintf(out, "status: %s\n", r.Status)
	return nil
}

func exitCode(s orchestrator.Status) int {
	switch s {
	case orchestrator.StatusComplete:
		return 0
	case orchestrator.StatusPending:
		return 3
	default:
		return 1
	}
}

func cmdDeploy(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("deploy", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var cfgPath, version, manifestOut, previous, metricsFile string
	var epoch uint64
	var binds stringList
	var asJSON bool
	var sf signerFlags

	fs.StringVar(&cfgPath, "config", "", "Config file (.yaml, .yml or .toml)")
	fs.StringVar(&version, "version", "", "Human-readable version string")
	fs.Uint64Var(&epoch, "epoch", 0, "Epoch to commit")
	fs.Var(&binds, "bind", "Route <selector>=<file> (repeatable, in manifest order)")
	fs.StringVar(&manifestOut, "manifest-out", "", "Write the plan's manifest here")
	fs.StringVar(&previous, "previous", "", "Previous manifest, chained into --manifest-out")
	fs.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics here on exit")
	fs.BoolVar(&asJSON, "json", false, "Print the report as JSON")
	sf.register(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if cfgPath == "" || version == "" || epoch == 0 || len(binds) == 0 {
		fmt.Fprintln(errOut, "missing --config, --version, --epoch or --bind")
		return 2
	}
	if err := sf.check(); err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	contents, bindings, err := parseBindings(binds)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --bind: %v\n", err)
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()
	e, err := openEnv(ctx, cfgPath, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "setup: %v\n", err)
		return 1
	}
	defer e.close()

	plan, err := e.orch.Plan(ctx, orchestrator.Request{
		Version:  version,
		Epoch:    epoch,
		Contents: contents,
		Bindings: bindings,
	})
	if err != nil {
		fmt.Fprintf(errOut, "plan: %v\n", err)
		return 1
	}

	if manifestOut != "" {
		h := manifest.Header{
			Version:   version,
			Timestamp: time.Now().UTC().Unix(),
			Network:   strings.Join(plan.Networks, ","),
			Epoch:     epoch,
		}
		if !sf.set() {
			h.Deployer = e.cfg.Operator
		}
		m, err := buildManifest(h, plan.Entries(), previous, sf)
		if err != nil {
			fmt.Fprintf(errOut, "manifest: %v\n", err)
			return 1
		}
		if m.Root != plan.Root {
			fmt.Fprintf(errOut, "manifest root %s differs from plan root %s\n", m.Root, plan.Root)
			return 1
		}
		if err := m.Save(manifestOut); err != nil {
			fmt.Fprintf(errOut, "write manifest: %v\n", err)
			return 1
		}
	}

	report, err := e.orch.Execute(ctx, plan)
	if report == nil {
		fmt.Fprintf(errOut, "execute: %v\n", err)
		return 1
	}
	if err != nil {
		fmt.Fprintf(errOut, "warning: %v\n", err)
	}
	if err := printReport(out, plan, report, asJSON); err != nil {
		fmt.Fprintf(errOut, "print: %v\n", err)
		return 1
	}
	if err := e.writeMetrics(metricsFile); err != nil {
		fmt.Fprintf(errOut, "write metrics: %v\n", err)
	}
	return exitCode(report.Status)
}

func cmdResume(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var cfgPath, planID, metricsFile string
	var asJSON bool
	fs.StringVar(&cfgPath, "config", "", "Config file (.yaml, .yml or .toml)")
	fs.StringVar(&planID, "plan", "", "Journaled plan ID")
	fs.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics here on exit")
	fs.BoolVar(&asJSON, "json", false, "Print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if cfgPath == "" || planID == "" {
		fmt.Fprintln(errOut, "missing --config or --plan")
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()
	e, err := openEnv(ctx, cfgPath, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "setup: %v\n", err)
		return 1
	}
	defer e.close()
	if e.journal == nil {
		fmt.Fprintln(errOut, "resume requires a journal in the config")
		return 2
	}
	plan, err := e.journal.LoadPlan(ctx, planID)
	if err != nil {
		fmt.Fprintf(errOut, "load plan: %v\n", err)
		return 1
	}
	report, err := e.orch.Execute(ctx, plan)
	if report == nil {
		fmt.Fprintf(errOut, "resume: %v\n", err)
		return 1
	}
	if err != nil {
		fmt.Fprintf(errOut, "warning: %v\n", err)
	}
	if err := printReport(out, plan, report, asJSON); err != nil {
		fmt.Fprintf(errOut, "print: %v\n", err)
		return 1
	}
	if err := e.writeMetrics(metricsFile); err != nil {
		fmt.Fprintf(errOut, "write metrics: %v\n", err)
	}
	return exitCode(report.Status)
}

func cmdVerify(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var cfgPath, planID string
	var asJSON bool
	fs.StringVar(&cfgPath, "config", "", "Config file (.yaml, .yml or .toml)")
	fs.StringVar(&planID, "plan", "", "Journaled plan ID")
	fs.BoolVar(&asJSON, "json", false, "Print the consistency report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if cfgPath == "" || planID == "" {
		fmt.Fprintln(errOut, "missing --config or --plan")
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()
	e, err := openEnv(ctx, cfgPath, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "setup: %v\n", err)
		return 1
	}
	defer e.close()
	if e.journal == nil {
		fmt.Fprintln(errOut, "verify requires a journal in the config")
		return 2
	}
	plan, err := e.journal.LoadPlan(ctx, planID)
	if err != nil {
		fmt.Fprintf(errOut, "load plan: %v\n", err)
		return 1
	}
	cons, err := e.orch.VerifyConsistency(ctx, plan)
	if cons == nil {
		fmt.Fprintf(errOut, "verify: %v\n", err)
		return 1
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(cons)
	} else {
		for _, n := range cons.Networks {
			fmt.Fprintf(out, "  %s\tactive %s@%d\t%d discrepancy(ies)\n", n.Network, n.ActiveRoot, n.ActiveEpoch, len(n.Discrepancies))
			for _, d := range n.Discrepancies {
				fmt.Fprintf(out, "    %s\n", d)
			}
		}
	}
	if err != nil {
		if errors.Is(err, model.ErrConsistencyMismatch) {
			fmt.Fprintln(out, "INCONSISTENT")
		} else {
			fmt.Fprintf(errOut, "verify: %v\n", err)
		}
		return 1
	}
	_, _ = fmt.Fprintln(out, "OK")
	return 0
}

func cmdPlans(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("plans", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var cfgPath string
	fs.StringVar(&cfgPath, "config", "", "Config file (.yaml, .yml or .toml)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if cfgPath == "" {
		fmt.Fprintln(errOut, "missing --config")
		return 2
	}
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return 1
	}
	if cfg.Journal == "" {
		fmt.Fprintln(errOut, "config has no journal")
		return 2
	}
	j, err := orchestrator.OpenJournal(cfg.Journal)
	if err != nil {
		fmt.Fprintf(errOut, "journal: %v\n", err)
		return 1
	}
	defer j.Close()
	plans, err := j.Plans(context.Background())
	if err != nil {
		fmt.Fprintf(errOut, "list plans: %v\n", err)
		return 1
	}
	for _, p := range plans {
		status := string(p.Status)
		if status == "" {
			status = "planned"
		}
		fmt.Fprintf(out, "%s\t%s\tepoch %d\t%s\t%s\n", p.ID, p.Version, p.Epoch, status, p.CreatedAt.Format(time.RFC3339))
	}
	return 0
}

func cmdBackends(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("backends", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	for _, b := range registry.List(registry.UsageCLI) {
		if b.Description == "" {
			_, _ = fmt.Fprintf(out, "%s\n", b.Name)
			continue
		}
		_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
	}
	return 0
}
