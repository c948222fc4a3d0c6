package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sort"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/Strob0t/arbiter/internal/config"
	"github.com/Strob0t/arbiter/internal/domain/escalation"
	"github.com/Strob0t/arbiter/internal/domain/provenance"
	"github.com/Strob0t/arbiter/internal/service"
)

// errChainBroken makes `arbiter verify` exit non-zero on a broken chain.
var errChainBroken = errors.New("provenance chain broken")

// auditFlags are shared by the read-only subcommands.
type auditFlags struct {
	configPath string
	path       string
	asJSON     bool
}

func (a *auditFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&a.configPath, "config", "", "path to YAML config")
	fs.StringVar(&a.configPath, "c", "", "path to YAML config (shorthand)")
	fs.StringVar(&a.path, "provenance", "", "JSONL provenance log path (overrides config)")
	fs.BoolVar(&a.asJSON, "json", false, "print JSON (default when stdout is not a terminal)")
}

// openAudit loads config and opens the provenance log without touching
// providers, NATS or the HTTP stack.
func (a *auditFlags) openAudit(ctx context.Context) (*service.ProvenanceService, func(), error) {
	var flags config.CLIFlags
	if a.configPath != "" {
		flags.ConfigPath = &a.configPath
	}
	if a.path != "" {
		flags.Provenance = &a.path
	}
	cfg, _, err := config.LoadWithCLI(flags)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open provenance log: %w", err)
	}
	return service.NewProvenanceService(store, nil), func() { _ = store.Close() }, nil
}

// wantJSON reports whether output should be JSON: asked for, or piped.
func (a *auditFlags) wantJSON(w io.Writer) bool {
	if a.asJSON {
		return true
	}
	f, ok := w.(*os.File)
	return !ok || !term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runHistory(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	var af auditFlags
	af.register(fs)
	id := fs.String("id", "", "decision request id (or first argument)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" && fs.NArg() > 0 {
		*id = fs.Arg(0)
	}
	if *id == "" {
		return fmt.Errorf("history: a request id is required")
	}

	ctx := context.Background()
	prov, cleanup, err := af.openAudit(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := prov.History(ctx, *id)
	if err != nil {
		return err
	}
	if af.wantJSON(stdout) {
		return writeJSONOut(stdout, records)
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEQ\tTIME\tKIND\tOUTCOME\tREASONS\tCONFIDENCE\tACTOR\tHASH")
	for i := range records {
		r := &records[i]
		actor := "-"
		if r.HumanAction != nil && r.HumanAction.Actor != "" {
			actor = r.HumanAction.Actor
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\t%.3f\t%s\t%s\n",
			r.Sequence, r.Timestamp.Format("2006-01-02 15:04:05"), r.Kind, r.Escalation.Outcome,
			r.Escalation.ReasonCodes, r.Consensus.AggregateConfidence, actor, shortHash(r.Hash))
	}
	return w.Flush()
}

func runAnalyze(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	var af auditFlags
	af.register(fs)
	days := fs.Int("days", 7, "window in days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	prov, cleanup, err := af.openAudit(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := prov.Analyze(ctx, *days)
	if err != nil {
		return err
	}
	if af.wantJSON(stdout) {
		return writeJSONOut(stdout, stats)
	}
	return printStats(stdout, &stats)
}

func printStats(out io.Writer, s *provenance.Stats) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window\t%s .. %s\n", s.Since.Format("2006-01-02"), s.Until.Format("2006-01-02"))
	_, _ = fmt.Fprintf(w, "Decisions\t%d\n", s.Decisions)
	_, _ = fmt.Fprintf(w, "Resolutions\t%d\n", s.Resolutions)
	_, _ = fmt.Fprintf(w, "Escalation rate\t%.1f%%\n", s.EscalationRate*100)
	_, _ = fmt.Fprintf(w, "Override rate\t%.1f%%\n", s.OverrideRate*100)
	_, _ = fmt.Fprintf(w, "Avg confidence\t%.3f\n", s.AverageConfidence)
	_, _ = fmt.Fprintf(w, "Avg response confidence\t%.3f\n", s.AverageResponseConfidence)
	for _, kind := range slices.Sorted(maps.Keys(s.Abstentions)) {
		_, _ = fmt.Fprintf(w, "Abstained (%s)\t%d\n", kind, s.Abstentions[kind])
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "OUTCOME\tINITIAL\tFINAL")
	seen := make(map[escalation.Outcome]bool, len(s.ByOutcome)+len(s.FinalOutcomes))
	outcomes := make([]escalation.Outcome, 0, len(seen))
	for _, m := range []map[escalation.Outcome]int{s.ByOutcome, s.FinalOutcomes} {
		for o := range m {
			if !seen[o] {
				seen[o] = true
				outcomes = append(outcomes, o)
			}
		}
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })
	for _, o := range outcomes {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\n", o, s.ByOutcome[o], s.FinalOutcomes[o])
	}

	if len(s.Providers) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "PROVIDER\tCALLS\tOK\tFAILED\tFAILURE_RATE\tATTEMPTS\tAVG_LATENCY_MS")
		for _, p := range s.Providers {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\t%d\t%.0f\n",
				p.Provider, p.Calls, p.Successes, p.Failures, p.FailureRate*100, p.Attempts, p.AvgLatencyMs)
		}
	}
	return w.Flush()
}

func runVerify(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	var af auditFlags
	af.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	prov, cleanup, err := af.openAudit(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rep, err := prov.Verify(ctx)
	if err != nil {
		return err
	}
	if af.wantJSON(stdout) {
		if err := writeJSONOut(stdout, rep); err != nil {
			return err
		}
	} else if rep.Valid {
		_, _ = fmt.Fprintf(stdout, "OK: %d records, last sequence %d, head %s\n", rep.Records, rep.LastSeq, shortHash(rep.Head))
	} else {
		_, _ = fmt.Fprintf(stdout, "BROKEN at sequence %d: %s\n", rep.BrokenAt, rep.Problem)
	}
	if !rep.Valid {
		return errChainBroken
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
