package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/arbiter/internal/adapter/jsonl"
	"github.com/Strob0t/arbiter/internal/config"
	"github.com/Strob0t/arbiter/internal/domain/consensus"
	"github.com/Strob0t/arbiter/internal/domain/decision"
	"github.com/Strob0t/arbiter/internal/domain/escalation"
	"github.com/Strob0t/arbiter/internal/domain/provenance"
	"github.com/Strob0t/arbiter/internal/port/notifier"
	"github.com/Strob0t/arbiter/internal/service"
)

func TestRunUnknownCommand(t *testing.T) {
	if err := run([]string{"frobnicate"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"version"}, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "arbiter ") {
		t.Errorf("output = %q", out.String())
	}
}

func TestBuildPolicy(t *testing.T) {
	p := buildPolicy(config.Policy{
		RiskThreshold:      40,
		DisagreementMetric: "range",
		VetoRoles:          []string{"safety"},
		VetoConfidence:     0.9,
		RequireHuman:       true,
	})
	if p.RiskThreshold != 40 || p.DisagreementMetric != consensus.MetricRange {
		t.Errorf("policy = %+v", p)
	}
	if len(p.VetoRoles) != 1 || p.VetoConfidence != 0.9 {
		t.Errorf("veto = %v %v", p.VetoRoles, p.VetoConfidence)
	}
	if !p.RequireHuman {
		t.Error("require_human not carried into policy")
	}
}

func TestBuildBindingsDryRun(t *testing.T) {
	cfg := config.Defaults()
	cfg.DryRun = true
	bindings, err := buildBindings(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(bindings) != len(cfg.Providers) {
		t.Fatalf("bindings = %d, want %d", len(bindings), len(cfg.Providers))
	}
	for i, b := range bindings {
		if b.Provider.ID() != cfg.Providers[i].ID {
			t.Errorf("binding %d id = %s", i, b.Provider.ID())
		}
		reply, err := b.Provider.Invoke(context.Background(), "prompt", time.Second)
		if err != nil || !strings.Contains(reply, "approve") {
			t.Errorf("dry-run reply = %q, %v", reply, err)
		}
	}
}

func TestBuildBindingsUnknownKind(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers = []config.Provider{{ID: "x", Kind: "carrier-pigeon"}}
	if _, err := buildBindings(&cfg); err == nil {
		t.Fatal("expected error for unknown provider kind")
	}
}

func TestNotifierConfigsSkipUnconfigured(t *testing.T) {
	notifiers, err := notifier.Build(notifierConfigs(config.Notify{SlackWebhookURL: "https://hooks.slack.example/x"}))
	if err != nil {
		t.Fatal(err)
	}
	if len(notifiers) != 1 || notifiers[0].Name() != "slack" {
		t.Errorf("notifiers = %v", notifiers)
	}
}

func TestCapabilityTable(t *testing.T) {
	table := capabilityTable(map[string]string{"safety": "claude"})
	if table[decision.RoleSafety] != "claude" {
		t.Errorf("table = %v", table)
	}
}

// seedLog writes one auto-approved and one escalated decision.
func seedLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provenance.jsonl")
	store, err := jsonl.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	prov := service.NewProvenanceService(store, nil)
	for _, o := range []escalation.Outcome{escalation.AutoApproved, escalation.AwaitingHuman} {
		id := "req-" + string(o)
		rec := &provenance.Record{
			Kind:      provenance.KindDecision,
			RequestID: id,
			Request: decision.Request{
				ID: id, RiskScore: 10, RequiredRoles: []decision.Role{decision.RoleAnalysis},
			},
			Escalation: escalation.Decision{RequestID: id, Outcome: o},
		}
		if err := prov.Append(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func auditArgs(t *testing.T, path string, extra ...string) []string {
	missing := filepath.Join(t.TempDir(), "none.yaml")
	return append([]string{"-c", missing, "-provenance", path}, extra...)
}

func TestHistoryCommand(t *testing.T) {
	path := seedLog(t)
	var out bytes.Buffer
	if err := run(append([]string{"history"}, auditArgs(t, path, "-id", "req-awaiting_human")...), &out); err != nil {
		t.Fatal(err)
	}
	var records []provenance.Record
	if err := json.Unmarshal(out.Bytes(), &records); err != nil {
		t.Fatalf("piped output is not JSON: %v", err)
	}
	if len(records) != 1 || records[0].Sequence != 2 {
		t.Errorf("records = %+v", records)
	}

	out.Reset()
	if err := run(append([]string{"history"}, auditArgs(t, path, "req-auto_approved")...), &out); err != nil {
		t.Fatalf("positional id: %v", err)
	}
	if err := json.Unmarshal(out.Bytes(), &records); err != nil || len(records) != 1 || records[0].Sequence != 1 {
		t.Errorf("positional id records = %+v, err %v", records, err)
	}

	if err := run(append([]string{"history"}, auditArgs(t, path)...), &out); err == nil {
		t.Error("expected error without -id")
	}
}

func TestAnalyzeCommand(t *testing.T) {
	path := seedLog(t)
	var out bytes.Buffer
	if err := run(append([]string{"analyze"}, auditArgs(t, path, "-days", "1")...), &out); err != nil {
		t.Fatal(err)
	}
	var stats provenance.Stats
	if err := json.Unmarshal(out.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Decisions != 2 || stats.EscalationRate != 0.5 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPrintStatsTable(t *testing.T) {
	var out bytes.Buffer
	err := printStats(&out, &provenance.Stats{
		Decisions:     2,
		ByOutcome:     map[escalation.Outcome]int{escalation.AwaitingHuman: 1, escalation.AutoApproved: 1},
		FinalOutcomes: map[escalation.Outcome]int{escalation.HumanApproved: 1, escalation.AutoApproved: 1},
		Providers:     []provenance.ProviderStats{{Provider: "gpt", Calls: 2, Successes: 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"auto_approved", "human_approved", "awaiting_human", "gpt"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("table missing %q:\n%s", want, out.String())
		}
	}
}

func TestVerifyCommand(t *testing.T) {
	path := seedLog(t)
	var out bytes.Buffer
	if err := run(append([]string{"verify"}, auditArgs(t, path)...), &out); err != nil {
		t.Fatalf("verify intact log: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := bytes.Replace(data, []byte(`"risk_score":10`), []byte(`"risk_score":11`), 1)
	if err := os.WriteFile(path, tampered, 0o600); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	err = run(append([]string{"verify"}, auditArgs(t, path)...), &out)
	if !errors.Is(err, errChainBroken) {
		t.Fatalf("err = %v, want errChainBroken", err)
	}
	var rep provenance.VerifyReport
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Valid || rep.BrokenAt != 1 {
		t.Errorf("report = %+v", rep)
	}
}
