package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dosecore/internal/devices"
	"dosecore/internal/logging"
	"dosecore/pkg/domain"
)

type result struct {
	stdout string
	stderr string
	err    error
}

func run(t *testing.T, args ...string) result {
	t.Helper()
	t.Setenv(logging.EnvLogLevel, "error")
	var stdout, stderr bytes.Buffer
	err := Execute(context.Background(), args, &stdout, &stderr)
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	res := run(t, args...)
	if res.err != nil {
		t.Fatalf("%v: %v\nstderr: %s", args, res.err, res.stderr)
	}
	return res.stdout
}

func decode(t *testing.T, raw string, out any) {
	t.Helper()
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
}

func TestCalcCommand(t *testing.T) {
	out := mustRun(t, "calc", "--vial", "10", "--water", "2", "--dose", "0.25", "--frequency", "weekly")
	var got domain.CalculatorOutput
	decode(t, out, &got)
	if got.Concentration != 5 || got.DrawUnits != 5 {
		t.Fatalf("unexpected calculation %+v", got)
	}
	if got.RecommendedDevice.ID == "" {
		t.Fatalf("expected a recommended device")
	}

	res := run(t, "calc", "--vial", "10", "--water", "2", "--dose", "0.25", "--frequency", "hourly")
	if res.err == nil || !strings.Contains(res.err.Error(), "unknown frequency") {
		t.Fatalf("expected frequency error, got %v", res.err)
	}
	res = run(t, "calc", "--vial", "10", "--water", "0", "--dose", "0.25")
	if res.err == nil {
		t.Fatalf("expected calculation error for zero water")
	}
}

func TestSupplyAndUrgencyCommands(t *testing.T) {
	out := mustRun(t, "supply", "--vial", "10", "--water", "2", "--dose", "0.25", "--days", "mon", "--cost", "80", "--on-hand", "0.1", "--lead-time", "10")
	var plan domain.SupplyOutput
	decode(t, out, &plan)
	if plan.MonthlyCost == nil || plan.Alert == nil {
		t.Fatalf("expected cost and alert, got %+v", plan)
	}
	if plan.LeadTimeDays != 10 || plan.BufferPercent != 10 {
		t.Fatalf("expected flag lead time and config buffer, got %+v", plan)
	}

	out = mustRun(t, "urgency", "--days-remaining", "2")
	var alert domain.ReorderAlert
	decode(t, out, &alert)
	if alert.Urgency != domain.UrgencyCritical || !alert.ShouldReorder {
		t.Fatalf("unexpected alert %+v", alert)
	}
	out = mustRun(t, "urgency", "--days-remaining", "30", "--reorder-point", "5")
	decode(t, out, &alert)
	if alert.Urgency != domain.UrgencyLow || alert.ShouldReorder {
		t.Fatalf("unexpected alert %+v", alert)
	}
}

func TestDevicesCommand(t *testing.T) {
	var got []deviceView
	decode(t, mustRun(t, "devices"), &got)
	largest := 0
	found := false
	for _, d := range got {
		if d.Largest {
			largest++
		}
		if d.ID == devices.Insulin03ID {
			found = true
		}
	}
	if !found || largest != 1 {
		t.Fatalf("unexpected catalog %+v", got)
	}
}

const protocolDoc = `{
  "name": "cut",
  "metadata": {"goal": "weight"},
  "peptides": [{
    "id": "e1",
    "peptide_id": "semaglutide",
    "name": "Semaglutide",
    "dose": {"per_injection_mg": 0.25, "schedule": {"interval_days": 7, "injections_per_week": 1, "pattern": "weekly"}, "device_id": "insulin-0.3"},
    "timing": {},
    "supply": {"vial_size_mg": 10, "reconstitution_volume_ml": 2}
  }]
}`

type recordView struct {
	Type     domain.ProtocolState `json:"type"`
	Protocol struct {
		ID       string  `json:"id"`
		Name     string  `json:"name"`
		Version  int     `json:"version"`
		ParentID *string `json:"parent_id"`
	} `json:"protocol"`
	Validation struct {
		Valid  bool                     `json:"valid"`
		Issues []domain.ValidationIssue `json:"issues"`
	} `json:"validation"`
}

func TestProtocolCommandsPersist(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "doses.db")
	doc := filepath.Join(dir, "protocol.json")
	if err := os.WriteFile(doc, []byte(protocolDoc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	var created recordView
	decode(t, mustRun(t, "--db", db, "protocol", "create", "--file", doc), &created)
	id := created.Protocol.ID
	if id == "" || created.Type != domain.StateDraft || created.Protocol.Name != "cut" {
		t.Fatalf("unexpected draft %+v", created)
	}

	var validated recordView
	decode(t, mustRun(t, "--db", db, "protocol", "validate", id), &validated)
	if !validated.Validation.Valid {
		t.Fatalf("expected valid draft")
	}

	var active recordView
	decode(t, mustRun(t, "--db", db, "protocol", "activate", id), &active)
	if active.Type != domain.StateActive || active.Protocol.Version != 2 {
		t.Fatalf("unexpected active %+v", active)
	}

	if res := run(t, "--db", db, "protocol", "delete", id); res.err == nil || !strings.Contains(res.err.Error(), "only drafts") {
		t.Fatalf("expected delete of active to fail, got %v", res.err)
	}
	if res := run(t, "--db", db, "protocol", "edit", id, "--name", "x"); res.err == nil {
		t.Fatalf("expected edit of active to fail")
	}

	var next recordView
	decode(t, mustRun(t, "--db", db, "protocol", "draft", id, "--name", "maintenance"), &next)
	if next.Protocol.ParentID == nil || *next.Protocol.ParentID != id || next.Protocol.Name != "maintenance" {
		t.Fatalf("unexpected derived draft %+v", next)
	}

	var edited recordView
	decode(t, mustRun(t, "--db", db, "protocol", "edit", next.Protocol.ID, "--name", "maint"), &edited)
	if edited.Protocol.Name != "maint" || edited.Validation.Valid {
		t.Fatalf("unexpected edit %+v", edited)
	}

	var summaries []protocolSummary
	decode(t, mustRun(t, "--db", db, "protocol", "list", "--state", "active"), &summaries)
	if len(summaries) != 1 || summaries[0].ID != id || !summaries[0].Valid {
		t.Fatalf("unexpected active list %+v", summaries)
	}
	decode(t, mustRun(t, "--db", db, "protocol", "list", "--parent", id), &summaries)
	if len(summaries) != 1 || summaries[0].ParentID != id {
		t.Fatalf("unexpected child list %+v", summaries)
	}

	mustRun(t, "--db", db, "protocol", "delete", next.Protocol.ID)
	if res := run(t, "--db", db, "protocol", "show", next.Protocol.ID); res.err == nil || !strings.Contains(res.err.Error(), "not found") {
		t.Fatalf("expected deleted draft to be gone, got %v", res.err)
	}

	var completed recordView
	decode(t, mustRun(t, "--db", db, "protocol", "complete", id), &completed)
	if completed.Type != domain.StateCompleted {
		t.Fatalf("unexpected completed %+v", completed)
	}

	if res := run(t, "--db", db, "protocol", "list", "--state", "archived"); res.err == nil {
		t.Fatalf("expected unknown state error")
	}
}

func TestProtocolCreateFromStdinWithMemoryConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "dosecore.yaml")
	if err := os.WriteFile(cfgPath, []byte("storage:\n  driver: memory\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(logging.EnvLogLevel, "error")
	var stdout, stderr bytes.Buffer
	root := NewRootCmd(&stdout, &stderr)
	root.SetIn(strings.NewReader(protocolDoc))
	root.SetArgs([]string{"--config", cfgPath, "protocol", "create", "--file", "-", "--name", "from stdin"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("create: %v", err)
	}
	var created recordView
	decode(t, stdout.String(), &created)
	if created.Protocol.Name != "from stdin" {
		t.Fatalf("unexpected name %q", created.Protocol.Name)
	}

	var summaries []protocolSummary
	decode(t, mustRun(t, "--config", cfgPath, "protocol", "list"), &summaries)
	if len(summaries) != 0 {
		t.Fatalf("memory store must not persist across invocations, got %+v", summaries)
	}
}

func TestMetricsAndTraceFlags(t *testing.T) {
	trace := filepath.Join(t.TempDir(), "trace.jsonl")
	res := run(t, "--metrics", "--trace-file", trace, "calc", "--vial", "10", "--water", "2", "--dose", "0.25")
	if res.err != nil {
		t.Fatalf("calc: %v", res.err)
	}
	if !strings.Contains(res.stderr, `dosecore_service_operations_total{operation="calculate",status="success"} 1`) {
		t.Fatalf("expected metrics dump, got %q", res.stderr)
	}
	data, err := os.ReadFile(trace)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if !strings.Contains(string(data), `"operation":"calculate"`) {
		t.Fatalf("expected calculate span, got %q", data)
	}

	res = run(t, "--metrics", "calc", "--vial", "10", "--water", "0", "--dose", "0.25")
	if res.err == nil || !strings.Contains(res.stderr, `status="error"`) {
		t.Fatalf("failed commands still dump metrics, got err=%v stderr=%q", res.err, res.stderr)
	}
}

func TestParseFrequency(t *testing.T) {
	cases := []struct {
		pattern string
		days    string
		want    float64
		wantErr bool
	}{
		{"daily", "", 7, false},
		{"Twice_Weekly", "", 2, false},
		{"weekly", "mon, thu,sat", 3, false},
		{"", "funday", 0, true},
		{"fortnightly", "", 0, true},
	}
	for _, tc := range cases {
		got, err := parseFrequency(tc.pattern, tc.days)
		if (err != nil) != tc.wantErr {
			t.Fatalf("parseFrequency(%q,%q) err=%v", tc.pattern, tc.days, err)
		}
		if err == nil && got.InjectionsPerWeek != tc.want {
			t.Fatalf("parseFrequency(%q,%q) = %+v", tc.pattern, tc.days, got)
		}
	}
}

func TestBadConfigFails(t *testing.T) {
	res := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "devices")
	if res.err == nil || !strings.Contains(res.err.Error(), "config load failed") {
		t.Fatalf("expected config error, got %v", res.err)
	}
}

func TestProtocolEditReplacesPeptides(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "doses.db")
	doc := filepath.Join(dir, "protocol.json")
	edit := filepath.Join(dir, "edit.json")
	if err := os.WriteFile(doc, []byte(protocolDoc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(edit, []byte(`{"peptides":[{"id":"e1","peptide_id":"bpc-157"}]}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	var created recordView
	decode(t, mustRun(t, "--db", db, "protocol", "create", "--file", doc), &created)
	id := created.Protocol.ID
	mustRun(t, "--db", db, "protocol", "edit", id, "--file", edit)

	var validated recordView
	decode(t, mustRun(t, "--db", db, "protocol", "validate", id), &validated)
	if validated.Validation.Valid {
		t.Fatalf("peptide without a dose must not validate")
	}
	fields := map[string]bool{}
	for _, issue := range validated.Validation.Issues {
		if issue.Type == domain.IssueMissingData {
			fields[issue.Meta["field"]] = true
		}
	}
	if !fields["dose"] || !fields["device"] {
		t.Fatalf("expected missing dose and device, got %+v", validated.Validation.Issues)
	}
	if validated.Protocol.Name != "cut" {
		t.Fatalf("name absent from the edit must be kept, got %q", validated.Protocol.Name)
	}
}

func TestApplyEdit(t *testing.T) {
	dose := &domain.PeptideDosePlan{PerInjectionMg: 0.25, DeviceID: devices.Insulin03ID}
	base := domain.ProtocolBase{
		ID:       "p1",
		Name:     "cut",
		Metadata: domain.ProtocolMetadata{Goal: "weight"},
		Peptides: []domain.ProtocolPeptide{{ID: "e1", PeptideID: "semaglutide", Dose: dose}},
	}

	p := base.Clone()
	if err := applyEdit(&p, []byte(`{"peptides":[{"id":"e1","peptide_id":"bpc-157"}]}`)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(p.Peptides) != 1 || p.Peptides[0].Dose != nil || p.Peptides[0].PeptideID != "bpc-157" {
		t.Fatalf("peptides must be replaced, got %+v", p.Peptides)
	}
	if p.Name != "cut" || p.Metadata.Goal != "weight" {
		t.Fatalf("absent fields must be kept, got %+v", p)
	}

	p = base.Clone()
	if err := applyEdit(&p, []byte(`{"name":"maint","peptides":[]}`)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if p.Name != "maint" || len(p.Peptides) != 0 {
		t.Fatalf("unexpected edit %+v", p)
	}

	if err := applyEdit(&p, []byte(`[1]`)); err == nil {
		t.Fatalf("expected decode error for a non-object document")
	}
}
