package main

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aegis-labs/govern/pkg/approval"
	"github.com/aegis-labs/govern/pkg/audit"
	"github.com/aegis-labs/govern/pkg/budget"
	"github.com/aegis-labs/govern/pkg/compliance"
	"github.com/aegis-labs/govern/pkg/config"
	"github.com/aegis-labs/govern/pkg/governance"
	"github.com/aegis-labs/govern/pkg/observability"
	"github.com/aegis-labs/govern/pkg/store"

	_ "github.com/lib/pq" // Postgres driver
)

//go:embed request_schema.json
var requestSchemaJSON string

// runDecide implements `govern decide`.
//
// Exit codes:
//
//	0 = allow (or warn)
//	1 = deny
//	2 = invalid request shape or runtime error
func runDecide(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("decide", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		requestPath string
		jsonOutput  bool
		profilesDir string
		inspect     bool
	)

	cmd.StringVar(&requestPath, "request", "", "Path to the action request JSON (REQUIRED, \"-\" for stdin)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output decision as JSON to stdout")
	cmd.StringVar(&profilesDir, "profiles", "", "Directory of policy profile YAML files")
	cmd.BoolVar(&inspect, "inspect", false, "Run cloud compliance checks against the profile's resources")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if requestPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -request is required")
		return 2
	}

	data, err := readRequest(requestPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	req, err := parseRequest(data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: invalid request: %v\n", err)
		return 2
	}

	ctx := context.Background()
	cfg := config.Load()

	violationExpr := ""
	var resources []string
	if profilesDir != "" {
		profile, perr := config.LoadProfile(profilesDir, req.Environment)
		if perr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", perr)
			return 2
		}
		profile.Apply(cfg)
		violationExpr = profile.ViolationPolicy
		resources = profile.Compliance.Resources
	}

	engine, provider, cleanup, err := buildEngine(ctx, cfg, violationExpr, resources, inspect)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer cleanup()

	decision, err := decide(ctx, engine, provider, req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(decision, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(out))
	} else {
		printDecision(stdout, decision)
	}

	if decision.Decision == governance.OutcomeDeny {
		return 1
	}
	return 0
}

func readRequest(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// parseRequest validates the document against the embedded schema before
// unmarshalling, so shape errors surface with field-level messages.
func parseRequest(data []byte) (governance.ActionRequest, error) {
	var req governance.ActionRequest

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("request.schema.json", strings.NewReader(requestSchemaJSON)); err != nil {
		return req, fmt.Errorf("load request schema: %w", err)
	}
	schema, err := compiler.Compile("request.schema.json")
	if err != nil {
		return req, fmt.Errorf("compile request schema: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return req, fmt.Errorf("parse JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return req, err
	}

	if err := json.Unmarshal(data, &req); err != nil {
		return req, err
	}
	return req, nil
}

// decide runs one pipeline pass. With telemetry configured it is wrapped in
// a span whose close callback records the decision metrics.
func decide(ctx context.Context, engine *governance.Engine, provider *observability.Provider, req governance.ActionRequest) (*governance.Decision, error) {
	if provider == nil {
		return engine.Decide(ctx, req)
	}
	ctx, done := provider.TrackDecision(ctx, req.AgentID)
	decision, err := engine.Decide(ctx, req)
	outcome := "error"
	if decision != nil {
		outcome = string(decision.Decision)
	}
	done(outcome, err)
	return decision, err
}

// buildEngine wires the pipeline from configuration. The provider is nil
// when no OTLP endpoint is set; the returned cleanup closes whatever durable
// handles were opened.
func buildEngine(ctx context.Context, cfg *config.Config, violationExpr string, resources []string, inspect bool) (*governance.Engine, *observability.Provider, func(), error) {
	recordStore, closeStore, err := openRecordStore(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	var sink audit.Sink
	var provider *observability.Provider
	var shutdownTelemetry func()
	if cfg.OTLPEndpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.Insecure = true
		provider, err = observability.New(ctx, obsCfg)
		if err != nil {
			closeStore()
			return nil, nil, nil, err
		}
		sink = observability.NewSink(provider)
		shutdownTelemetry = func() { _ = provider.Shutdown(context.Background()) }
	}

	correlator := audit.NewCorrelator(recordStore, sink, "govern-cli", "govern")

	budgetStore, closeBudget, err := openBudgetStore(cfg)
	if err != nil {
		closeStore()
		return nil, nil, nil, err
	}
	monitor := budget.NewMonitor(budgetStore, correlator)

	tracker := approval.NewHTTPTracker(cfg.TrackerURL, cfg.TrackerToken, cfg.TrackerTimeout)
	gate := approval.NewGate(tracker)

	aggregator := compliance.NewAggregator(cfg.CheckTimeout)

	var checks governance.ChecksFunc
	if inspect && len(resources) > 0 {
		inspector, ierr := compliance.NewAWSInspector(ctx)
		if ierr != nil {
			closeStore()
			closeBudget()
			return nil, nil, nil, ierr
		}
		checks = func(governance.ActionRequest) []compliance.Check {
			return compliance.StandardChecks(inspector, resources)
		}
	}

	policy, err := governance.NewViolationPolicy(violationExpr)
	if err != nil {
		closeStore()
		closeBudget()
		return nil, nil, nil, err
	}

	engine := governance.NewEngine(gate, aggregator, checks, correlator, monitor, policy)
	cleanup := func() {
		if shutdownTelemetry != nil {
			shutdownTelemetry()
		}
		closeBudget()
		closeStore()
	}
	return engine, provider, cleanup, nil
}

func openRecordStore(cfg *config.Config) (store.RecordStore, func(), error) {
	if cfg.StorePath == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	s, err := store.OpenSQLite(cfg.StorePath)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func openBudgetStore(cfg *config.Config) (budget.Store, func(), error) {
	switch {
	case cfg.RedisAddr != "":
		s := budget.NewRedisStore(cfg.RedisAddr, "", 0, cfg.DailyLimitCents, cfg.MonthlyLimitCents)
		return s, func() {}, nil
	case cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open budget database: %w", err)
		}
		return budget.NewPostgresStore(db, cfg.DailyLimitCents, cfg.MonthlyLimitCents), func() { _ = db.Close() }, nil
	default:
		return budget.NewMemoryStore(cfg.DailyLimitCents, cfg.MonthlyLimitCents), func() {}, nil
	}
}

func printDecision(w io.Writer, d *governance.Decision) {
	_, _ = fmt.Fprintf(w, "Decision:  %s\n", d.Decision)
	if d.AuditID != "" {
		_, _ = fmt.Fprintf(w, "Audit ID:  %s\n", d.AuditID)
	}
	for _, reason := range d.Reasons {
		_, _ = fmt.Fprintf(w, "Reason:    %s\n", reason)
	}
	if d.ComplianceReport != nil {
		_, _ = fmt.Fprintf(w, "Compliance: %s (score %.1f, %d checks)\n",
			d.ComplianceReport.OverallResult, d.ComplianceReport.Score, len(d.ComplianceReport.Checks))
	}
}
