// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Quorum Labs
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command quorum is the CLI for the Quorum AI workforce runtime.
//
// Usage:
//
//	quorum analyze "Compare caching strategies" --agents 4
//	quorum workflow "research the rollout options"
//	quorum ingest "crm7 requires SUPABASE_URL"
//	quorum query "What's blocking crm7 rollout?"
//	quorum models
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/quorumhq/quorum/pkg/config"
	"github.com/quorumhq/quorum/pkg/gateway"
	"github.com/quorumhq/quorum/pkg/graph"
	"github.com/quorumhq/quorum/pkg/heavy"
	"github.com/quorumhq/quorum/pkg/llm"
	"github.com/quorumhq/quorum/pkg/logger"
	"github.com/quorumhq/quorum/pkg/model"
	"github.com/quorumhq/quorum/pkg/prompt"
	"github.com/quorumhq/quorum/pkg/workflow"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Analyze  AnalyzeCmd  `cmd:"" help:"Run a heavy multi-perspective analysis."`
	Workflow WorkflowCmd `cmd:"" help:"Plan and execute a goal-driven workflow."`
	Ingest   IngestCmd   `cmd:"" help:"Ingest text into the memory graph."`
	Query    QueryCmd    `cmd:"" help:"Query the memory graph."`
	Models   ModelsCmd   `cmd:"" help:"List the model catalog."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
	JSON      bool   `help:"Emit JSON output."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(*CLI) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("quorum %s (catalog %s)\n", version, model.CatalogVersion)
	return nil
}

// runtime holds the wired services the commands share.
type runtime struct {
	cfg       *config.Config
	models    *model.Registry
	gw        *gateway.Gateway
	templates *prompt.Store
}

func buildRuntime(cli *CLI) (*runtime, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}

	models, err := model.NewRegistry(model.CatalogVersion, model.BuiltinCatalog(), cfg.Models.Targets())
	if err != nil {
		return nil, err
	}
	providers, err := llm.BuildProviders(&cfg.Providers, models)
	if err != nil {
		return nil, err
	}

	gw := gateway.New(models, providers,
		gateway.WithCacheTTL(cfg.Limits.CacheTTL()),
		gateway.WithAdmission(gateway.NewAdmission(gateway.AdmissionConfig{
			RequestsPerMinute: cfg.Limits.RateLimitRequestsPerMinute,
			SpendBudgetUSD:    cfg.Limits.SpendBudgetUSDPerHour,
			SpendWindow:       time.Hour,
		})),
	)

	return &runtime{
		cfg:       cfg,
		models:    models,
		gw:        gw,
		templates: prompt.NewStore(),
	}, nil
}

func (cli *CLI) emit(v any) error {
	if cli.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return nil
}

// AnalyzeCmd runs the heavy-analysis orchestrator.
type AnalyzeCmd struct {
	Query    string `arg:"" help:"The question to analyze."`
	Agents   int    `help:"Number of parallel perspectives (2-8)." default:"4"`
	Detailed bool   `help:"Include per-agent results."`
	Strategy string `help:"Collapse strategy (first_success, best_score, consensus, combined, weighted); empty runs the synthesis pipeline."`
}

func (c *AnalyzeCmd) Run(cli *CLI) error {
	rt, err := buildRuntime(cli)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	o := heavy.New(rt.gw, rt.templates, heavy.WithDeterministic(!rt.cfg.Providers.Any()))

	if c.Strategy != "" {
		return c.runQuantum(cli, ctx, o)
	}

	res, err := o.Analyze(ctx, &heavy.Request{
		Query:     c.Query,
		NumAgents: c.Agents,
		Detailed:  c.Detailed,
	})
	if err != nil {
		return err
	}

	if cli.JSON {
		return cli.emit(res)
	}
	fmt.Printf("status: %s (%d agents, %.2fs)\n\n%s\n", res.Status, res.NumAgents, res.ExecutionTime, res.Result)
	if c.Detailed {
		for _, ar := range res.AgentResults {
			fmt.Printf("\n[%d] %s (%.2fs)\n", ar.Index, ar.Status, ar.ExecutionTime)
		}
	}
	return nil
}

// runQuantum executes the query as variation threads and collapses them
// instead of synthesizing.
func (c *AnalyzeCmd) runQuantum(cli *CLI, ctx context.Context, o *heavy.Orchestrator) error {
	res, err := o.RunQuantum(ctx, &heavy.QuantumTask{
		Description: c.Query,
		Strategy:    heavy.CollapseStrategy(c.Strategy),
		Variations:  heavy.DefaultVariations(c.Agents),
		MaxParallel: c.Agents,
	})
	if err != nil {
		return err
	}

	if cli.JSON {
		return cli.emit(res)
	}
	fmt.Printf("collapsed via %s (%d variations)\n\n%s\n", c.Strategy, len(res.Variations), res.Collapsed.Content)
	if c.Detailed {
		for _, v := range res.Variations {
			fmt.Printf("\n[%s] %s %s/%s $%.4f (%.2fs)\n",
				v.ID, v.Status, v.Provider, v.ModelID, v.CostUSD, v.ExecutionTime)
		}
	}
	return nil
}

// WorkflowCmd plans a workflow from a goal and executes it.
type WorkflowCmd struct {
	Goal       string  `arg:"" help:"The goal to accomplish."`
	Templates  string  `help:"YAML file with extra workflow templates." type:"path"`
	MaxCost    float64 `name:"max-cost" help:"Cost cap in USD."`
	MaxMinutes int     `name:"max-minutes" help:"Duration cap in minutes."`
}

func (c *WorkflowCmd) Run(cli *CLI) error {
	rt, err := buildRuntime(cli)
	if err != nil {
		return err
	}

	planner := workflow.NewPlanner()
	if c.Templates != "" {
		if err := planner.LoadTemplates(c.Templates); err != nil {
			return err
		}
	}

	policy := workflow.Policy{
		MaxCostUSD:  c.MaxCost,
		TaskTimeout: rt.cfg.Limits.AgentTimeout(),
	}
	if c.MaxMinutes > 0 {
		policy.MaxDuration = time.Duration(c.MaxMinutes) * time.Minute
	}
	wf, err := planner.Plan(c.Goal, policy)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := workflow.NewEngine(rt.gw, rt.templates).Execute(ctx, wf)
	if err != nil {
		return err
	}

	if cli.JSON {
		return cli.emit(res)
	}
	fmt.Printf("workflow %s: %s", res.WorkflowID, res.Status)
	if res.Reason != "" {
		fmt.Printf(" (%s)", res.Reason)
	}
	fmt.Printf("\ncompleted %d, failed %d, $%.4f, %s\n",
		len(res.CompletedTasks), len(res.FailedTasks), res.TotalCostUSD, res.ExecutionTime.Round(time.Millisecond))
	for _, tr := range res.Results {
		fmt.Printf("\n== %s (%s) ==\n%s\n", tr.TaskID, tr.State, tr.Output)
	}
	return nil
}

// IngestCmd feeds text into the memory graph.
type IngestCmd struct {
	Text    string `arg:"" help:"Text fragment to ingest."`
	Source  string `help:"Source tag for provenance." default:"cli"`
	GraphID string `name:"graph-id" help:"Graph id for SQL persistence." default:"default"`
}

func (c *IngestCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	g, store, err := loadGraph(ctx, cfg, c.GraphID)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	res, err := graph.NewIngestor(g).Ingest(c.Text, c.Source)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.Save(ctx, c.GraphID, g); err != nil {
			return err
		}
	}

	if cli.JSON {
		return cli.emit(res)
	}
	fmt.Printf("created %d nodes, %d edges\n", res.NodesCreated, res.EdgesCreated)
	fmt.Printf("services: %v\nenvvars: %v\nincidents: %v\n", res.Services, res.EnvVars, res.Incidents)
	return nil
}

// QueryCmd answers an operational question from the memory graph.
type QueryCmd struct {
	Query   string `arg:"" help:"The question to answer."`
	Type    string `help:"Query type (auto, blocking_analysis, missing_envvars, impact_analysis, related_incidents)." default:"auto"`
	GraphID string `name:"graph-id" help:"Graph id for SQL persistence." default:"default"`
}

func (c *QueryCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	g, store, err := loadGraph(ctx, cfg, c.GraphID)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	res, err := graph.NewPlanner(g).Query(ctx, c.Query, graph.QueryType(c.Type))
	if err != nil {
		return err
	}

	if cli.JSON {
		return cli.emit(res)
	}
	fmt.Println(res.Answer)
	for _, ev := range res.Evidence {
		fmt.Printf("- [%s] %s\n", ev.Type, ev.Description)
	}
	return nil
}

// loadGraph returns the persisted graph when DATABASE_URL is set, or a
// fresh in-memory one.
func loadGraph(ctx context.Context, cfg *config.Config, graphID string) (*graph.Graph, *graph.SQLStore, error) {
	if cfg.DatabaseURL == "" {
		return graph.New(), nil, nil
	}
	store, err := graph.OpenSQLStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	g, err := store.Load(ctx, graphID)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return g, store, nil
}

// ModelsCmd lists the model catalog with pricing.
type ModelsCmd struct {
	Provider string `help:"Filter by provider."`
}

func (c *ModelsCmd) Run(cli *CLI) error {
	rt, err := buildRuntime(cli)
	if err != nil {
		return err
	}

	descriptors := rt.models.All()
	if c.Provider != "" {
		descriptors = rt.models.ByProvider(c.Provider)
	}
	if cli.JSON {
		return cli.emit(descriptors)
	}
	for _, d := range descriptors {
		fmt.Printf("%-32s %-12s in $%.2f/M out $%.2f/M  %4.0fms  q%.2f\n",
			d.ID, d.Provider, d.InputPricePerM, d.OutputPricePerM, d.MeanLatencyMS, d.Quality)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("quorum"),
		kong.Description("Quorum - AI workforce runtime"),
		kong.UsageOnError(),
	)

	out := os.Stderr
	var cleanup func()
	if cli.LogFile != "" {
		f, c, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		out, cleanup = f, c
		defer cleanup()
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), out, cli.LogFormat)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
