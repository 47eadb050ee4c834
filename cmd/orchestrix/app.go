// Command orchestrix is the CLI entrypoint and composition root: it
// loads configuration, wires every package into a running process, and
// exposes serve/run/resume/index subcommands. Grounded on cmd/hector's
// main.go kong.CLI struct and ServeCmd wiring, retargeted from Hector's
// agent/reasoning/document-store assembly onto this orchestrator's
// Store/Bus/Registry/Policy/Approval/Worker/Supervisor/Orchestrator graph.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ifBars/orchestrix/approval"
	"github.com/ifBars/orchestrix/bus"
	"github.com/ifBars/orchestrix/config"
	"github.com/ifBars/orchestrix/gateway"
	"github.com/ifBars/orchestrix/index"
	"github.com/ifBars/orchestrix/model"
	"github.com/ifBars/orchestrix/observability"
	"github.com/ifBars/orchestrix/orcherr"
	"github.com/ifBars/orchestrix/orchestrator"
	"github.com/ifBars/orchestrix/plugin"
	"github.com/ifBars/orchestrix/policy"
	"github.com/ifBars/orchestrix/provider"
	"github.com/ifBars/orchestrix/provider/anthropic"
	"github.com/ifBars/orchestrix/provider/codeendpoint"
	"github.com/ifBars/orchestrix/provider/openai"
	"github.com/ifBars/orchestrix/recovery"
	"github.com/ifBars/orchestrix/registry"
	"github.com/ifBars/orchestrix/registry/artifacttool"
	"github.com/ifBars/orchestrix/registry/fstool"
	"github.com/ifBars/orchestrix/registry/gittool"
	"github.com/ifBars/orchestrix/registry/searchtool"
	"github.com/ifBars/orchestrix/registry/shelltool"
	"github.com/ifBars/orchestrix/registry/subagenttool"
	"github.com/ifBars/orchestrix/store"
	"github.com/ifBars/orchestrix/supervisor"
	"github.com/ifBars/orchestrix/worker"
)

// rootDelegationContract is the permission ceiling the primary agent
// hands to its first generation of spawned sub-agents; spec.md §4.10
// caps delegation depth, so this is the single source of truth for that
// cap rather than letting each preset declare its own.
var rootDelegationContract = policy.DelegationContract{
	MaySpawnChildren:   true,
	MaxDelegationDepth: 3,
}

// App holds every wired component of one orchestrix process.
type App struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *store.Store
	bus          *bus.Bus
	approval     *approval.Gateway
	registry     *registry.Registry
	policy       *policy.Engine
	index        *index.Index
	observability *observability.Manager
	pluginLoader *plugin.Loader
	supervisor   *supervisor.Supervisor
	orchestrator *orchestrator.Orchestrator
	recovery     *recovery.Recovery
	gateway      *gateway.Gateway
	adapters     map[string]provider.Adapter
	defaultAdapter string
}

// NewApp wires every package into a running App bound to workspaceRoot.
func NewApp(ctx context.Context, cfg *config.Config, workspaceRoot string) (*App, error) {
	logger, err := initLogger(cfg.Global.Logging)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}

	b := bus.New(1024)

	obsMgr, err := observability.NewManager(ctx, observability.Config{
		Tracing: observability.TracingConfig{
			Enabled:      cfg.Tracing.Enabled,
			Exporter:     cfg.Tracing.Exporter,
			EndpointURL:  cfg.Tracing.EndpointURL,
			SamplingRate: cfg.Tracing.SamplingRate,
			ServiceName:  cfg.Tracing.ServiceName,
		},
		Metrics: observability.MetricsConfig{Enabled: cfg.Metrics.Enabled, Namespace: cfg.Metrics.Namespace},
	})
	if err != nil {
		return nil, err
	}

	approvalGW := approval.New(func(req model.ApprovalRequest) {
		// Persistence only: worker.Loop already publishes
		// tool.approval_requested on the bus before this fires, so an
		// additional bus event here would double-emit the same signal.
		_ = st.CreateApprovalRequest(req)
	})

	adapters, defaultName, err := buildAdapters(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	embedder := index.NewHashEmbedder(256)
	idx := index.New(workspaceRoot, embedder)

	pluginLoader := plugin.NewLoader()

	worktree := supervisor.NewWorktreeManager(workspaceRoot)

	rootPermission := defaultRootPermission()
	polEngine := policy.New(rootPermission)

	reg.Register(&fstool.Read{WorkspaceRoot: workspaceRoot})
	reg.Register(&fstool.Write{WorkspaceRoot: workspaceRoot})
	reg.Register(&shelltool.Exec{WorkingDir: workspaceRoot, Timeout: 2 * time.Minute})
	reg.Register(&gittool.Diff{RepoRoot: workspaceRoot})
	reg.Register(&gittool.Commit{RepoRoot: workspaceRoot})
	reg.Register(&searchtool.Tool{Index: idx})
	reg.Register(&artifacttool.CreateArtifact{Store: st})

	var orch *orchestrator.Orchestrator // filled in below; referenced by closures and the mode-switch tools
	modeSwitcher := &orchestratorHandle{}
	reg.Register(&artifacttool.RequestPlanMode{Orchestrator: modeSwitcher})
	reg.Register(&artifacttool.RequestBuildMode{Orchestrator: modeSwitcher})

	factory := func(sa model.SubAgent) *worker.Loop {
		return buildLoop(st, b, adapters[defaultName], reg, polEngine, approvalGW, registry.ModeBuild, policy.DelegationContract{}, sa.DelegationDepth)
	}
	runner := worker.NewRunner(st, factory)
	super := supervisor.New(st, b, worktree, runner)

	bridge := &spawnBridge{supervisor: super}
	reg.Register(&subagenttool.Tool{Spawner: bridge, Contract: rootDelegationContract, CurrentDepth: 0})

	planRunner := func(runID, taskPrompt string) ([]byte, error) {
		loop := buildLoop(st, b, adapters[defaultName], reg, polEngine, approvalGW, registry.ModePlan, rootDelegationContract, 0).WithSpawner(bridge)
		summary, err := loop.Run(context.Background(), runID, -1, planSystemPrompt, taskPrompt)
		if err != nil {
			return nil, err
		}
		return []byte(summary), nil
	}
	stepRunner := func(runID string, step model.Step) ([]byte, error) {
		loop := buildLoop(st, b, adapters[defaultName], reg, polEngine, approvalGW, registry.ModeBuild, rootDelegationContract, 0).WithSpawner(bridge)
		goal := step.Title
		if step.Description != "" {
			goal = step.Title + ": " + step.Description
		}
		summary, err := loop.Run(context.Background(), runID, step.Index, buildSystemPrompt, goal)
		if err != nil {
			return nil, err
		}
		return []byte(summary), nil
	}

	orch = orchestrator.New(st, b, approvalGW, planRunner, stepRunner)
	modeSwitcher.orch = orch

	resumer := func(run model.Run, resumeFromStep int) error {
		task, err := st.GetTask(run.TaskID)
		if err != nil {
			return err
		}
		_, err = orch.Resume(run, task)
		return err
	}
	rec := recovery.New(st, b, resumer)

	gw := gateway.New(st, b, approvalGW, orch, obsMgr.Metrics())

	return &App{
		cfg: cfg, logger: logger, store: st, bus: b, approval: approvalGW,
		registry: reg, policy: polEngine, index: idx, observability: obsMgr,
		pluginLoader: pluginLoader, supervisor: super, orchestrator: orch,
		recovery: rec, gateway: gw, adapters: adapters, defaultAdapter: defaultName,
	}, nil
}

// orchestratorHandle defers binding to the real *orchestrator.Orchestrator
// until after it is constructed, since its own constructor needs the
// plan/step runner closures that in turn need tools registered against
// this same mode-switcher.
type orchestratorHandle struct {
	orch *orchestrator.Orchestrator
}

func (h *orchestratorHandle) RequestModeSwitch(runID string, to registry.Mode) {
	if h.orch != nil {
		h.orch.RequestModeSwitch(runID, to)
	}
}

const planSystemPrompt = "You are operating in Plan mode. Investigate the workspace using read-only and search tools, then call agent.create_artifact with kind=plan summarizing the approach, or call agent.request_build_mode once the plan is ready for execution."

const buildSystemPrompt = "You are operating in Build mode. Use the available tools to complete the assigned step. Call subagent.spawn to delegate independent sub-tasks. Respond with a final summary once the step is complete."

func buildLoop(st *store.Store, b *bus.Bus, adapter provider.Adapter, reg *registry.Registry, pol *policy.Engine, gw *approval.Gateway, mode registry.Mode, contract policy.DelegationContract, depth int) *worker.Loop {
	params := worker.Params{
		MaxTurns:          40,
		MaxActionsPerTurn: 5,
		TurnTimeout:       5 * time.Minute,
		Mode:              mode,
		Contract:          contract,
		CurrentDepth:      depth,
	}
	return worker.New(st, b, adapter, reg, pol, gw, params)
}

// defaultRootPermission is the permission set a run operates under when
// no agent preset narrows it: every scope is reachable, destructive
// calls always require approval.
func defaultRootPermission() policy.Permission {
	return policy.Permission{
		AllowedScopes: map[policy.Scope]bool{
			policy.ScopeRead:    true,
			policy.ScopeWrite:   true,
			policy.ScopeShell:   true,
			policy.ScopeNetwork: true,
		},
		ApprovalScopes: map[policy.Scope]bool{policy.ScopeDestructive: true},
		DeniedScopes:   map[policy.Scope]bool{},
	}
}

// buildAdapters constructs one provider.Adapter per configured provider
// and reports which one is the default (the first one found, in
// ListProviders order, named "default" taking precedence).
func buildAdapters(cfg *config.Config) (map[string]provider.Adapter, string, error) {
	adapters := make(map[string]provider.Adapter, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		var a provider.Adapter
		switch pc.Kind {
		case "openai":
			a = openai.New(pc.Model, pc.BaseURL, pc.APIKey)
		case "anthropic":
			a = anthropic.New(pc.Model, pc.BaseURL, pc.APIKey)
		case "codeendpoint":
			a = codeendpoint.New(pc.Model, pc.BaseURL, pc.APIKey)
		default:
			return nil, "", orcherr.New(orcherr.Config, "cmd", "build_adapters", fmt.Sprintf("unknown provider kind %q for %q", pc.Kind, name), nil)
		}
		adapters[name] = a
	}
	if len(adapters) == 0 {
		return nil, "", orcherr.New(orcherr.Config, "cmd", "build_adapters", "no providers configured", nil)
	}
	if _, ok := adapters["default"]; ok {
		return adapters, "default", nil
	}
	for name := range adapters {
		return adapters, name, nil
	}
	return adapters, "", nil
}

// submitTask creates a pending Task and drives it through StartRun,
// mirroring gateway.go's handleCreateTask for callers that want a run
// without going through the HTTP surface.
func (a *App) submitTask(prompt string) (model.Run, error) {
	now := time.Now()
	task := model.Task{ID: model.NewID(), Prompt: prompt, Status: model.TaskPending, CreatedAt: now, UpdatedAt: now}
	if err := a.store.CreateTask(task); err != nil {
		return model.Run{}, err
	}
	return a.orchestrator.StartRun(task.ID, task.Prompt)
}

// Shutdown releases every resource the App holds.
func (a *App) Shutdown(ctx context.Context) {
	a.pluginLoader.Shutdown()
	if a.observability != nil {
		_ = a.observability.Shutdown(ctx)
	}
	_ = a.store.Close()
}
