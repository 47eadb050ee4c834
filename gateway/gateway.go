// Package gateway implements the HTTP/SSE surface named in spec.md §6:
// task creation, run inspection, the live event stream, and approval
// resolution. Routing is github.com/go-chi/chi/v5, carried from the
// teacher's go.mod; no call site for chi itself was present in the
// retrieved pack, so the router wiring here follows chi's own documented
// middleware-chaining idiom rather than a specific teacher file. The SSE
// framing and batched/immediate event split are grounded on
// batcher.Batcher's Out type (spec.md §4.2).
package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ifBars/orchestrix/approval"
	"github.com/ifBars/orchestrix/batcher"
	"github.com/ifBars/orchestrix/bus"
	"github.com/ifBars/orchestrix/model"
	"github.com/ifBars/orchestrix/observability"
	"github.com/ifBars/orchestrix/orchestrator"
	"github.com/ifBars/orchestrix/store"
)

// Gateway owns the HTTP surface for one orchestrator process.
type Gateway struct {
	store        *store.Store
	bus          *bus.Bus
	approval     *approval.Gateway
	orchestrator *orchestrator.Orchestrator
	metrics      *observability.Metrics
}

// New constructs a Gateway.
func New(st *store.Store, b *bus.Bus, gw *approval.Gateway, orch *orchestrator.Orchestrator, metrics *observability.Metrics) *Gateway {
	return &Gateway{store: st, bus: b, approval: gw, orchestrator: orch, metrics: metrics}
}

// Router builds the chi router serving every gateway endpoint.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1/tasks", func(r chi.Router) {
		r.Post("/", g.handleCreateTask)
		r.Get("/{taskID}", g.handleGetTask)
	})
	r.Route("/v1/runs", func(r chi.Router) {
		r.Get("/{runID}", g.handleGetRun)
		r.Get("/{runID}/steps", g.handleListSteps)
		r.Get("/{runID}/messages", g.handleListMessages)
		r.Get("/{runID}/artifacts", g.handleListArtifacts)
		r.Get("/{runID}/events", g.handleRunEventStream)
	})
	r.Route("/v1/approvals", func(r chi.Router) {
		r.Post("/{requestID}/resolve", g.handleResolveApproval)
	})
	r.Get("/v1/events", g.handleEventStream)

	if g.metrics != nil {
		r.Handle("/metrics", g.metrics.Handler())
	}

	return r
}

type createTaskRequest struct {
	Prompt string `json:"prompt"`
}

type createTaskResponse struct {
	TaskID string `json:"task_id"`
	RunID  string `json:"run_id"`
}

func (g *Gateway) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("prompt is required"))
		return
	}

	now := time.Now()
	task := model.Task{ID: model.NewID(), Prompt: req.Prompt, Status: model.TaskPending, CreatedAt: now, UpdatedAt: now}
	if err := g.store.CreateTask(task); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	run, err := g.orchestrator.StartRun(task.ID, task.Prompt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, createTaskResponse{TaskID: task.ID, RunID: run.ID})
}

func (g *Gateway) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := g.store.GetTask(taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (g *Gateway) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := g.store.GetRun(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (g *Gateway) handleListSteps(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	steps, err := g.store.ListSteps(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, steps)
}

func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	msgs, err := g.store.ListAgentMessages(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (g *Gateway) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	artifacts, err := g.store.ListArtifacts(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}

type resolveApprovalRequest struct {
	Decider  string `json:"decider"`
	Decision string `json:"decision"`
}

func (g *Gateway) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	var req resolveApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	decision := model.ApprovalDecision(req.Decision)
	if decision != model.DecisionApproved && decision != model.DecisionDenied {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decision must be %q or %q", model.DecisionApproved, model.DecisionDenied))
		return
	}

	if !g.approval.Resolve(requestID, req.Decider, decision) {
		writeError(w, http.StatusNotFound, fmt.Errorf("approval request %q not found or already resolved", requestID))
		return
	}
	if err := g.store.ResolveApprovalRequest(requestID, req.Decider, decision, time.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEventStream streams every event on the bus as Server-Sent
// Events, batching high-volume event classes per batcher.Batcher and
// flushing lifecycle events immediately.
func (g *Gateway) handleEventStream(w http.ResponseWriter, r *http.Request) {
	g.streamFiltered(w, r, "")
}

func (g *Gateway) handleRunEventStream(w http.ResponseWriter, r *http.Request) {
	g.streamFiltered(w, r, chi.URLParam(r, "runID"))
}

func (g *Gateway) streamFiltered(w http.ResponseWriter, r *http.Request, runID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := g.bus.Subscribe()
	defer sub.Close()

	b := batcher.New(sub)
	ctx := r.Context()
	go b.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-b.Output():
			if !ok {
				return
			}
			if out.Immediate != nil {
				if runID == "" || matchesRun(*out.Immediate, runID) {
					writeSSE(w, "event", out.Immediate)
				}
			}
			if len(out.Batch) > 0 {
				filtered := out.Batch[:0]
				for _, e := range out.Batch {
					if runID == "" || matchesRun(e, runID) {
						filtered = append(filtered, e)
					}
				}
				if len(filtered) > 0 {
					writeSSE(w, "batch", filtered)
				}
			}
			flusher.Flush()
		}
	}
}

func matchesRun(e model.Event, runID string) bool {
	return e.RunID != nil && *e.RunID == runID
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("gateway: sse marshal failed", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
