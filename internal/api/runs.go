package api

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "log"
    "time"

    "github.com/google/uuid"

    "mclp/internal/coverage"
    "mclp/internal/distmatrix"
    "mclp/internal/metrics"
    "mclp/internal/model"
    "mclp/internal/opt"
    "mclp/internal/pipeline"
)

// runJob is a validated request ready to execute.
type runJob struct {
    run    model.Run
    source distmatrix.Source
    cfg    pipeline.Config
    solver opt.Solver
}

// prepareRun turns a validated request into a queued run. src is nil unless
// the matrix was uploaded.
func (s *Server) prepareRun(tenant string, req model.RunRequest, src distmatrix.Source) (*runJob, error) {
    policy, err := distmatrix.ParsePolicy(req.Validation)
    if err != nil { return nil, err }
    fields := s.Cfg.Fields
    if req.Fields != nil {
        fields = coverage.Fields{FacilityID: req.Fields.FacilityID, DemandID: req.Fields.DemandID, Demand: req.Fields.Demand, Distance: req.Fields.Distance}
    }
    fields = fields.WithDefaults()
    variable := req.FacilityVariable
    if variable == "" { variable = s.Cfg.FacilityVariable }
    if variable == "" { variable = coverage.DefaultVariable }

    solverCfg := s.Cfg.Solver
    if req.Solver != "" { solverCfg.Name = req.Solver }
    if req.TimeLimitMs > 0 { solverCfg.TimeLimit = time.Duration(req.TimeLimitMs) * time.Millisecond }
    solver, err := s.NewSolver(solverCfg)
    if err != nil { return nil, err }

    if src == nil {
        src = requestSource(req)
    }
    id := uuid.New().String()
    cfg := pipeline.Config{
        ServiceDistance:      req.ServiceDistance,
        NumFacility:          req.NumFacility,
        FacilityVariable:     variable,
        Fields:               fields,
        Required:             req.RequiredFields,
        Validation:           policy,
        UseServiceableDemand: req.UseServiceableDemand,
        RunID:                id,
    }
    run := model.Run{
        ID:       id,
        TenantID: tenant,
        Label:    req.Label,
        Source:   src.Name(),
        Status:   model.RunQueued,
        Params: model.RunParams{
            ServiceDistance:      req.ServiceDistance,
            NumFacility:          req.NumFacility,
            FacilityVariable:     variable,
            Fields:               &model.RunFields{FacilityID: fields.FacilityID, DemandID: fields.DemandID, Demand: fields.Demand, Distance: fields.Distance},
            Validation:           string(policy),
            UseServiceableDemand: req.UseServiceableDemand,
            Solver:               solver.Name(),
            TimeLimitMs:          req.TimeLimitMs,
        },
        CreatedAt: time.Now().UTC(),
    }
    return &runJob{run: run, source: src, cfg: cfg, solver: solver}, nil
}

func requestSource(req model.RunRequest) distmatrix.Source {
    if len(req.Rows) > 0 {
        recs := make([]distmatrix.Record, len(req.Rows))
        for i, row := range req.Rows { recs[i] = distmatrix.Record(row) }
        return distmatrix.TableSource{Label: "request rows", Table: distmatrix.FromRecords(nil, recs)}
    }
    comma, _ := firstRune(req.Delimiter)
    return distmatrix.ReaderSource{
        Label:   "request body",
        Format:  distmatrix.FormatCSV,
        Reader:  bytes.NewReader([]byte(req.MatrixCSV)),
        Options: distmatrix.Options{Comma: comma},
    }
}

func firstRune(s string) (rune, bool) {
    for _, r := range s { return r, true }
    return 0, false
}

// start launches job in the background.
func (s *Server) start(job *runJob) {
    s.runs.Add(1)
    go func() {
        defer s.runs.Done()
        s.execute(s.ctx, job)
    }()
}

// execute runs the pipeline for job and records the outcome. The returned run
// is in a final state.
func (s *Server) execute(ctx context.Context, job *runJob) model.Run {
    run := job.run
    metrics.RunsInFlight.Inc()
    defer metrics.RunsInFlight.Dec()

    started := time.Now().UTC()
    run.Status = model.RunRunning
    run.StartedAt = &started
    if err := s.Store.UpdateRun(ctx, run); err != nil {
        s.Logger.Printf("run %s: update: %v", run.ID, err)
    }
    s.publish(ctx, run, model.EventRunStarted, map[string]any{"solver": job.solver.Name(), "source": run.Source})

    lg := log.New(s.Logger.Writer(), fmt.Sprintf("run %s ", run.ID[:8]), s.Logger.Flags())
    out, err := pipeline.Run(ctx, job.cfg, pipeline.Deps{Logger: lg, Source: job.source, Solver: job.solver})
    finished := time.Now().UTC()
    run.FinishedAt = &finished
    elapsed := finished.Sub(started)
    s.persistSolverMetrics(ctx, run)

    if err != nil {
        run.Status = model.RunFailed
        run.Error = err.Error()
        if mf, ok := pipeline.IsMissingField(err); ok {
            run.ErrorField = mf.Field
            run.Error = mf.Error()
        }
        lg.Printf("Error: %s", run.Error)
        if uerr := s.Store.UpdateRun(ctx, run); uerr != nil {
            s.Logger.Printf("run %s: update: %v", run.ID, uerr)
        }
        metrics.ObserveRun(job.solver.Name(), model.RunFailed, elapsed, 0)
        data := map[string]any{"error": run.Error}
        if run.ErrorField != "" { data["field"] = run.ErrorField }
        s.publish(ctx, run, model.EventRunFailed, data)
        return run
    }

    run.Status = model.RunCompleted
    run.Source = out.Source
    run.Result = resultOf(out)
    var doc bytes.Buffer
    if err := out.Model.WriteJSON(&doc); err == nil {
        if err := s.Store.SaveCoverage(ctx, run.TenantID, run.ID, doc.Bytes()); err != nil {
            s.Logger.Printf("run %s: save coverage: %v", run.ID, err)
        }
    }
    if err := s.Store.UpdateRun(ctx, run); err != nil {
        s.Logger.Printf("run %s: update: %v", run.ID, err)
    }
    metrics.ObserveRun(out.Solution.Solver, model.RunCompleted, elapsed, out.Result.PercentDemandCoverage)
    s.publish(ctx, run, model.EventRunCompleted, resultData(run.Result))
    return run
}

// persistSolverMetrics moves the counters the pipeline recorded for the run
// into the store.
func (s *Server) persistSolverMetrics(ctx context.Context, run model.Run) {
    defer opt.ForgetMetrics(run.ID)
    for solver, m := range opt.GetMetrics(run.ID) {
        if err := s.Store.SaveSolverMetrics(ctx, run.TenantID, run.ID, solver, metricsMap(m)); err != nil {
            s.Logger.Printf("run %s: save solver metrics: %v", run.ID, err)
        }
    }
}

func (s *Server) publish(ctx context.Context, run model.Run, eventType string, data map[string]any) {
    ev := model.RunEvent{ID: "evt_" + uuid.New().String(), Type: eventType, RunID: run.ID, TS: time.Now().UTC().Format(time.RFC3339), Data: data}
    payload := map[string]any{"id": ev.ID, "runId": run.ID, "status": run.Status, "ts": ev.TS}
    for k, v := range data { payload[k] = v }
    s.Broker.Publish(run.ID, SSEEvent{Type: eventType, Data: payload})
    if eventType != model.EventRunStarted {
        s.Pub.Emit(ctx, run.TenantID, ev)
    }
}

func resultOf(out *pipeline.Outcome) *model.RunResult {
    res := out.Result
    return &model.RunResult{
        NumberFacility:        res.NumberFacility,
        NumberFacilityChosen:  res.NumberFacilityChosen,
        FacilityIDsChosen:     res.FacilityIDsChosen,
        TotalDemand:           res.TotalDemand,
        TotalDemandCovered:    res.TotalDemandCovered,
        PercentDemandCoverage: res.PercentDemandCoverage,
        Solver:                out.Solution.Solver,
        SolverStatus:          string(out.Solution.Status),
        Objective:             out.Solution.Objective,
        Records:               out.Records,
        ElapsedMs:             out.Elapsed.Milliseconds(),
    }
}

func resultData(res *model.RunResult) map[string]any {
    var m map[string]any
    b, _ := json.Marshal(res)
    _ = json.Unmarshal(b, &m)
    return m
}

func metricsMap(m opt.Metrics) map[string]any {
    var out map[string]any
    b, _ := json.Marshal(m)
    _ = json.Unmarshal(b, &out)
    return out
}
