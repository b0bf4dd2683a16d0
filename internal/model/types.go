package model

import "time"

// Run statuses
const (
    RunQueued    = "queued"
    RunRunning   = "running"
    RunCompleted = "completed"
    RunFailed    = "failed"
)

// Event types published for runs
const (
    EventRunStarted   = "run.started"
    EventRunCompleted = "run.completed"
    EventRunFailed    = "run.failed"
)

// RunFields binds matrix column names; empty entries use the defaults.
type RunFields struct {
    FacilityID string `json:"facilityId,omitempty"`
    DemandID   string `json:"demandId,omitempty"`
    Demand     string `json:"demand,omitempty"`
    Distance   string `json:"distance,omitempty"`
}

// RunRequest is the body of POST /v1/runs. The matrix comes either as CSV
// text, as loose rows, or as a multipart file upload.
type RunRequest struct {
    Label                string              `json:"label,omitempty"`
    MatrixCSV            string              `json:"matrixCsv,omitempty"`
    Rows                 []map[string]string `json:"rows,omitempty"`
    Delimiter            string              `json:"delimiter,omitempty"`
    ServiceDistance      float64             `json:"serviceDistance"`
    NumFacility          int                 `json:"numFacility"`
    FacilityVariable     string              `json:"facilityVariable,omitempty"`
    Fields               *RunFields          `json:"fields,omitempty"`
    RequiredFields       []string            `json:"requiredFields,omitempty"`
    Validation           string              `json:"validation,omitempty"`
    UseServiceableDemand bool                `json:"useServiceableDemand,omitempty"`
    Solver               string              `json:"solver,omitempty"`
    TimeLimitMs          int                 `json:"timeLimitMs,omitempty"`
}

// RunParams is what is kept of a request once the matrix has been read.
type RunParams struct {
    ServiceDistance      float64    `json:"serviceDistance"`
    NumFacility          int        `json:"numFacility"`
    FacilityVariable     string     `json:"facilityVariable,omitempty"`
    Fields               *RunFields `json:"fields,omitempty"`
    Validation           string     `json:"validation,omitempty"`
    UseServiceableDemand bool       `json:"useServiceableDemand,omitempty"`
    Solver               string     `json:"solver,omitempty"`
    TimeLimitMs          int        `json:"timeLimitMs,omitempty"`
}

// RunResult mirrors the selection summary of a finished run.
type RunResult struct {
    NumberFacility        int      `json:"number_facility"`
    NumberFacilityChosen  int      `json:"number_facility_chosen"`
    FacilityIDsChosen     []string `json:"set_facility_id_chosen"`
    TotalDemand           float64  `json:"total_demand"`
    TotalDemandCovered    float64  `json:"total_demand_covered"`
    PercentDemandCoverage float64  `json:"percent_demand_coverage"`
    Solver                string   `json:"solver"`
    SolverStatus          string   `json:"solverStatus"`
    Objective             float64  `json:"objective"`
    Records               int      `json:"records"`
    ElapsedMs             int64    `json:"elapsedMs"`
}

type Run struct {
    ID         string     `json:"id"`
    TenantID   string     `json:"tenantId"`
    Label      string     `json:"label,omitempty"`
    Source     string     `json:"source,omitempty"`
    Status     string     `json:"status"`
    Params     RunParams  `json:"params"`
    Result     *RunResult `json:"result,omitempty"`
    Error      string     `json:"error,omitempty"`
    ErrorField string     `json:"errorField,omitempty"`
    CreatedAt  time.Time  `json:"createdAt"`
    StartedAt  *time.Time `json:"startedAt,omitempty"`
    FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Done reports whether the run reached a final status.
func (r Run) Done() bool { return r.Status == RunCompleted || r.Status == RunFailed }

// RunEvent is published on the broker and streamed to SSE/WebSocket clients.
type RunEvent struct {
    ID    string         `json:"id"`
    Type  string         `json:"type"`
    RunID string         `json:"runId"`
    TS    string         `json:"ts"`
    Data  map[string]any `json:"data,omitempty"`
}

type SubscriptionRequest struct {
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret"`
}

type Subscription struct {
    ID       string   `json:"id"`
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret,omitempty"`
}
