package opt

import "sync"

type key struct{
    Run string
    Solver string
}

var (
    mu sync.Mutex
    store = map[key]Metrics{}
)

func RecordMetrics(run, solver string, m Metrics) {
    mu.Lock()
    store[key{Run:run, Solver:solver}] = m
    mu.Unlock()
}

func GetMetrics(run string) map[string]Metrics {
    mu.Lock()
    defer mu.Unlock()
    out := map[string]Metrics{}
    for k, v := range store {
        if k.Run == run {
            out[k.Solver] = v
        }
    }
    return out
}

// ForgetMetrics drops what was recorded for a run.
func ForgetMetrics(run string) {
    mu.Lock()
    defer mu.Unlock()
    for k := range store {
        if k.Run == run {
            delete(store, k)
        }
    }
}
