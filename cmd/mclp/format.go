package main

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"mclp/internal/pipeline"
)

const stampLayout = "01/02/2006 03:04:05 PM"

// stampWriter prefixes every line with a local timestamp.
type stampWriter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func (s *stampWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "%s %s", s.now().Format(stampLayout), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func newLogger(w io.Writer) *log.Logger {
	return log.New(&stampWriter{w: w, now: time.Now}, "", 0)
}

func printOutcome(w io.Writer, out *pipeline.Outcome) {
	res := out.Result
	fmt.Fprintf(w, "\n=== MCLP result ===\n")
	fmt.Fprintf(w, "  Source:               %s (%d records)\n", out.Source, out.Records)
	fmt.Fprintf(w, "  Solver:               %s (%s)\n", out.Solution.Solver, out.Solution.Status)
	fmt.Fprintf(w, "  Facilities requested: %d\n", res.NumberFacility)
	fmt.Fprintf(w, "  Facilities chosen:    %d\n", res.NumberFacilityChosen)
	fmt.Fprintf(w, "  Chosen ids:           %s\n", strings.Join(res.FacilityIDsChosen, ", "))
	fmt.Fprintf(w, "  Total demand:         %.2f\n", res.TotalDemand)
	fmt.Fprintf(w, "  Demand covered:       %.2f\n", res.TotalDemandCovered)
	fmt.Fprintf(w, "  Coverage:             %.2f%%\n", res.PercentDemandCoverage)
	fmt.Fprintf(w, "  Elapsed:              %s\n", out.Elapsed.Round(time.Millisecond))
}
