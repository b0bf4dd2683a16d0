package api

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"mclp/internal/distmatrix"
	"mclp/internal/model"
	"mclp/internal/opt"
)

// validateRunRequest reports every problem of req at once. upload tells
// whether the matrix arrived as a multipart file.
func validateRunRequest(req *model.RunRequest, upload bool) error {
	var errs []error
	sources := 0
	if req.MatrixCSV != "" {
		sources++
	}
	if len(req.Rows) > 0 {
		sources++
	}
	if upload {
		sources++
	}
	switch {
	case sources == 0:
		errs = append(errs, errors.New("a distance matrix is required (matrixCsv, rows or a file upload)"))
	case sources > 1:
		errs = append(errs, errors.New("give exactly one of matrixCsv, rows or a file upload"))
	}
	if req.ServiceDistance < 0 {
		errs = append(errs, fmt.Errorf("serviceDistance must be >= 0"))
	}
	if req.NumFacility < 1 {
		errs = append(errs, fmt.Errorf("numFacility must be >= 1"))
	}
	if req.TimeLimitMs < 0 {
		errs = append(errs, fmt.Errorf("timeLimitMs must be >= 0"))
	}
	if utf8.RuneCountInString(req.Delimiter) > 1 {
		errs = append(errs, fmt.Errorf("delimiter must be a single character"))
	}
	if _, err := distmatrix.ParsePolicy(req.Validation); err != nil {
		errs = append(errs, err)
	}
	if req.Solver != "" {
		known := false
		for _, n := range opt.Names() {
			if n == req.Solver {
				known = true
			}
		}
		if !known {
			errs = append(errs, fmt.Errorf("invalid solver: %s (allowed: %s)", req.Solver, strings.Join(opt.Names(), ",")))
		}
	}
	for _, f := range req.RequiredFields {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, errors.New("requiredFields must not contain empty names"))
			break
		}
	}
	return errors.Join(errs...)
}
