package api

import (
	"encoding/json"
	"net/http"
)

// Problem represents an RFC7807 problem details response body. Errors lists
// each rejected field when a request fails validation.
type Problem struct {
	Type     string   `json:"type"`
	Title    string   `json:"title"`
	Status   int      `json:"status"`
	Detail   string   `json:"detail,omitempty"`
	Instance string   `json:"instance,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeInvalid reports a validation failure. Joined errors become one entry each.
func writeInvalid(w http.ResponseWriter, title string, err error, instance string) {
	p := Problem{Type: "about:blank", Title: title, Status: http.StatusBadRequest, Detail: err.Error(), Instance: instance}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			p.Errors = append(p.Errors, e.Error())
		}
	} else {
		p.Errors = []string{err.Error()}
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
