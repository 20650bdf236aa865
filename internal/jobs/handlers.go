package jobs

import (
	"encoding/json"
	"net/http"
	"sort"
)

type errorResponse struct {
	Error string `json:"error"`
}

// Register mounts the job API on mux
func (m *Manager) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /jobs", m.HandleSubmit)
	mux.HandleFunc("GET /jobs", m.HandleList)
	mux.HandleFunc("GET /jobs/{id}", m.HandleGet)
	mux.HandleFunc("GET /jobs/{id}/events", m.HandleEvents)
}

// HandleSubmit validates a submission and queues it
func (m *Manager) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	req, err := body.Request()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	job, err := m.Submit(req)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Location", "/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job.View())
}

// HandleGet reports a job's status and, once finished, its outputs
func (m *Manager) HandleGet(w http.ResponseWriter, r *http.Request) {
	job, ok := m.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

// HandleList reports every job, newest first
func (m *Manager) HandleList(w http.ResponseWriter, r *http.Request) {
	jobs := m.List()
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })

	views := make([]View, len(jobs))
	for i, j := range jobs {
		views[i] = j.View()
	}
	writeJSON(w, http.StatusOK, views)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
