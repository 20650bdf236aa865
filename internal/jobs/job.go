package jobs

import (
	"sync"
	"time"

	"github.com/lexiqai/media-transcriber/internal/pipeline"
)

// Status is the lifecycle position of a job
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
)

// Result is delivered once on a job's result channel
type Result struct {
	Report *pipeline.Report
	Err    error
}

// Job is one submitted pipeline run
type Job struct {
	ID        string
	Request   pipeline.Request
	CreatedAt time.Time

	mu          sync.RWMutex
	status      Status
	report      *pipeline.Report
	err         error
	events      []pipeline.Event
	subscribers map[chan pipeline.Event]struct{}
	finishedAt  time.Time

	result chan Result
	done   chan struct{}
}

func newJob(id string, req pipeline.Request) *Job {
	return &Job{
		ID:          id,
		Request:     req,
		CreatedAt:   time.Now(),
		status:      StatusQueued,
		subscribers: make(map[chan pipeline.Event]struct{}),
		result:      make(chan Result, 1),
		done:        make(chan struct{}),
	}
}

// Result returns the channel the outcome is sent on. It receives exactly
// one value.
func (j *Job) Result() <-chan Result {
	return j.result
}

// Done is closed when the job has finished
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// OnEvent records a progress event and fans it out to subscribers.
// Slow subscribers lose events rather than stall the pipeline.
func (j *Job) OnEvent(e pipeline.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, e)
	for ch := range j.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns the events so far and a channel of later ones. The
// channel is closed when the job finishes or cancel is called.
func (j *Job) Subscribe() (history []pipeline.Event, events <-chan pipeline.Event, cancel func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	history = append([]pipeline.Event(nil), j.events...)
	ch := make(chan pipeline.Event, 64)
	if j.status == StatusDone {
		close(ch)
		return history, ch, func() {}
	}
	j.subscribers[ch] = struct{}{}

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			j.mu.Lock()
			defer j.mu.Unlock()
			if _, ok := j.subscribers[ch]; ok {
				delete(j.subscribers, ch)
				close(ch)
			}
		})
	}
	return history, ch, cancel
}

func (j *Job) setRunning() {
	j.mu.Lock()
	j.status = StatusRunning
	j.mu.Unlock()
}

func (j *Job) finish(report *pipeline.Report, err error) {
	j.mu.Lock()
	j.status = StatusDone
	j.report = report
	j.err = err
	j.finishedAt = time.Now()
	for ch := range j.subscribers {
		close(ch)
	}
	j.subscribers = make(map[chan pipeline.Event]struct{})
	j.mu.Unlock()

	j.result <- Result{Report: report, Err: err}
	close(j.done)
}

// View is the JSON representation of a job
type View struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	State      string     `json:"state,omitempty"`
	Kind       string     `json:"kind"`
	Inputs     []string   `json:"inputs"`
	Outputs    []string   `json:"outputs,omitempty"`
	Errors     []string   `json:"errors,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// View snapshots the job for the API
func (j *Job) View() View {
	j.mu.RLock()
	defer j.mu.RUnlock()

	v := View{
		ID:        j.ID,
		Status:    j.status,
		Kind:      j.Request.Kind.String(),
		Inputs:    j.Request.Identifiers,
		CreatedAt: j.CreatedAt,
	}
	if j.report != nil {
		v.State = j.report.State.String()
		v.Outputs = j.report.Outputs
		v.Errors = j.report.ErrorMessages()
		for _, w := range j.report.Warnings {
			v.Warnings = append(v.Warnings, w.Error())
		}
	}
	if j.err != nil {
		v.Error = j.err.Error()
	}
	if j.status == StatusDone {
		t := j.finishedAt
		v.FinishedAt = &t
	}
	return v
}
