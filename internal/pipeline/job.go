package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// JobState is a point-in-time snapshot of one pipeline run.
type JobState struct {
	ID       int
	Phase    string
	Running  bool
	Started  time.Time
	Finished time.Time
	Err      string
	Counts   map[string]int
}

// Jobs guards the pipeline's entry points: at most one run per phase at a
// time, with the last outcome queryable afterwards. Callers that want to
// overlap phases (say, grab and enrich) use distinct phase names, which the
// entry points already do.
type Jobs struct {
	mu     sync.Mutex
	nextID int
	active map[string]*job
	last   map[string]JobState
}

type job struct {
	jobs  *Jobs
	state JobState
}

func NewJobs() *Jobs {
	return &Jobs{active: map[string]*job{}, last: map[string]JobState{}}
}

// start claims the phase, failing when a run is already in flight.
func (js *Jobs) start(phase string) (*job, error) {
	js.mu.Lock()
	defer js.mu.Unlock()
	if _, busy := js.active[phase]; busy {
		return nil, fmt.Errorf("%s already running", phase)
	}
	js.nextID++
	j := &job{jobs: js, state: JobState{
		ID: js.nextID, Phase: phase, Running: true, Started: time.Now(),
	}}
	js.active[phase] = j
	return j, nil
}

// complete releases the phase and records the outcome.
func (j *job) complete(counts map[string]int, err error) {
	js := j.jobs
	js.mu.Lock()
	defer js.mu.Unlock()
	j.state.Running = false
	j.state.Finished = time.Now()
	j.state.Counts = counts
	if err != nil {
		j.state.Err = err.Error()
	}
	delete(js.active, j.state.Phase)
	js.last[j.state.Phase] = j.state
}

// Query returns the current or most recent state for a phase. The second
// return is false when the phase has never run.
func (js *Jobs) Query(phase string) (JobState, bool) {
	js.mu.Lock()
	defer js.mu.Unlock()
	if j, busy := js.active[phase]; busy {
		return j.state, true
	}
	st, ok := js.last[phase]
	return st, ok
}
