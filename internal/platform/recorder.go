package platform

import (
	"maps"
	"sync"
	"time"
)

// TrialData is one row of recorded trial data.
type TrialData struct {
	Index     int            `json:"current_trial"`
	DateTime  int64          `json:"dateTime"` // unix milliseconds
	TrialData map[string]any `json:"trialdata"`
}

// Data is the body uploaded by SaveData.
type Data struct {
	UniqueID        string            `json:"uniqueid"`
	CurrentTrial    int               `json:"currenttrial"`
	Data            []TrialData       `json:"data"`
	QuestionData    map[string]string `json:"questiondata"`
	EventData       []any             `json:"eventdata"`
	UseragentString string            `json:"useragent"`
}

// Recorder accumulates trial and questionnaire data until it is saved.
// It is safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	now       func() time.Time
	trials    []TrialData
	questions map[string]string
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now, questions: map[string]string{}}
}

// RecordTrialData appends a row of trial data.
func (r *Recorder) RecordTrialData(fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trials = append(r.trials, TrialData{
		Index:     len(r.trials),
		DateTime:  r.now().UnixMilli(),
		TrialData: maps.Clone(fields),
	})
}

// RecordUnstructuredData stores a keyed answer, replacing any earlier one.
func (r *Recorder) RecordUnstructuredData(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.questions[key] = value
}

// Snapshot returns a copy of everything recorded so far.
func (r *Recorder) Snapshot() Data {
	r.mu.Lock()
	defer r.mu.Unlock()
	trials := make([]TrialData, len(r.trials))
	copy(trials, r.trials)
	return Data{
		CurrentTrial:    len(r.trials),
		Data:            trials,
		QuestionData:    maps.Clone(r.questions),
		EventData:       []any{},
		UseragentString: "stroop-dots",
	}
}
