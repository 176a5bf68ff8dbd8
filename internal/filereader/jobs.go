package filereader

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tobert/jpm-dash/internal/jpm"
)

// jobLine is the on-disk job record. Times are epoch milliseconds and zero
// means unset.
type jobLine struct {
	JobID             string `json:"jobId"`
	JobDefID          string `json:"jobDefId"`
	JobName           string `json:"jobName"`
	JobExecID         string `json:"jobExecId"`
	Site              string `json:"site"`
	User              string `json:"user"`
	Queue             string `json:"queue"`
	JobType           string `json:"jobType"`
	CurrentState      string `json:"currentState"`
	SubmissionTime    int64  `json:"submissionTime"`
	StartTime         int64  `json:"startTime"`
	EndTime           int64  `json:"endTime"`
	NumTotalMaps      int    `json:"numTotalMaps"`
	NumTotalReduces   int    `json:"numTotalReduces"`
	RunningContainers int    `json:"runningContainers"`
}

func epochMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func decodeJob(line []byte, defaultSite string) (jpm.JobRecord, error) {
	var jl jobLine
	if err := json.Unmarshal(line, &jl); err != nil {
		return jpm.JobRecord{}, fmt.Errorf("parse job JSON: %w", err)
	}
	if jl.JobID == "" {
		return jpm.JobRecord{}, errors.New("job line has no jobId")
	}

	site := jl.Site
	if site == "" {
		site = defaultSite
	}

	return jpm.JobRecord{
		JobID:             jl.JobID,
		JobDefID:          jl.JobDefID,
		JobName:           jl.JobName,
		JobExecID:         jl.JobExecID,
		Site:              site,
		User:              jl.User,
		Queue:             jl.Queue,
		JobType:           jl.JobType,
		CurrentState:      jl.CurrentState,
		SubmissionTime:    epochMillis(jl.SubmissionTime),
		StartTime:         epochMillis(jl.StartTime),
		EndTime:           epochMillis(jl.EndTime),
		NumTotalMaps:      jl.NumTotalMaps,
		NumTotalReduces:   jl.NumTotalReduces,
		RunningContainers: jl.RunningContainers,
	}, nil
}
