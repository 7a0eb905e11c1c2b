package mongo

import (
	"fmt"
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/attempt"
	"github.com/quorumhq/steward/faultlog"
	"github.com/quorumhq/steward/id"
	"github.com/quorumhq/steward/job"
	"github.com/quorumhq/steward/jobtype"
	"github.com/quorumhq/steward/timer"
)

// tokenString renders a timer token for storage; the nil token becomes
// the empty string.
func tokenString(t timer.Token) string {
	if t.IsNil() {
		return ""
	}
	return t.String()
}

// parseToken is the inverse of tokenString. Unparseable tokens degrade to
// the nil token rather than failing the whole record load.
func parseToken(s string) timer.Token {
	if s == "" {
		return id.Nil
	}
	t, err := id.ParseTimerID(s)
	if err != nil {
		return id.Nil
	}
	return t
}

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID                  string         `bson:"_id"`
	JobType             string         `bson:"job_type"`
	Arguments           map[string]any `bson:"arguments,omitempty"`
	State               string         `bson:"state"`
	Version             int64          `bson:"version"`
	Submitted           *time.Time     `bson:"submitted,omitempty"`
	Started             *time.Time     `bson:"started,omitempty"`
	Completed           *time.Time     `bson:"completed,omitempty"`
	Faulted             *time.Time     `bson:"faulted,omitempty"`
	Duration            int64          `bson:"duration"`
	Reason              string         `bson:"reason,omitempty"`
	RetryAttempt        int            `bson:"retry_attempt"`
	SuspectRetryAttempt int            `bson:"suspect_retry_attempt"`
	AttemptID           string         `bson:"attempt_id,omitempty"`
	ServiceAddress      string         `bson:"service_address,omitempty"`
	JobTimeout          int64          `bson:"job_timeout"`
	SlotWaitToken       string         `bson:"slot_wait_token,omitempty"`
	RetryDelayToken     string         `bson:"retry_delay_token,omitempty"`
	CronExpression      string         `bson:"cron_expression,omitempty"`
	TimeZoneID          string         `bson:"time_zone_id,omitempty"`
	StartDate           *time.Time     `bson:"start_date,omitempty"`
	EndDate             *time.Time     `bson:"end_date,omitempty"`
	NextStartDate       *time.Time     `bson:"next_start_date,omitempty"`
	CreatedAt           time.Time      `bson:"created_at"`
	UpdatedAt           time.Time      `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:                  j.ID.String(),
		JobType:             j.JobType,
		Arguments:           j.Arguments,
		State:               string(j.State),
		Version:             j.Version,
		Submitted:           j.Submitted,
		Started:             j.Started,
		Completed:           j.Completed,
		Faulted:             j.Faulted,
		Duration:            j.Duration.Nanoseconds(),
		Reason:              j.Reason,
		RetryAttempt:        j.RetryAttempt,
		SuspectRetryAttempt: j.SuspectRetryAttempt,
		ServiceAddress:      j.ServiceAddress,
		JobTimeout:          j.JobTimeout.Nanoseconds(),
		SlotWaitToken:       tokenString(j.SlotWaitToken),
		RetryDelayToken:     tokenString(j.RetryDelayToken),
		CronExpression:      j.CronExpression,
		TimeZoneID:          j.TimeZoneID,
		StartDate:           j.StartDate,
		EndDate:             j.EndDate,
		NextStartDate:       j.NextStartDate,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
	}
	if !j.AttemptID.IsNil() {
		m.AttemptID = j.AttemptID.String()
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: steward.Entity{
			Version:   m.Version,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                  parsedID,
		JobType:             m.JobType,
		Arguments:           m.Arguments,
		State:               job.State(m.State),
		Submitted:           m.Submitted,
		Started:             m.Started,
		Completed:           m.Completed,
		Faulted:             m.Faulted,
		Duration:            time.Duration(m.Duration),
		Reason:              m.Reason,
		RetryAttempt:        m.RetryAttempt,
		SuspectRetryAttempt: m.SuspectRetryAttempt,
		AttemptID:           id.Nil,
		ServiceAddress:      m.ServiceAddress,
		JobTimeout:          time.Duration(m.JobTimeout),
		SlotWaitToken:       parseToken(m.SlotWaitToken),
		RetryDelayToken:     parseToken(m.RetryDelayToken),
		CronExpression:      m.CronExpression,
		TimeZoneID:          m.TimeZoneID,
		StartDate:           m.StartDate,
		EndDate:             m.EndDate,
		NextStartDate:       m.NextStartDate,
	}

	if m.AttemptID != "" {
		parsedAttempt, aErr := id.ParseAttemptID(m.AttemptID)
		if aErr == nil {
			j.AttemptID = parsedAttempt
		}
	}

	return j, nil
}

// ── Attempt model ─────────────────────────────────────────────────

type attemptModel struct {
	ID             string     `bson:"_id"`
	JobID          string     `bson:"job_id"`
	JobType        string     `bson:"job_type"`
	ServiceAddress string     `bson:"service_address"`
	RetryAttempt   int        `bson:"retry_attempt"`
	State          string     `bson:"state"`
	Version        int64      `bson:"version"`
	JobTimeout     int64      `bson:"job_timeout"`
	StartedAt      *time.Time `bson:"started_at,omitempty"`
	LastHeartbeat  *time.Time `bson:"last_heartbeat,omitempty"`
	SuspectProbes  int        `bson:"suspect_probes"`
	Reason         string     `bson:"reason,omitempty"`
	StartToken     string     `bson:"start_token,omitempty"`
	LivenessToken  string     `bson:"liveness_token,omitempty"`
	CheckToken     string     `bson:"check_token,omitempty"`
	ProbeToken     string     `bson:"probe_token,omitempty"`
	TimeoutToken   string     `bson:"timeout_token,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func toAttemptModel(a *attempt.Attempt) *attemptModel {
	return &attemptModel{
		ID:             a.ID.String(),
		JobID:          a.JobID.String(),
		JobType:        a.JobType,
		ServiceAddress: a.ServiceAddress,
		RetryAttempt:   a.RetryAttempt,
		State:          string(a.State),
		Version:        a.Version,
		JobTimeout:     a.JobTimeout.Nanoseconds(),
		StartedAt:      a.StartedAt,
		LastHeartbeat:  a.LastHeartbeat,
		SuspectProbes:  a.SuspectProbes,
		Reason:         a.Reason,
		StartToken:     tokenString(a.StartToken),
		LivenessToken:  tokenString(a.LivenessToken),
		CheckToken:     tokenString(a.CheckToken),
		ProbeToken:     tokenString(a.ProbeToken),
		TimeoutToken:   tokenString(a.TimeoutToken),
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func fromAttemptModel(m *attemptModel) (*attempt.Attempt, error) {
	parsedID, err := id.ParseAttemptID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: parse attempt id %q: %w", m.ID, err)
	}

	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: parse job id %q: %w", m.JobID, err)
	}

	return &attempt.Attempt{
		Entity: steward.Entity{
			Version:   m.Version,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             parsedID,
		JobID:          parsedJobID,
		JobType:        m.JobType,
		ServiceAddress: m.ServiceAddress,
		RetryAttempt:   m.RetryAttempt,
		State:          attempt.State(m.State),
		JobTimeout:     time.Duration(m.JobTimeout),
		StartedAt:      m.StartedAt,
		LastHeartbeat:  m.LastHeartbeat,
		SuspectProbes:  m.SuspectProbes,
		Reason:         m.Reason,
		StartToken:     parseToken(m.StartToken),
		LivenessToken:  parseToken(m.LivenessToken),
		CheckToken:     parseToken(m.CheckToken),
		ProbeToken:     parseToken(m.ProbeToken),
		TimeoutToken:   parseToken(m.TimeoutToken),
	}, nil
}

// ── Job type model ────────────────────────────────────────────────

// Instance addresses contain dots, which are awkward as BSON field names,
// so maps are stored as arrays of keyed entries.

type activeJobEntry struct {
	JobID   string `bson:"job_id"`
	Address string `bson:"address"`
}

type instanceEntry struct {
	Address  string    `bson:"address"`
	LastSeen time.Time `bson:"last_seen"`
	Active   int       `bson:"active"`
}

type jobTypeModel struct {
	Name       string           `bson:"_id"`
	Limit      int              `bson:"job_limit"`
	State      string           `bson:"state"`
	Version    int64            `bson:"version"`
	ActiveJobs []activeJobEntry `bson:"active_jobs,omitempty"`
	Instances  []instanceEntry  `bson:"instances,omitempty"`
	Waiting    []string         `bson:"waiting,omitempty"`
	CreatedAt  time.Time        `bson:"created_at"`
	UpdatedAt  time.Time        `bson:"updated_at"`
}

func toJobTypeModel(jt *jobtype.JobType) *jobTypeModel {
	m := &jobTypeModel{
		Name:      jt.Name,
		Limit:     jt.Limit,
		State:     string(jt.State),
		Version:   jt.Version,
		Waiting:   jt.Waiting,
		CreatedAt: jt.CreatedAt,
		UpdatedAt: jt.UpdatedAt,
	}
	for jobID, addr := range jt.ActiveJobs {
		m.ActiveJobs = append(m.ActiveJobs, activeJobEntry{JobID: jobID, Address: addr})
	}
	for _, inst := range jt.Instances {
		m.Instances = append(m.Instances, instanceEntry{
			Address:  inst.Address,
			LastSeen: inst.LastSeen,
			Active:   inst.Active,
		})
	}
	return m
}

func fromJobTypeModel(m *jobTypeModel) *jobtype.JobType {
	jt := &jobtype.JobType{
		Entity: steward.Entity{
			Version:   m.Version,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Name:       m.Name,
		Limit:      m.Limit,
		State:      jobtype.State(m.State),
		ActiveJobs: make(map[string]string, len(m.ActiveJobs)),
		Instances:  make(map[string]*jobtype.Instance, len(m.Instances)),
		Waiting:    m.Waiting,
	}
	for _, e := range m.ActiveJobs {
		jt.ActiveJobs[e.JobID] = e.Address
	}
	for _, e := range m.Instances {
		jt.Instances[e.Address] = &jobtype.Instance{
			Address:  e.Address,
			LastSeen: e.LastSeen,
			Active:   e.Active,
		}
	}
	return jt
}

// ── Fault log model ───────────────────────────────────────────────

type faultModel struct {
	ID           string         `bson:"_id"`
	JobID        string         `bson:"job_id"`
	JobType      string         `bson:"job_type"`
	Arguments    map[string]any `bson:"arguments,omitempty"`
	Reason       string         `bson:"reason"`
	RetryAttempt int            `bson:"retry_attempt"`
	RetryLimit   int            `bson:"retry_limit"`
	JobTimeout   int64          `bson:"job_timeout"`
	FailedAt     time.Time      `bson:"failed_at"`
	ReplayedAt   *time.Time     `bson:"replayed_at,omitempty"`
	CreatedAt    time.Time      `bson:"created_at"`
}

func toFaultModel(e *faultlog.Entry) *faultModel {
	return &faultModel{
		ID:           e.ID.String(),
		JobID:        e.JobID.String(),
		JobType:      e.JobType,
		Arguments:    e.Arguments,
		Reason:       e.Reason,
		RetryAttempt: e.RetryAttempt,
		RetryLimit:   e.RetryLimit,
		JobTimeout:   e.JobTimeout.Nanoseconds(),
		FailedAt:     e.FailedAt,
		ReplayedAt:   e.ReplayedAt,
		CreatedAt:    e.CreatedAt,
	}
}

func fromFaultModel(m *faultModel) (*faultlog.Entry, error) {
	parsedID, err := id.ParseFaultID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: parse fault id %q: %w", m.ID, err)
	}

	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: parse job id %q: %w", m.JobID, err)
	}

	return &faultlog.Entry{
		ID:           parsedID,
		JobID:        parsedJobID,
		JobType:      m.JobType,
		Arguments:    m.Arguments,
		Reason:       m.Reason,
		RetryAttempt: m.RetryAttempt,
		RetryLimit:   m.RetryLimit,
		JobTimeout:   time.Duration(m.JobTimeout),
		FailedAt:     m.FailedAt,
		ReplayedAt:   m.ReplayedAt,
		CreatedAt:    m.CreatedAt,
	}, nil
}
