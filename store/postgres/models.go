package postgres

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

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
	bun.BaseModel `bun:"table:steward_jobs"`

	ID                  string         `bun:"id,pk"`
	JobType             string         `bun:"job_type,notnull"`
	Arguments           map[string]any `bun:"arguments,type:jsonb"`
	State               string         `bun:"state,notnull"`
	Version             int64          `bun:"version,notnull,default:1"`
	Submitted           *time.Time     `bun:"submitted"`
	Started             *time.Time     `bun:"started"`
	Completed           *time.Time     `bun:"completed"`
	Faulted             *time.Time     `bun:"faulted"`
	Duration            int64          `bun:"duration,notnull,default:0"`
	Reason              string         `bun:"reason"`
	RetryAttempt        int            `bun:"retry_attempt,notnull,default:0"`
	SuspectRetryAttempt int            `bun:"suspect_retry_attempt,notnull,default:0"`
	AttemptID           string         `bun:"attempt_id"`
	ServiceAddress      string         `bun:"service_address"`
	JobTimeout          int64          `bun:"job_timeout,notnull,default:0"`
	SlotWaitToken       string         `bun:"slot_wait_token"`
	RetryDelayToken     string         `bun:"retry_delay_token"`
	CronExpression      string         `bun:"cron_expression"`
	TimeZoneID          string         `bun:"time_zone_id"`
	StartDate           *time.Time     `bun:"start_date"`
	EndDate             *time.Time     `bun:"end_date"`
	NextStartDate       *time.Time     `bun:"next_start_date"`
	CreatedAt           time.Time      `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt           time.Time      `bun:"updated_at,notnull,default:current_timestamp"`
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
		return nil, fmt.Errorf("steward/postgres: parse job id %q: %w", m.ID, err)
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
	bun.BaseModel `bun:"table:steward_attempts"`

	ID             string     `bun:"id,pk"`
	JobID          string     `bun:"job_id,notnull"`
	JobType        string     `bun:"job_type,notnull"`
	ServiceAddress string     `bun:"service_address,notnull"`
	RetryAttempt   int        `bun:"retry_attempt,notnull,default:0"`
	State          string     `bun:"state,notnull"`
	Version        int64      `bun:"version,notnull,default:1"`
	JobTimeout     int64      `bun:"job_timeout,notnull,default:0"`
	StartedAt      *time.Time `bun:"started_at"`
	LastHeartbeat  *time.Time `bun:"last_heartbeat"`
	SuspectProbes  int        `bun:"suspect_probes,notnull,default:0"`
	Reason         string     `bun:"reason"`
	StartToken     string     `bun:"start_token"`
	LivenessToken  string     `bun:"liveness_token"`
	CheckToken     string     `bun:"check_token"`
	ProbeToken     string     `bun:"probe_token"`
	TimeoutToken   string     `bun:"timeout_token"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
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
		return nil, fmt.Errorf("steward/postgres: parse attempt id %q: %w", m.ID, err)
	}

	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: parse job id %q: %w", m.JobID, err)
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

type jobTypeModel struct {
	bun.BaseModel `bun:"table:steward_job_types"`

	Name       string                       `bun:"name,pk"`
	Limit      int                          `bun:"job_limit,notnull,default:0"`
	State      string                       `bun:"state,notnull"`
	Version    int64                        `bun:"version,notnull,default:1"`
	ActiveJobs map[string]string            `bun:"active_jobs,type:jsonb"`
	Instances  map[string]*jobtype.Instance `bun:"instances,type:jsonb"`
	Waiting    []string                     `bun:"waiting,type:jsonb"`
	CreatedAt  time.Time                    `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time                    `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobTypeModel(jt *jobtype.JobType) *jobTypeModel {
	return &jobTypeModel{
		Name:       jt.Name,
		Limit:      jt.Limit,
		State:      string(jt.State),
		Version:    jt.Version,
		ActiveJobs: jt.ActiveJobs,
		Instances:  jt.Instances,
		Waiting:    jt.Waiting,
		CreatedAt:  jt.CreatedAt,
		UpdatedAt:  jt.UpdatedAt,
	}
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
		ActiveJobs: m.ActiveJobs,
		Instances:  m.Instances,
		Waiting:    m.Waiting,
	}
	if jt.ActiveJobs == nil {
		jt.ActiveJobs = map[string]string{}
	}
	if jt.Instances == nil {
		jt.Instances = map[string]*jobtype.Instance{}
	}
	return jt
}

// ── Fault log model ───────────────────────────────────────────────

type faultModel struct {
	bun.BaseModel `bun:"table:steward_fault_log"`

	ID           string         `bun:"id,pk"`
	JobID        string         `bun:"job_id,notnull"`
	JobType      string         `bun:"job_type,notnull"`
	Arguments    map[string]any `bun:"arguments,type:jsonb"`
	Reason       string         `bun:"reason,notnull"`
	RetryAttempt int            `bun:"retry_attempt,notnull,default:0"`
	RetryLimit   int            `bun:"retry_limit,notnull,default:0"`
	JobTimeout   int64          `bun:"job_timeout,notnull,default:0"`
	FailedAt     time.Time      `bun:"failed_at,notnull,default:current_timestamp"`
	ReplayedAt   *time.Time     `bun:"replayed_at"`
	CreatedAt    time.Time      `bun:"created_at,notnull,default:current_timestamp"`
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
		return nil, fmt.Errorf("steward/postgres: parse fault id %q: %w", m.ID, err)
	}

	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: parse job id %q: %w", m.JobID, err)
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
