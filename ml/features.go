package ml

import (
	"sort"
	"time"
)

const hoursPerDay = 24

// Task names double as artifact names in the model directory.
const (
	TaskCancellation = "cancellation_model"
	TaskScaler       = "scaler"
	TaskTiming       = "timing_model"
	TaskChurn        = "churn_model"
)

type AppointmentStatus string

const (
	StatusScheduled            AppointmentStatus = "SCHEDULED"
	StatusCompleted            AppointmentStatus = "COMPLETED"
	StatusCancelledByPatient   AppointmentStatus = "CANCELLED_BY_PATIENT"
	StatusCancelledByTherapist AppointmentStatus = "CANCELLED_BY_THERAPIST"
)

// HistoricalRecord is one past appointment as read by the offline trainers.
type HistoricalRecord struct {
	AppointmentID int64
	PatientID     int64
	TherapistID   int64
	SessionStart  time.Time
	CreatedAt     time.Time
	Status        AppointmentStatus
	ProgressScore *int
}

// CancellationFeatures is the cancellation-risk input, in model order.
type CancellationFeatures struct {
	LeadTimeDays float64
	DayOfWeek    int
	HourOfDay    int
}

// DeriveCancellationFeatures computes the cancellation features from the
// booking and session timestamps. Weekdays count from Monday=0 to Sunday=6 and
// the hour is read in the session timestamp's own location, so callers convert
// to the clinic calendar first. A booking created after the session yields a
// negative lead time, which is kept as is.
func DeriveCancellationFeatures(sessionStart, createdAt time.Time) CancellationFeatures {
	return CancellationFeatures{
		LeadTimeDays: sessionStart.Sub(createdAt).Hours() / hoursPerDay,
		DayOfWeek:    MondayFirstWeekday(sessionStart),
		HourOfDay:    sessionStart.Hour(),
	}
}

// MondayFirstWeekday maps time.Weekday (Sunday=0) onto Monday=0..Sunday=6.
func MondayFirstWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func (f CancellationFeatures) Vector() []float64 {
	return []float64{f.LeadTimeDays, float64(f.DayOfWeek), float64(f.HourOfDay)}
}

func CancellationFeatureNames() []string {
	return []string{"lead_time_days", "day_of_week", "hour_of_day"}
}

// CancellationLabel is 1 for a patient cancellation and 0 otherwise.
func CancellationLabel(status AppointmentStatus) int {
	if status == StatusCancelledByPatient {
		return 1
	}
	return 0
}

type TimingFeatures struct {
	LastProgressScore int
}

func (f TimingFeatures) Vector() []float64 {
	return []float64{float64(f.LastProgressScore)}
}

func TimingFeatureNames() []string {
	return []string{"last_progress_score"}
}

// TimingSample pairs a scored session with the gap to the patient's next
// completed session.
type TimingSample struct {
	Features         TimingFeatures
	DaysUntilNext    int
	PatientID        int64
	SessionStart     time.Time
	NextSessionStart time.Time
}

// DeriveTimingSamples pairs every completed, progress-scored session with the
// immediately following completed session of the same patient. The target is
// the whole number of days between the two (fractions are dropped).
func DeriveTimingSamples(records []HistoricalRecord) []TimingSample {
	byPatient := make(map[int64][]HistoricalRecord)
	patients := make([]int64, 0)
	for _, r := range records {
		if r.Status != StatusCompleted {
			continue
		}
		if _, ok := byPatient[r.PatientID]; !ok {
			patients = append(patients, r.PatientID)
		}
		byPatient[r.PatientID] = append(byPatient[r.PatientID], r)
	}
	sort.Slice(patients, func(i, j int) bool { return patients[i] < patients[j] })

	samples := make([]TimingSample, 0)
	for _, patientID := range patients {
		sessions := byPatient[patientID]
		sort.SliceStable(sessions, func(i, j int) bool {
			return sessions[i].SessionStart.Before(sessions[j].SessionStart)
		})
		for i := 0; i+1 < len(sessions); i++ {
			current := sessions[i]
			if current.ProgressScore == nil {
				continue
			}
			next := sessions[i+1]
			gap := next.SessionStart.Sub(current.SessionStart)
			samples = append(samples, TimingSample{
				Features:         TimingFeatures{LastProgressScore: *current.ProgressScore},
				DaysUntilNext:    int(gap.Hours() / hoursPerDay),
				PatientID:        patientID,
				SessionStart:     current.SessionStart,
				NextSessionStart: next.SessionStart,
			})
		}
	}
	return samples
}

// ChurnFeatures is the churn input. CancellationRate is expected in [0,1] but
// is never clamped here.
type ChurnFeatures struct {
	DaysSinceLastVisit int
	TotalVisits        int
	CancellationRate   float64
}

func (f ChurnFeatures) Vector() []float64 {
	return []float64{float64(f.DaysSinceLastVisit), float64(f.TotalVisits), f.CancellationRate}
}

func ChurnFeatureNames() []string {
	return []string{"days_since_last_visit", "total_visits", "cancellation_rate"}
}

// ChurnSnapshot is a patient's churn features as of a point in time.
type ChurnSnapshot struct {
	PatientID int64
	Features  ChurnFeatures
}

// DeriveChurnSnapshots summarises each patient's history as of asOf. Patients
// without a completed session in the past are skipped since they have no last
// visit to measure from.
func DeriveChurnSnapshots(records []HistoricalRecord, asOf time.Time) []ChurnSnapshot {
	type tally struct {
		lastVisit time.Time
		visits    int
		cancelled int
		total     int
	}
	tallies := make(map[int64]*tally)
	for _, r := range records {
		if r.SessionStart.After(asOf) {
			continue
		}
		t, ok := tallies[r.PatientID]
		if !ok {
			t = &tally{}
			tallies[r.PatientID] = t
		}
		t.total++
		switch r.Status {
		case StatusCompleted:
			t.visits++
			if r.SessionStart.After(t.lastVisit) {
				t.lastVisit = r.SessionStart
			}
		case StatusCancelledByPatient:
			t.cancelled++
		}
	}

	snapshots := make([]ChurnSnapshot, 0, len(tallies))
	for patientID, t := range tallies {
		if t.visits == 0 {
			continue
		}
		snapshots = append(snapshots, ChurnSnapshot{
			PatientID: patientID,
			Features: ChurnFeatures{
				DaysSinceLastVisit: int(asOf.Sub(t.lastVisit).Hours() / hoursPerDay),
				TotalVisits:        t.visits,
				CancellationRate:   float64(t.cancelled) / float64(t.total),
			},
		})
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].PatientID < snapshots[j].PatientID })
	return snapshots
}

// FeatureNamesFor returns the contract ordering for a model artifact, or nil
// for names outside the contract.
func FeatureNamesFor(task string) []string {
	switch task {
	case TaskCancellation, TaskScaler:
		return CancellationFeatureNames()
	case TaskTiming:
		return TimingFeatureNames()
	case TaskChurn:
		return ChurnFeatureNames()
	default:
		return nil
	}
}
