package db

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"clinique/ml"
)

// SeedOptions shapes the demo history written by Seed.
type SeedOptions struct {
	Patients   int
	Therapists int
	Days       int
	Seed       int64
	Now        time.Time
}

func DefaultSeedOptions() SeedOptions {
	return SeedOptions{Patients: 40, Therapists: 4, Days: 365, Seed: 42}
}

type SeedSummary struct {
	Appointments int
	Notes        int
}

// Seed fills the history with plausible appointments and notes. Longer booking
// lead times cancel more often, better progress scores space sessions further
// apart, and about a third of the patients stop coming well before Now.
func Seed(ctx context.Context, h *History, opts SeedOptions) (SeedSummary, error) {
	def := DefaultSeedOptions()
	if opts.Patients <= 0 {
		opts.Patients = def.Patients
	}
	if opts.Therapists <= 0 {
		opts.Therapists = def.Therapists
	}
	if opts.Days <= 0 {
		opts.Days = def.Days
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	now := opts.Now.UTC().Truncate(time.Hour)
	rnd := rand.New(rand.NewSource(opts.Seed))

	var summary SeedSummary
	for patient := 1; patient <= opts.Patients; patient++ {
		therapist := int64(1 + rnd.Intn(opts.Therapists))
		session := now.AddDate(0, 0, -opts.Days+rnd.Intn(30))
		session = time.Date(session.Year(), session.Month(), session.Day(), 8+rnd.Intn(10), 0, 0, 0, time.UTC)

		end := now.AddDate(0, 0, 21)
		if patient%3 == 0 {
			// churned patients stop between four and nine months ago
			end = now.AddDate(0, 0, -120-rnd.Intn(150))
		}

		score := 3 + rnd.Intn(4)
		for session.Before(end) {
			lead := rnd.Float64() * 30
			record := ml.HistoricalRecord{
				PatientID:    int64(patient),
				TherapistID:  therapist,
				SessionStart: session,
				CreatedAt:    session.Add(-time.Duration(lead * 24 * float64(time.Hour))),
				Status:       seedStatus(rnd, session, now, lead),
			}
			id, err := h.InsertAppointment(ctx, record)
			if err != nil {
				return summary, fmt.Errorf("seed patient %d: %w", patient, err)
			}
			summary.Appointments++

			gap := 7 + rnd.Intn(5)
			if record.Status == ml.StatusCompleted {
				score = clampScore(score + rnd.Intn(3) - 1)
				s := score
				if err := h.InsertClinicalNote(ctx, id, &s, "Seeded session note"); err != nil {
					return summary, fmt.Errorf("seed note for appointment %d: %w", id, err)
				}
				summary.Notes++
				gap = 4 + 2*score + rnd.Intn(4)
			}
			next := session.AddDate(0, 0, gap)
			session = time.Date(next.Year(), next.Month(), next.Day(), 8+rnd.Intn(10), 0, 0, 0, time.UTC)
		}
	}
	return summary, nil
}

func seedStatus(rnd *rand.Rand, session, now time.Time, leadDays float64) ml.AppointmentStatus {
	if session.After(now) {
		return ml.StatusScheduled
	}
	p := rnd.Float64()
	switch {
	case p < 0.05:
		return ml.StatusCancelledByTherapist
	case p < 0.05+0.05+leadDays/100:
		return ml.StatusCancelledByPatient
	default:
		return ml.StatusCompleted
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}
