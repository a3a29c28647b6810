package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/csv-export-service/internal/export/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type progressSnapshot struct {
	ProcessedRows int64
	TotalRows     int64
	Percentage    int
}

// fakeStore is an in-memory JobStore recording every progress write
type fakeStore struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	snapshots map[string][]progressSnapshot
	statuses  map[string][]domain.Status

	updateErr    error
	updateErrAt  int
	updateCalls  int
	forceFinishN bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      make(map[string]*domain.Job),
		snapshots: make(map[string][]progressSnapshot),
		statuses:  make(map[string][]domain.Status),
	}
}

func (s *fakeStore) add(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.Status == "" {
		job.Status = domain.StatusPending
	}
	if job.Delimiter == 0 {
		job.Delimiter = domain.DefaultDelimiter
	}
	if job.QuoteChar == 0 {
		job.QuoteChar = domain.DefaultQuoteChar
	}
	s.jobs[job.ID] = job
	s.statuses[job.ID] = append(s.statuses[job.ID], job.Status)
}

func (s *fakeStore) get(id string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *fakeStore) progress(id string) []progressSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progressSnapshot(nil), s.snapshots[id]...)
}

func (s *fakeStore) statusHistory(id string) []domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Status(nil), s.statuses[id]...)
}

func (s *fakeStore) ClaimJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.StatusPending {
		return nil, domain.ErrJobNotClaimable
	}
	job.Status = domain.StatusProcessing
	s.statuses[jobID] = append(s.statuses[jobID], job.Status)
	copied := *job
	return &copied, nil
}

func (s *fakeStore) UpdateJob(_ context.Context, jobID string, update domain.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.updateErr != nil && s.updateCalls >= s.updateErrAt {
		return s.updateErr
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	s.apply(job, update)
	if update.ProcessedRows != nil {
		s.snapshots[jobID] = append(s.snapshots[jobID], progressSnapshot{
			ProcessedRows: job.ProcessedRows,
			TotalRows:     job.TotalRows,
			Percentage:    job.Percentage,
		})
	}
	return nil
}

func (s *fakeStore) FinishJob(_ context.Context, jobID string, update domain.JobUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, nil
	}
	if s.forceFinishN || job.Status.IsTerminal() {
		return false, nil
	}
	s.apply(job, update)
	return true, nil
}

func (s *fakeStore) ListJobIDs(_ context.Context, status domain.Status) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, job := range s.jobs {
		if job.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fakeStore) apply(job *domain.Job, u domain.JobUpdate) {
	if u.Status != nil {
		job.Status = *u.Status
		s.statuses[job.ID] = append(s.statuses[job.ID], job.Status)
	}
	if u.TotalRows != nil {
		job.TotalRows = *u.TotalRows
	}
	if u.ProcessedRows != nil {
		job.ProcessedRows = *u.ProcessedRows
	}
	if u.Percentage != nil {
		job.Percentage = *u.Percentage
	}
	if u.Error != nil {
		job.Error = domain.Ptr(*u.Error)
	}
	if u.ClearFilePath {
		job.FilePath = nil
	} else if u.FilePath != nil {
		job.FilePath = domain.Ptr(*u.FilePath)
	}
	if u.CompletedAt != nil {
		job.CompletedAt = domain.Ptr(*u.CompletedAt)
	}
}

// fakeSource serves an in-memory user table
type fakeSource struct {
	users    []domain.User
	countErr error
	// failAt makes the stream fail before delivering that 1-based row
	failAt int
	// onRow runs before each row is delivered
	onRow func(n int)
	// extra rows are streamed but not counted
	extra int
}

func newUsers(n int, country string) []domain.User {
	users := make([]domain.User, n)
	for i := range users {
		users[i] = domain.User{
			ID:               int64(i + 1),
			Name:             fmt.Sprintf("User %d", i+1),
			Email:            fmt.Sprintf("user%d@example.com", i+1),
			SignupDate:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			CountryCode:      country,
			SubscriptionTier: "free",
			LifetimeValue:    fmt.Sprintf("%d.50", i),
		}
	}
	return users
}

func (s *fakeSource) matching(f domain.Filters) []domain.User {
	var out []domain.User
	for _, u := range s.users {
		if f.CountryCode != nil && u.CountryCode != *f.CountryCode {
			continue
		}
		if f.SubscriptionTier != nil && u.SubscriptionTier != *f.SubscriptionTier {
			continue
		}
		out = append(out, u)
	}
	return out
}

func (s *fakeSource) CountUsers(_ context.Context, f domain.Filters) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return int64(len(s.matching(f))), nil
}

func (s *fakeSource) StreamUsers(ctx context.Context, f domain.Filters, fn func(*domain.User) error) error {
	rows := s.matching(f)
	for i := 0; i < s.extra; i++ {
		extra := rows[len(rows)-1]
		extra.ID += int64(i + 1)
		rows = append(rows, extra)
	}
	for i := range rows {
		n := i + 1
		if s.failAt == n {
			return errors.New("connection reset by peer")
		}
		if s.onRow != nil {
			s.onRow(n)
		}
		if err := fn(&rows[i]); err != nil {
			return err
		}
	}
	return nil
}
