// Package progressiontest provides in-memory collaborators for exercising the
// progression engine without PostgreSQL.
package progressiontest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"prospectcrm/internal/domain/progression"
)

type scoreKey struct {
	customerID int64
	stageID    int64
	repID      string
}

type state struct {
	nextID      int64
	stages      map[int64]progression.Stage
	tasks       map[int64]progression.Task
	customers   map[int64]progression.Customer
	submissions map[int64]progression.Submission
	attachments map[int64]progression.Attachment
	scores      map[scoreKey]progression.StageScore
	summaries   map[int64]progression.Summary
	failures    map[string]error
}

func newState() *state {
	return &state{
		stages:      map[int64]progression.Stage{},
		tasks:       map[int64]progression.Task{},
		customers:   map[int64]progression.Customer{},
		submissions: map[int64]progression.Submission{},
		attachments: map[int64]progression.Attachment{},
		scores:      map[scoreKey]progression.StageScore{},
		summaries:   map[int64]progression.Summary{},
		failures:    map[string]error{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		nextID:      s.nextID,
		stages:      cloneMap(s.stages),
		tasks:       cloneMap(s.tasks),
		customers:   cloneMap(s.customers),
		submissions: cloneMap(s.submissions),
		attachments: cloneMap(s.attachments),
		scores:      cloneMap(s.scores),
		summaries:   cloneMap(s.summaries),
		failures:    s.failures,
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store is a transactional in-memory progression.StoreAPI. Transactions are
// serialised and roll back by restoring a snapshot.
type Store struct {
	mu sync.Mutex
	st *state
	view
}

var _ progression.StoreAPI = (*Store)(nil)

func NewStore() *Store {
	s := &Store{st: newState()}
	s.view = view{store: s}
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(tx progression.TxStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.st.failures["Begin"]; err != nil {
		return err
	}
	snapshot := s.st.clone()
	if err := fn(&view{store: s, inTx: true}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// FailOn makes every later call of the named method return err. A nil err
// clears it.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.st.failures, method)
		return
	}
	s.st.failures[method] = err
}

type view struct {
	store *Store
	inTx  bool
}

func (v *view) lock() func() {
	if v.inTx {
		return func() {}
	}
	v.store.mu.Lock()
	return v.store.mu.Unlock
}

func (v *view) st() *state {
	return v.store.st
}

func (v *view) fail(method string) error {
	return v.st().failures[method]
}

func (v *view) ListStages(ctx context.Context) ([]progression.Stage, error) {
	defer v.lock()()
	out := make([]progression.Stage, 0, len(v.st().stages))
	for _, st := range v.st().stages {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) GetStage(ctx context.Context, stageID int64) (progression.Stage, error) {
	defer v.lock()()
	st, ok := v.st().stages[stageID]
	if !ok {
		return progression.Stage{}, progression.ErrNotFound
	}
	return st, nil
}

func (v *view) GetTask(ctx context.Context, taskID int64) (progression.Task, error) {
	defer v.lock()()
	t, ok := v.st().tasks[taskID]
	if !ok {
		return progression.Task{}, progression.ErrNotFound
	}
	return t, nil
}

func (v *view) ListTasks(ctx context.Context, ownerID string, stageID int64) ([]progression.Task, error) {
	defer v.lock()()
	if err := v.fail("ListTasks"); err != nil {
		return nil, err
	}
	var out []progression.Task
	for _, t := range v.st().tasks {
		if t.OwnerID == ownerID && t.StageID == stageID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) CreateTask(ctx context.Context, task progression.Task) (progression.Task, error) {
	defer v.lock()()
	task.ID = v.st().id()
	task.CreatedAt = time.Now().UTC()
	v.st().tasks[task.ID] = task
	return task, nil
}

func (v *view) GetCustomer(ctx context.Context, customerID int64) (progression.Customer, error) {
	defer v.lock()()
	c, ok := v.st().customers[customerID]
	if !ok {
		return progression.Customer{}, progression.ErrNotFound
	}
	return c, nil
}

func (v *view) LockCustomer(ctx context.Context, customerID int64) (progression.Customer, error) {
	return v.GetCustomer(ctx, customerID)
}

func (v *view) updateCustomer(customerID int64, fn func(*progression.Customer)) error {
	c, ok := v.st().customers[customerID]
	if !ok {
		return progression.ErrNotFound
	}
	fn(&c)
	v.st().customers[customerID] = c
	return nil
}

func (v *view) UpdateCustomerStage(ctx context.Context, customerID int64, stageID *int64, status string, changedAt time.Time) error {
	defer v.lock()()
	if err := v.fail("UpdateCustomerStage"); err != nil {
		return err
	}
	return v.updateCustomer(customerID, func(c *progression.Customer) {
		if stageID != nil {
			id := *stageID
			c.CurrentStageID = &id
		} else {
			c.CurrentStageID = nil
		}
		c.Status = status
		c.StatusChangedAt = &changedAt
		c.SummaryRequired = false
	})
}

func (v *view) UpdateCustomerStatus(ctx context.Context, customerID int64, status string, changedAt time.Time) error {
	defer v.lock()()
	return v.updateCustomer(customerID, func(c *progression.Customer) {
		c.Status = status
		c.StatusChangedAt = &changedAt
	})
}

func (v *view) SetSummaryRequired(ctx context.Context, customerID int64, required bool) error {
	defer v.lock()()
	return v.updateCustomer(customerID, func(c *progression.Customer) {
		c.SummaryRequired = required
	})
}

func (v *view) UpdateCustomerPoints(ctx context.Context, customerID int64, rollup progression.Rollup) error {
	defer v.lock()()
	return v.updateCustomer(customerID, func(c *progression.Customer) {
		c.EarnedPoints = rollup.EarnedPoints
		c.MaxPoints = rollup.MaxPoints
		c.ScorePercentage = rollup.ScorePercentage
	})
}

func (v *view) ResetCustomer(ctx context.Context, customerID int64, changedAt time.Time) error {
	defer v.lock()()
	return v.updateCustomer(customerID, func(c *progression.Customer) {
		c.CurrentStageID = nil
		c.Status = progression.StatusNew
		c.StatusChangedAt = &changedAt
		c.EarnedPoints, c.MaxPoints, c.ScorePercentage = 0, 0, 0
		c.SummaryRequired = false
	})
}

func (v *view) ListCustomersInProgress(ctx context.Context) ([]progression.Customer, error) {
	defer v.lock()()
	var out []progression.Customer
	for _, c := range v.st().customers {
		if c.CurrentStageID == nil || c.Status == progression.StatusCompleted || c.Status == progression.StatusInactive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) GetSubmission(ctx context.Context, submissionID int64) (progression.Submission, error) {
	defer v.lock()()
	sub, ok := v.st().submissions[submissionID]
	if !ok {
		return progression.Submission{}, progression.ErrNotFound
	}
	return sub, nil
}

func (v *view) LockSubmission(ctx context.Context, submissionID int64) (progression.Submission, error) {
	return v.GetSubmission(ctx, submissionID)
}

func (v *view) LockSubmissionForPair(ctx context.Context, taskID, customerID int64) (progression.Submission, bool, error) {
	defer v.lock()()
	for _, sub := range v.st().submissions {
		if sub.TaskID == taskID && sub.CustomerID == customerID {
			return sub, true, nil
		}
	}
	return progression.Submission{}, false, nil
}

func (v *view) InsertSubmission(ctx context.Context, sub progression.Submission) (progression.Submission, bool, error) {
	defer v.lock()()
	for _, existing := range v.st().submissions {
		if existing.TaskID == sub.TaskID && existing.CustomerID == sub.CustomerID {
			return progression.Submission{}, false, nil
		}
	}
	sub.ID = v.st().id()
	v.st().submissions[sub.ID] = sub
	return sub, true, nil
}

func (v *view) UpdateSubmission(ctx context.Context, sub progression.Submission) error {
	defer v.lock()()
	if err := v.fail("UpdateSubmission"); err != nil {
		return err
	}
	if _, ok := v.st().submissions[sub.ID]; !ok {
		return progression.ErrNotFound
	}
	v.st().submissions[sub.ID] = sub
	return nil
}

func (v *view) ListSubmissions(ctx context.Context, customerID int64) ([]progression.Submission, error) {
	defer v.lock()()
	var out []progression.Submission
	for _, sub := range v.st().submissions {
		if sub.CustomerID == customerID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) ApprovedTaskIDs(ctx context.Context, customerID, stageID int64) (map[int64]bool, error) {
	defer v.lock()()
	out := map[int64]bool{}
	for _, sub := range v.st().submissions {
		if sub.CustomerID == customerID && sub.StageID == stageID && sub.Status == progression.SubmissionApproved {
			out[sub.TaskID] = true
		}
	}
	return out, nil
}

func (v *view) GetAttachment(ctx context.Context, submissionID int64) (progression.Attachment, error) {
	defer v.lock()()
	a, ok := v.st().attachments[submissionID]
	if !ok {
		return progression.Attachment{}, progression.ErrNotFound
	}
	return a, nil
}

func (v *view) ListAttachments(ctx context.Context, customerID int64) (map[int64]progression.Attachment, error) {
	defer v.lock()()
	out := map[int64]progression.Attachment{}
	for id, a := range v.st().attachments {
		if v.st().submissions[id].CustomerID == customerID {
			out[id] = a
		}
	}
	return out, nil
}

func (v *view) ReplaceAttachment(ctx context.Context, submissionID int64, att *progression.Attachment) (*progression.Attachment, error) {
	defer v.lock()()
	var previous *progression.Attachment
	if old, ok := v.st().attachments[submissionID]; ok {
		previous = &old
		delete(v.st().attachments, submissionID)
	}
	if att != nil {
		a := *att
		a.ID = v.st().id()
		a.SubmissionID = submissionID
		v.st().attachments[submissionID] = a
	}
	return previous, nil
}

func (v *view) DeleteCustomerProgress(ctx context.Context, customerID int64) ([]string, error) {
	defer v.lock()()
	var paths []string
	for id, sub := range v.st().submissions {
		if sub.CustomerID != customerID {
			continue
		}
		if a, ok := v.st().attachments[id]; ok && a.FilePath != nil {
			paths = append(paths, *a.FilePath)
		}
		delete(v.st().attachments, id)
		delete(v.st().submissions, id)
	}
	for k := range v.st().scores {
		if k.customerID == customerID {
			delete(v.st().scores, k)
		}
	}
	delete(v.st().summaries, customerID)
	sort.Strings(paths)
	return paths, nil
}

func (v *view) GetStageScore(ctx context.Context, customerID, stageID int64, repID string) (progression.StageScore, bool, error) {
	defer v.lock()()
	sc, ok := v.st().scores[scoreKey{customerID, stageID, repID}]
	return sc, ok, nil
}

func (v *view) UpsertStageScore(ctx context.Context, score progression.StageScore) error {
	defer v.lock()()
	if err := v.fail("UpsertStageScore"); err != nil {
		return err
	}
	v.st().scores[scoreKey{score.CustomerID, score.StageID, score.RepID}] = score
	return nil
}

func (v *view) listScores(keep func(progression.StageScore) bool) []progression.StageScore {
	var out []progression.StageScore
	for _, sc := range v.st().scores {
		if keep(sc) {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CustomerID != out[j].CustomerID {
			return out[i].CustomerID < out[j].CustomerID
		}
		return out[i].StageID < out[j].StageID
	})
	return out
}

func (v *view) ListStageScores(ctx context.Context, customerID int64) ([]progression.StageScore, error) {
	defer v.lock()()
	return v.listScores(func(sc progression.StageScore) bool { return sc.CustomerID == customerID }), nil
}

func (v *view) ListRepStageScores(ctx context.Context, repID string) ([]progression.StageScore, error) {
	defer v.lock()()
	return v.listScores(func(sc progression.StageScore) bool { return sc.RepID == repID }), nil
}

func (v *view) GetSummary(ctx context.Context, customerID int64) (progression.Summary, error) {
	defer v.lock()()
	sum, ok := v.st().summaries[customerID]
	if !ok {
		return progression.Summary{}, progression.ErrNotFound
	}
	return sum, nil
}

func (v *view) UpsertSummary(ctx context.Context, summary progression.Summary) error {
	defer v.lock()()
	v.st().summaries[summary.CustomerID] = summary
	return nil
}

// AddStage seeds a stage and returns it with its id.
func (s *Store) AddStage(code string, weight float64, sequence int) progression.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := progression.Stage{
		ID:          s.st.id(),
		Code:        code,
		Description: strings.ReplaceAll(code, "_", " "),
		Weight:      weight,
		Sequence:    sequence,
		Kind:        progression.StageKindCycle,
	}
	s.st.stages[st.ID] = st
	return st
}

// AddCycle seeds the standard five cycle stages with the given weights.
func (s *Store) AddCycle(weights ...float64) []progression.Stage {
	codes := []string{
		progression.StageCodeVisit1, progression.StageCodeVisit2, progression.StageCodeVisit3,
		progression.StageCodeDeal, progression.StageCodeAfterSales,
	}
	var out []progression.Stage
	for i, code := range codes {
		w := 10.0
		if i < len(weights) {
			w = weights[i]
		}
		out = append(out, s.AddStage(code, w, i+1))
	}
	return out
}

func (s *Store) AddTask(t progression.Task) progression.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.st.id()
	if t.InputKind == "" {
		t.InputKind = progression.InputNone
	}
	if t.Description == "" {
		t.Description = fmt.Sprintf("task %d", t.ID)
	}
	s.st.tasks[t.ID] = t
	return t
}

func (s *Store) AddCustomer(c progression.Customer) progression.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.st.id()
	s.st.customers[c.ID] = c
	return c
}

func (s *Store) Customer(id int64) progression.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.customers[id]
}

func (s *Store) Submission(id int64) (progression.Submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.st.submissions[id]
	return sub, ok
}

func (s *Store) SubmissionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.submissions)
}

func (s *Store) Attachment(submissionID int64) (progression.Attachment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.attachments[submissionID]
	return a, ok
}

func (s *Store) Score(customerID, stageID int64, repID string) (progression.StageScore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.st.scores[scoreKey{customerID, stageID, repID}]
	return sc, ok
}

func (s *Store) ScoreCount(customerID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.st.scores {
		if k.customerID == customerID {
			n++
		}
	}
	return n
}

// Files is an in-memory progression.FileStore.
type Files struct {
	mu    sync.Mutex
	next  int
	blobs map[string][]byte
}

func NewFiles() *Files {
	return &Files{blobs: map[string][]byte{}}
}

func (f *Files) Save(ctx context.Context, name, contentType string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	ref := fmt.Sprintf("mem/%d-%s", f.next, name)
	f.blobs[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (f *Files) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("no such file %q", ref)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *Files) Delete(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, ref)
	return nil
}

func (f *Files) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blobs)
}

// Clock is a settable progression.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
