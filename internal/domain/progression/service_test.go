package progression_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospectcrm/internal/domain/auth"
	"prospectcrm/internal/domain/progression"
	"prospectcrm/internal/domain/progression/progressiontest"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *progressiontest.Store
	files    *progressiontest.Files
	clock    *progressiontest.Clock
	svc      *progression.Service
	stages   []progression.Stage
	rep      progression.Actor
	customer progression.Customer
}

func newFixture(t *testing.T, cfg progression.Config) *fixture {
	t.Helper()
	store := progressiontest.NewStore()
	stages := store.AddCycle(10, 20, 30, 40, 50)
	first := stages[0].ID
	rep := progression.Actor{UserID: "rep-1", Role: auth.RoleSales}
	customer := store.AddCustomer(progression.Customer{
		OwnerID:        rep.UserID,
		Category:       "Pendidikan",
		PIC:            "Bu Sari",
		Institution:    "SMA Negeri 1",
		CurrentStageID: &first,
		Status:         progression.StatusNew,
	})
	files := progressiontest.NewFiles()
	clock := progressiontest.NewClock(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	svc := progression.NewService(store, progression.NewResolver(progression.DefaultCategoryTable()), cfg,
		progression.WithFileStore(files),
		progression.WithClock(clock),
		progression.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return &fixture{
		t: t, ctx: context.Background(), store: store, files: files, clock: clock, svc: svc,
		stages: stages, rep: rep, customer: customer,
	}
}

func (f *fixture) task(stage progression.Stage, kind progression.InputKind, description string) progression.Task {
	return f.store.AddTask(progression.Task{
		OwnerID:     f.rep.UserID,
		StageID:     stage.ID,
		Description: description,
		InputKind:   kind,
	})
}

func (f *fixture) submit(task progression.Task, evidence string) (progression.SubmissionResult, error) {
	return f.svc.SubmitProgress(f.ctx, f.rep, progression.SubmitInput{
		CustomerID: f.customer.ID,
		TaskID:     task.ID,
		Evidence:   progression.Evidence{Text: evidence},
	})
}

func (f *fixture) approve(task progression.Task) progression.SubmissionResult {
	f.t.Helper()
	res, err := f.svc.SubmitProgress(f.ctx, f.rep, progression.SubmitInput{CustomerID: f.customer.ID, TaskID: task.ID})
	require.NoError(f.t, err)
	require.True(f.t, res.Accepted, res.Reason)
	return res
}

func TestVisitOneScenario(t *testing.T) {
	f := newFixture(t, progression.Config{})
	visit1, visit2 := f.stages[0], f.stages[1]
	phone := f.task(visit1, progression.InputPhone, "Nomor telepon PIC")
	talk := f.task(visit1, progression.InputText, "Koordinasi awal")

	first, err := f.submit(phone, "12345")
	require.NoError(t, err)
	assert.False(t, first.Accepted)
	assert.Equal(t, progression.SubmissionRejected, first.Status)
	assert.Equal(t, 0.0, first.ProgressWeight)
	assert.Equal(t, 0.0, first.Completion.Percent)

	second, err := f.submit(phone, "08123456789")
	require.NoError(t, err)
	assert.True(t, second.Accepted)
	assert.Equal(t, first.SubmissionID, second.SubmissionID)
	assert.Equal(t, 50.0, second.ProgressWeight)
	assert.Equal(t, 50.0, second.Completion.Percent)
	assert.False(t, second.Advanced)
	assert.Equal(t, 1, f.store.SubmissionCount())

	att, ok := f.store.Attachment(second.SubmissionID)
	require.True(t, ok)
	require.NotNil(t, att.Content)
	assert.Equal(t, "08123456789", *att.Content)

	third, err := f.submit(talk, "Sudah melakukan koordinasi dengan kepala sekolah")
	require.NoError(t, err)
	assert.True(t, third.Accepted)
	assert.True(t, third.Completion.IsComplete)
	assert.Equal(t, 100.0, third.Completion.Percent)
	assert.True(t, third.Advanced)

	customer := f.store.Customer(f.customer.ID)
	require.NotNil(t, customer.CurrentStageID)
	assert.Equal(t, visit2.ID, *customer.CurrentStageID)
	assert.Equal(t, progression.StatusWarmProspect, customer.Status)
	require.NotNil(t, customer.StatusChangedAt)
	assert.True(t, customer.StatusChangedAt.Equal(f.clock.Now()))
	assert.Equal(t, 10.0, customer.EarnedPoints)
	assert.Equal(t, 10.0, customer.MaxPoints)
	assert.Equal(t, 100.0, customer.ScorePercentage)

	score, ok := f.store.Score(f.customer.ID, visit1.ID, f.rep.UserID)
	require.True(t, ok)
	assert.Equal(t, 10.0, score.EarnedPoints)
	assert.Equal(t, progression.ScoreStatusCompleted, score.Status)
}

func TestApprovedSubmissionIsFinal(t *testing.T) {
	f := newFixture(t, progression.Config{})
	a := f.task(f.stages[0], progression.InputNone, "Kunjungan")
	f.task(f.stages[0], progression.InputNone, "Kunjungan kedua")
	res := f.approve(a)

	_, err := f.submit(a, "lagi")
	assert.ErrorIs(t, err, progression.ErrConflict)

	_, err = f.svc.ResubmitProgress(f.ctx, f.rep, res.SubmissionID, progression.Evidence{Text: "lagi"})
	assert.ErrorIs(t, err, progression.ErrForbidden)

	sub, ok := f.store.Submission(res.SubmissionID)
	require.True(t, ok)
	assert.Equal(t, progression.SubmissionApproved, sub.Status)
	assert.Equal(t, 1, f.store.SubmissionCount())
}

func TestResubmitRejectedSubmission(t *testing.T) {
	f := newFixture(t, progression.Config{})
	amount := f.task(f.stages[0], progression.InputCurrency, "Harga penawaran")
	f.task(f.stages[0], progression.InputNone, "Kunjungan")

	rejected, err := f.submit(amount, "belum ada target")
	require.NoError(t, err)
	require.False(t, rejected.Accepted)

	res, err := f.svc.ResubmitProgress(f.ctx, f.rep, rejected.SubmissionID, progression.Evidence{Text: "Rp 25.000.000"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, rejected.SubmissionID, res.SubmissionID)
	assert.Equal(t, "Rp 25.000.000", res.Amount)

	att, ok := f.store.Attachment(res.SubmissionID)
	require.True(t, ok)
	assert.Equal(t, "Rp 25.000.000", *att.Content)

	_, err = f.svc.ResubmitProgress(f.ctx, f.rep, 9999, progression.Evidence{Text: "x"})
	assert.ErrorIs(t, err, progression.ErrNotFound)
}

func TestCompletionGatesAdvance(t *testing.T) {
	f := newFixture(t, progression.Config{})
	visit1 := f.stages[0]
	tasks := []progression.Task{
		f.task(visit1, progression.InputNone, "Satu"),
		f.task(visit1, progression.InputNone, "Dua"),
		f.task(visit1, progression.InputNone, "Tiga"),
	}
	f.approve(tasks[0])
	res := f.approve(tasks[1])
	assert.Equal(t, 66.67, res.Completion.Percent)
	assert.Equal(t, 33.33, res.ProgressWeight)

	_, err := f.svc.AdvanceStage(f.ctx, f.rep, f.customer.ID, progression.AdvanceRequest{Mode: progression.ModeAuto})
	assert.ErrorIs(t, err, progression.ErrStageIncomplete)
	assert.Equal(t, visit1.ID, *f.store.Customer(f.customer.ID).CurrentStageID)

	res = f.approve(tasks[2])
	assert.True(t, res.Advanced)
	assert.Equal(t, f.stages[1].ID, *res.Customer.CurrentStageID)
}

func TestSummaryPolicyWaitsForSummary(t *testing.T) {
	f := newFixture(t, progression.Config{Policy: progression.AdvanceSummary})
	only := f.task(f.stages[0], progression.InputNone, "Kunjungan")

	res := f.approve(only)
	assert.True(t, res.Completion.IsComplete)
	assert.False(t, res.Advanced)
	assert.True(t, res.SummaryRequired)
	assert.True(t, f.store.Customer(f.customer.ID).SummaryRequired)

	_, err := f.svc.AdvanceStage(f.ctx, f.rep, f.customer.ID, progression.AdvanceRequest{Mode: progression.ModeAuto})
	assert.ErrorIs(t, err, progression.ErrSummaryRequired)

	_, err = f.svc.AdvanceStage(f.ctx, f.rep, f.customer.ID, progression.AdvanceRequest{Mode: progression.ModeSummaryConfirm, Summary: "ok"})
	assert.ErrorIs(t, err, progression.ErrValidation)

	customer, err := f.svc.AdvanceStage(f.ctx, f.rep, f.customer.ID, progression.AdvanceRequest{
		Mode:    progression.ModeSummaryConfirm,
		Summary: "Sekolah tertarik paket lab komputer",
	})
	require.NoError(t, err)
	assert.Equal(t, f.stages[1].ID, *customer.CurrentStageID)
	assert.Equal(t, progression.StatusWarmProspect, customer.Status)
	assert.False(t, customer.SummaryRequired)

	summary, err := f.svc.GetSummary(f.ctx, f.rep, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sekolah tertarik paket lab komputer", summary.Body)
	require.NotNil(t, summary.StageID)
	assert.Equal(t, f.stages[0].ID, *summary.StageID)
}

func TestSummaryConfirmRequiresCompleteStage(t *testing.T) {
	f := newFixture(t, progression.Config{Policy: progression.AdvanceSummary})
	f.task(f.stages[0], progression.InputNone, "Kunjungan")

	_, err := f.svc.AdvanceStage(f.ctx, f.rep, f.customer.ID, progression.AdvanceRequest{
		Mode:    progression.ModeSummaryConfirm,
		Summary: "Belum lengkap tapi ingin lanjut",
	})
	assert.ErrorIs(t, err, progression.ErrStageIncomplete)
	_, err = f.svc.GetSummary(f.ctx, f.rep, f.customer.ID)
	assert.ErrorIs(t, err, progression.ErrNotFound)
}

func TestSaveSummaryOverwrites(t *testing.T) {
	f := newFixture(t, progression.Config{})
	_, err := f.svc.SaveSummary(f.ctx, f.rep, f.customer.ID, "Draft pertama")
	require.NoError(t, err)
	_, err = f.svc.SaveSummary(f.ctx, f.rep, f.customer.ID, "Draft kedua")
	require.NoError(t, err)

	summary, err := f.svc.GetSummary(f.ctx, f.rep, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Draft kedua", summary.Body)
	assert.Equal(t, f.stages[0].ID, *summary.StageID)

	_, err = f.svc.SaveSummary(f.ctx, f.rep, f.customer.ID, "abc")
	assert.ErrorIs(t, err, progression.ErrValidation)
}

func TestRevertProgress(t *testing.T) {
	f := newFixture(t, progression.Config{})
	a := f.task(f.stages[0], progression.InputNone, "Satu")
	f.task(f.stages[0], progression.InputNone, "Dua")
	res := f.approve(a)
	assert.Equal(t, 5.0, f.store.Customer(f.customer.ID).EarnedPoints)

	other := progression.Actor{UserID: "rep-2", Role: auth.RoleSales}
	_, err := f.svc.RevertProgress(f.ctx, other, res.SubmissionID)
	assert.ErrorIs(t, err, progression.ErrForbidden)

	reverted, err := f.svc.RevertProgress(f.ctx, f.rep, res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, progression.SubmissionRejected, reverted.Status)
	assert.Equal(t, progression.RevertNote, reverted.Reason)
	assert.Equal(t, 0.0, reverted.Completion.Percent)

	sub, _ := f.store.Submission(res.SubmissionID)
	assert.Equal(t, 0.0, sub.ProgressWeight)
	assert.Equal(t, progression.RevertNote, sub.ReviewerNote)
	assert.Equal(t, 0.0, f.store.Customer(f.customer.ID).EarnedPoints)

	_, err = f.svc.RevertProgress(f.ctx, f.rep, res.SubmissionID)
	assert.ErrorIs(t, err, progression.ErrInvalidState)

	again, err := f.submit(a, "")
	require.NoError(t, err)
	assert.True(t, again.Accepted)
	assert.Equal(t, res.SubmissionID, again.SubmissionID)
}

func TestRevertKeepsAdvance(t *testing.T) {
	f := newFixture(t, progression.Config{})
	only := f.task(f.stages[0], progression.InputNone, "Kunjungan")
	res := f.approve(only)
	require.True(t, res.Advanced)

	_, err := f.svc.RevertProgress(f.ctx, f.rep, res.SubmissionID)
	require.NoError(t, err)

	customer := f.store.Customer(f.customer.ID)
	assert.Equal(t, f.stages[1].ID, *customer.CurrentStageID)
	assert.Equal(t, progression.StatusWarmProspect, customer.Status)
	score, _ := f.store.Score(f.customer.ID, f.stages[0].ID, f.rep.UserID)
	assert.Equal(t, 0.0, score.EarnedPoints)
	assert.Equal(t, progression.ScoreStatusActive, score.Status)
}

func TestRevertClearsPendingSummaryFlag(t *testing.T) {
	f := newFixture(t, progression.Config{Policy: progression.AdvanceSummary})
	only := f.task(f.stages[0], progression.InputNone, "Kunjungan")
	res := f.approve(only)
	require.True(t, res.SummaryRequired)

	reverted, err := f.svc.RevertProgress(f.ctx, f.rep, res.SubmissionID)
	require.NoError(t, err)
	assert.False(t, reverted.SummaryRequired)
	assert.False(t, f.store.Customer(f.customer.ID).SummaryRequired)
}

func TestSkipStage(t *testing.T) {
	f := newFixture(t, progression.Config{})
	f.task(f.stages[0], progression.InputNone, "Kunjungan")
	manager := progression.Actor{UserID: "mgr", Role: auth.RoleSalesManager}

	customer, err := f.svc.AdvanceStage(f.ctx, manager, f.customer.ID, progression.AdvanceRequest{Mode: progression.ModeSkip})
	require.NoError(t, err)
	assert.Equal(t, f.stages[1].ID, *customer.CurrentStageID)
	assert.Equal(t, progression.StatusWarmProspect, customer.Status)

	score, ok := f.store.Score(f.customer.ID, f.stages[0].ID, f.rep.UserID)
	require.True(t, ok)
	assert.Equal(t, progression.ScoreStatusSkipped, score.Status)

	_, err = f.svc.RecomputeScore(f.ctx, f.customer.ID, f.stages[0].ID, "")
	require.NoError(t, err)
	score, _ = f.store.Score(f.customer.ID, f.stages[0].ID, f.rep.UserID)
	assert.Equal(t, progression.ScoreStatusSkipped, score.Status)

	for i := 0; i < 3; i++ {
		_, err = f.svc.AdvanceStage(f.ctx, manager, f.customer.ID, progression.AdvanceRequest{Mode: progression.ModeSkip})
		require.NoError(t, err)
	}
	last := f.store.Customer(f.customer.ID)
	assert.Equal(t, f.stages[4].ID, *last.CurrentStageID)
	assert.Equal(t, progression.StatusAfterSales, last.Status)

	_, err = f.svc.AdvanceStage(f.ctx, manager, f.customer.ID, progression.AdvanceRequest{Mode: progression.ModeSkip})
	assert.ErrorIs(t, err, progression.ErrNotFound)

	stranger := progression.Actor{UserID: "rep-9", Role: auth.RoleSales}
	_, err = f.svc.AdvanceStage(f.ctx, stranger, f.customer.ID, progression.AdvanceRequest{Mode: progression.ModeSkip})
	assert.ErrorIs(t, err, progression.ErrForbidden)
}

func TestAdvanceWithoutStage(t *testing.T) {
	f := newFixture(t, progression.Config{})
	bare := f.store.AddCustomer(progression.Customer{OwnerID: f.rep.UserID, Category: "Pendidikan"})
	_, err := f.svc.AdvanceStage(f.ctx, f.rep, bare.ID, progression.AdvanceRequest{Mode: progression.ModeSkip})
	assert.ErrorIs(t, err, progression.ErrNotFound)
	_, err = f.svc.AdvanceStage(f.ctx, f.rep, bare.ID, progression.AdvanceRequest{Mode: "sideways"})
	assert.ErrorIs(t, err, progression.ErrValidation)
}

func TestLastStageCompletes(t *testing.T) {
	f := newFixture(t, progression.Config{})
	last := f.stages[4]
	lastID := last.ID
	f.customer = f.store.AddCustomer(progression.Customer{
		OwnerID: f.rep.UserID, Category: "Pendidikan", CurrentStageID: &lastID, Status: progression.StatusAfterSales,
	})
	only := f.task(last, progression.InputNone, "Survey kepuasan")

	res := f.approve(only)
	assert.True(t, res.Advanced)
	assert.Equal(t, progression.StatusCompleted, res.Customer.Status)
	assert.Equal(t, lastID, *res.Customer.CurrentStageID)
}

func TestConvertToProspect(t *testing.T) {
	f := newFixture(t, progression.Config{})
	lead := f.store.AddCustomer(progression.Customer{OwnerID: f.rep.UserID, Category: "Pendidikan"})

	customer, err := f.svc.ConvertToProspect(f.ctx, f.rep, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, f.stages[0].ID, *customer.CurrentStageID)
	assert.Equal(t, progression.StatusNew, customer.Status)

	_, err = f.svc.ConvertToProspect(f.ctx, f.rep, lead.ID)
	assert.ErrorIs(t, err, progression.ErrInvalidState)

	done := f.store.AddCustomer(progression.Customer{OwnerID: f.rep.UserID, Status: progression.StatusCompleted})
	_, err = f.svc.ConvertToProspect(f.ctx, f.rep, done.ID)
	assert.NoError(t, err)
}

func TestSetInactive(t *testing.T) {
	f := newFixture(t, progression.Config{})
	customer, err := f.svc.SetInactive(f.ctx, f.rep, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, progression.StatusInactive, customer.Status)
	assert.Equal(t, f.stages[0].ID, *customer.CurrentStageID)

	_, err = f.svc.SetInactive(f.ctx, f.rep, f.customer.ID)
	assert.ErrorIs(t, err, progression.ErrInvalidState)

	for _, mode := range []progression.AdvanceMode{progression.ModeAuto, progression.ModeSkip} {
		_, err = f.svc.AdvanceStage(f.ctx, f.rep, f.customer.ID, progression.AdvanceRequest{Mode: mode})
		assert.ErrorIs(t, err, progression.ErrInvalidState, mode)
	}

	res := f.approve(f.task(f.stages[0], progression.InputNone, "Kunjungan"))
	assert.False(t, res.Advanced)
	assert.Equal(t, progression.StatusInactive, res.Customer.Status)
	assert.Equal(t, f.stages[0].ID, *res.Customer.CurrentStageID)

	sweep, err := f.svc.SweepScores(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sweep.Customers)
}

func TestResetProspect(t *testing.T) {
	admin := progression.Actor{UserID: "admin", Role: auth.RoleAdministrator}

	locked := newFixture(t, progression.Config{})
	_, err := locked.svc.ResetProspect(locked.ctx, admin, locked.customer.ID)
	assert.ErrorIs(t, err, progression.ErrForbidden)

	f := newFixture(t, progression.Config{DeveloperMode: true})
	_, err = f.svc.ResetProspect(f.ctx, f.rep, f.customer.ID)
	assert.ErrorIs(t, err, progression.ErrForbidden)

	photo := f.task(f.stages[0], progression.InputImage, "Foto kunjungan")
	f.task(f.stages[0], progression.InputNone, "Kunjungan")
	_, err = f.svc.SubmitProgress(f.ctx, f.rep, progression.SubmitInput{
		CustomerID: f.customer.ID,
		TaskID:     photo.ID,
		Evidence:   progression.Evidence{File: &progression.EvidenceFile{Name: "visit.png", Data: pngBytes}},
	})
	require.NoError(t, err)
	_, err = f.svc.SaveSummary(f.ctx, f.rep, f.customer.ID, "Catatan kunjungan")
	require.NoError(t, err)
	require.Equal(t, 1, f.files.Len())

	customer, err := f.svc.ResetProspect(f.ctx, admin, f.customer.ID)
	require.NoError(t, err)
	assert.Nil(t, customer.CurrentStageID)
	assert.Equal(t, progression.StatusNew, customer.Status)
	assert.Equal(t, 0.0, customer.EarnedPoints)
	assert.False(t, customer.SummaryRequired)
	assert.Equal(t, 0, f.store.SubmissionCount())
	assert.Equal(t, 0, f.store.ScoreCount(f.customer.ID))
	assert.Equal(t, 0, f.files.Len())
	_, err = f.svc.GetSummary(f.ctx, f.rep, f.customer.ID)
	assert.ErrorIs(t, err, progression.ErrNotFound)

	customer, err = f.svc.ConvertToProspect(f.ctx, f.rep, f.customer.ID)
	require.NoError(t, err)
	require.NotNil(t, customer.CurrentStageID)
	assert.Equal(t, f.stages[0].ID, *customer.CurrentStageID)
	assert.Equal(t, progression.StatusNew, customer.Status)

	_, err = f.svc.SubmitProgress(f.ctx, f.rep, progression.SubmitInput{
		CustomerID: f.customer.ID,
		TaskID:     photo.ID,
		Evidence:   progression.Evidence{File: &progression.EvidenceFile{Name: "visit.png", Data: pngBytes}},
	})
	require.NoError(t, err)
	customer, err = f.svc.AdvanceStage(f.ctx, f.rep, f.customer.ID, progression.AdvanceRequest{Mode: progression.ModeSkip})
	require.NoError(t, err)
	assert.Equal(t, f.stages[1].ID, *customer.CurrentStageID)
	assert.Equal(t, progression.StatusWarmProspect, customer.Status)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t, progression.Config{})
	only := f.task(f.stages[0], progression.InputNone, "Kunjungan")
	f.approve(only)

	first, err := f.svc.RecomputeScore(f.ctx, f.customer.ID, f.stages[0].ID, "")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	second, err := f.svc.RecomputeScore(f.ctx, f.customer.ID, f.stages[0].ID, f.rep.UserID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.store.ScoreCount(f.customer.ID))

	_, err = f.svc.RecomputeScore(f.ctx, 0, f.stages[0].ID, "")
	assert.ErrorIs(t, err, progression.ErrValidation)
	_, err = f.svc.RecomputeScore(f.ctx, f.customer.ID, 9999, "")
	assert.ErrorIs(t, err, progression.ErrNotFound)
}

func TestConcurrentSubmissionsForSamePair(t *testing.T) {
	f := newFixture(t, progression.Config{})
	a := f.task(f.stages[0], progression.InputNone, "Satu")
	f.task(f.stages[0], progression.InputNone, "Dua")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitProgress(f.ctx, f.rep, progression.SubmitInput{CustomerID: f.customer.ID, TaskID: a.ID})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, progression.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, 1, f.store.SubmissionCount())
}

func TestFileEvidenceLifecycle(t *testing.T) {
	f := newFixture(t, progression.Config{})
	photo := f.task(f.stages[0], progression.InputImage, "Foto kunjungan")
	f.task(f.stages[0], progression.InputNone, "Kunjungan")

	f.store.FailOn("UpsertStageScore", errors.New("disk full"))
	_, err := f.svc.SubmitProgress(f.ctx, f.rep, progression.SubmitInput{
		CustomerID: f.customer.ID,
		TaskID:     photo.ID,
		Evidence:   progression.Evidence{File: &progression.EvidenceFile{Name: "visit.png", Data: pngBytes}},
	})
	require.Error(t, err)
	assert.Equal(t, 0, f.files.Len())
	assert.Equal(t, 0, f.store.SubmissionCount())
	f.store.FailOn("UpsertStageScore", nil)

	gif, err := f.svc.SubmitProgress(f.ctx, f.rep, progression.SubmitInput{
		CustomerID: f.customer.ID,
		TaskID:     photo.ID,
		Evidence:   progression.Evidence{File: &progression.EvidenceFile{Name: "visit.gif", MimeType: "image/gif", Data: []byte("GIF89a")}},
	})
	require.NoError(t, err)
	assert.False(t, gif.Accepted)
	assert.Equal(t, 1, f.files.Len())

	png, err := f.svc.ResubmitProgress(f.ctx, f.rep, gif.SubmissionID, progression.Evidence{
		File: &progression.EvidenceFile{Name: "visit.png", Data: pngBytes},
	})
	require.NoError(t, err)
	assert.True(t, png.Accepted)
	assert.Equal(t, 1, f.files.Len())

	att, rc, err := f.svc.OpenAttachment(f.ctx, f.rep, png.SubmissionID)
	require.NoError(t, err)
	require.NotNil(t, rc)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, body)
	assert.Equal(t, "image/png", att.MimeType)
	assert.Equal(t, "visit.png", att.OriginalName)
}

func TestStageProgressView(t *testing.T) {
	f := newFixture(t, progression.Config{})
	visit1 := f.stages[0]
	a := f.task(visit1, progression.InputNone, "Satu")
	b := f.task(visit1, progression.InputPhone, "Dua")
	f.task(visit1, progression.InputNone, "Tiga")
	f.approve(a)
	_, err := f.submit(b, "123")
	require.NoError(t, err)

	view, err := f.svc.GetStageProgress(f.ctx, f.rep, f.customer.ID)
	require.NoError(t, err)
	require.NotNil(t, view.CurrentStage)
	assert.Equal(t, visit1.ID, view.CurrentStage.ID)
	require.Len(t, view.History, 1)
	assert.True(t, view.History[0].IsCurrent)
	assert.False(t, view.History[0].IsCompleted)
	require.Len(t, view.Tasks, 3)
	assert.True(t, view.Tasks[0].IsCompleted)
	assert.True(t, view.Tasks[1].IsRejected)
	require.NotNil(t, view.Tasks[1].Attachment)
	assert.Nil(t, view.Tasks[2].SubmissionID)
	assert.Equal(t, 3, view.Stats.Assigned)
	assert.Equal(t, 1, view.Stats.Approved)
	assert.Equal(t, 33.33, view.Stats.Percent)
	assert.Equal(t, 3.33, view.Stats.ActualPoints)

	stranger := progression.Actor{UserID: "rep-9", Role: auth.RoleSales}
	_, err = f.svc.GetStageProgress(f.ctx, stranger, f.customer.ID)
	assert.ErrorIs(t, err, progression.ErrForbidden)
}

func TestCategoryAwareProgressWeight(t *testing.T) {
	f := newFixture(t, progression.Config{})
	visit1 := f.stages[0]
	gov, sub := int64(2), "KEDINASAN"
	school := int64(1)
	unit := "UKPBJ"
	id := visit1.ID
	f.customer = f.store.AddCustomer(progression.Customer{
		OwnerID: f.rep.UserID, Category: "Pemerintah", SubCategory: &unit,
		CurrentStageID: &id, Status: progression.StatusNew,
	})
	a := f.store.AddTask(progression.Task{OwnerID: f.rep.UserID, StageID: id, CategoryMarker: &gov, SubCategory: &sub})
	f.store.AddTask(progression.Task{OwnerID: f.rep.UserID, StageID: id, CategoryMarker: &gov})
	other := f.store.AddTask(progression.Task{OwnerID: f.rep.UserID, StageID: id, CategoryMarker: &school})

	res := f.approve(a)
	assert.Equal(t, 50.0, res.ProgressWeight)
	assert.Equal(t, 2, res.Completion.AssignedCount)

	_, err := f.submit(other, "")
	assert.ErrorIs(t, err, progression.ErrValidation)
}

func TestSubmitAuthorization(t *testing.T) {
	f := newFixture(t, progression.Config{})
	a := f.task(f.stages[0], progression.InputNone, "Satu")
	f.task(f.stages[0], progression.InputNone, "Dua")

	_, err := f.svc.SubmitProgress(f.ctx, progression.Actor{UserID: "rep-2", Role: auth.RoleSales},
		progression.SubmitInput{CustomerID: f.customer.ID, TaskID: a.ID})
	assert.ErrorIs(t, err, progression.ErrForbidden)

	res, err := f.svc.SubmitProgress(f.ctx, progression.Actor{UserID: "mgr", Role: auth.RoleSalesManager},
		progression.SubmitInput{CustomerID: f.customer.ID, TaskID: a.ID})
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	_, err = f.svc.SubmitProgress(f.ctx, f.rep, progression.SubmitInput{CustomerID: f.customer.ID})
	assert.ErrorIs(t, err, progression.ErrValidation)
	_, err = f.svc.SubmitProgress(f.ctx, f.rep, progression.SubmitInput{CustomerID: f.customer.ID, TaskID: 9999})
	assert.ErrorIs(t, err, progression.ErrNotFound)
}

func TestSweepAndRepPoints(t *testing.T) {
	f := newFixture(t, progression.Config{})
	a := f.task(f.stages[0], progression.InputNone, "Satu")
	f.task(f.stages[0], progression.InputNone, "Dua")
	f.approve(a)

	res, err := f.svc.SweepScores(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, progression.SweepResult{Customers: 1, Updated: 1}, res)

	points, err := f.svc.RepPoints(f.ctx, f.rep.UserID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, points)
}

func TestDefineAndListTasks(t *testing.T) {
	f := newFixture(t, progression.Config{})
	manager := progression.Actor{UserID: "mgr", Role: auth.RoleSalesManager}

	_, err := f.svc.DefineTasks(f.ctx, f.rep, f.rep.UserID, f.stages[0].ID, []progression.TaskInput{{Description: "x"}})
	assert.ErrorIs(t, err, progression.ErrForbidden)

	_, err = f.svc.DefineTasks(f.ctx, manager, f.rep.UserID, f.stages[0].ID, []progression.TaskInput{{Description: "x", InputKind: "hologram"}})
	assert.ErrorIs(t, err, progression.ErrValidation)

	created, err := f.svc.DefineTasks(f.ctx, manager, f.rep.UserID, f.stages[0].ID, []progression.TaskInput{
		{Description: "Kirim company profile", InputKind: progression.InputText},
		{Description: "Foto kunjungan", InputKind: progression.InputImage, EvidenceRequired: true},
		{Description: "Checklist"},
	})
	require.NoError(t, err)
	require.Len(t, created, 3)
	assert.Equal(t, progression.InputNone, created[2].InputKind)

	listed, err := f.svc.ListTasks(f.ctx, f.rep, "", f.stages[0].ID)
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	_, err = f.svc.ListTasks(f.ctx, progression.Actor{UserID: "rep-2", Role: auth.RoleSales}, f.rep.UserID, f.stages[0].ID)
	assert.ErrorIs(t, err, progression.ErrForbidden)
}
