package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/mathwhiz/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, username string, role model.UserRole) int64 {
	t.Helper()
	id, err := s.CreateUser(model.User{
		Username:     username,
		DisplayName:  strings.ToUpper(username[:1]) + username[1:],
		PasswordHash: "hash",
		Role:         role,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("createTestUser: %v", err)
	}
	return id
}

func createTestClass(t *testing.T, s *Store, teacherID int64, name string) *model.Class {
	t.Helper()
	c, err := s.CreateClass(model.Class{TeacherID: teacherID, Name: name, Grade: 2})
	if err != nil {
		t.Fatalf("createTestClass: %v", err)
	}
	return c
}

func insertTestQuestion(t *testing.T, s *Store, classID int64, text, answer string) int64 {
	t.Helper()
	res, err := s.db.Exec(
		`INSERT INTO questions (class_id, text, answer, topic, grade) VALUES (?, ?, ?, 'addition', 2)`,
		classID, text, answer)
	if err != nil {
		t.Fatalf("insertTestQuestion: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("insertTestQuestion: %v", err)
	}
	return id
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)

	id := createTestUser(t, s, "alice", model.UserRoleStudent)

	u, err := s.GetUserByUsername("alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.ID != id || u.Role != model.UserRoleStudent || !u.Active {
		t.Fatalf("unexpected user: %+v", u)
	}

	missing, err := s.GetUserByUsername("nobody")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing user, got %v, %v", missing, err)
	}

	if _, err := s.CreateUser(model.User{Username: "alice", PasswordHash: "x", Role: model.UserRoleStudent}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate username should conflict, got %v", err)
	}

	if err := s.SetUserActive(id, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	u, _ = s.GetUserByID(id)
	if u.Active {
		t.Error("user should be inactive")
	}
	if err := s.SetUserActive(9999, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	createTestUser(t, s, "mrs-t", model.UserRoleTeacher)
	teachers, err := s.ListUsers(model.UserRoleTeacher)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(teachers) != 1 || teachers[0].Username != "mrs-t" {
		t.Errorf("unexpected teachers: %+v", teachers)
	}
	count, _ := s.UserCount()
	if count != 2 {
		t.Errorf("expected 2 users, got %d", count)
	}
}

func TestTokenRevocation(t *testing.T) {
	s := newTestStore(t)

	revoked, err := s.IsTokenRevoked("jti-1")
	if err != nil || revoked {
		t.Fatalf("fresh token should not be revoked: %v, %v", revoked, err)
	}
	if err := s.RevokeToken("jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if err := s.RevokeToken("jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken twice: %v", err)
	}
	if revoked, _ := s.IsTokenRevoked("jti-1"); !revoked {
		t.Error("token should be revoked")
	}

	if err := s.RevokeToken("jti-old", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	n, err := s.CleanupRevokedTokens()
	if err != nil {
		t.Fatalf("CleanupRevokedTokens: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired revocation removed, got %d", n)
	}
	if revoked, _ := s.IsTokenRevoked("jti-1"); !revoked {
		t.Error("unexpired revocation should survive cleanup")
	}
}

func TestClassLifecycle(t *testing.T) {
	s := newTestStore(t)
	teacher := createTestUser(t, s, "mrs-t", model.UserRoleTeacher)

	c := createTestClass(t, s, teacher, "Room 4")
	if len(c.JoinCode) != joinCodeLen {
		t.Fatalf("unexpected join code %q", c.JoinCode)
	}
	for _, r := range c.JoinCode {
		if !strings.ContainsRune(joinCodeAlphabet, r) {
			t.Errorf("join code %q contains %q", c.JoinCode, r)
		}
	}

	other := createTestClass(t, s, teacher, "Room 5")
	if other.JoinCode == c.JoinCode {
		t.Error("join codes should differ")
	}

	typed := strings.ToLower(c.JoinCode[:3]) + "-" + c.JoinCode[3:]
	found, err := s.GetClassByJoinCode(typed)
	if err != nil {
		t.Fatalf("GetClassByJoinCode: %v", err)
	}
	if found == nil || found.ID != c.ID {
		t.Errorf("expected class %d for code %q, got %+v", c.ID, typed, found)
	}
	if none, _ := s.GetClassByJoinCode("ZZZZZZZ"); none != nil {
		t.Error("unknown code should return nil")
	}

	if err := s.UpdateClass(c.ID, "Room 4B", 3); err != nil {
		t.Fatalf("UpdateClass: %v", err)
	}
	got, err := s.GetClass(c.ID)
	if err != nil {
		t.Fatalf("GetClass: %v", err)
	}
	if got.Name != "Room 4B" || got.Grade != 3 {
		t.Errorf("update not applied: %+v", got)
	}
	if _, err := s.GetClass(9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	classes, err := s.ListClassesByTeacher(teacher)
	if err != nil {
		t.Fatalf("ListClassesByTeacher: %v", err)
	}
	if len(classes) != 2 {
		t.Errorf("expected 2 classes, got %d", len(classes))
	}
}

func TestEnrollment(t *testing.T) {
	s := newTestStore(t)
	teacher := createTestUser(t, s, "mrs-t", model.UserRoleTeacher)
	alice := createTestUser(t, s, "alice", model.UserRoleStudent)
	bob := createTestUser(t, s, "bob", model.UserRoleStudent)
	c := createTestClass(t, s, teacher, "Room 4")
	qID := insertTestQuestion(t, s, c.ID, "1+1", "2")

	for _, id := range []int64{alice, bob, alice} {
		if err := s.Enroll(c.ID, id); err != nil {
			t.Fatalf("Enroll: %v", err)
		}
	}
	students, err := s.ListStudents(c.ID)
	if err != nil {
		t.Fatalf("ListStudents: %v", err)
	}
	if len(students) != 2 || students[0].Username != "alice" {
		t.Fatalf("unexpected students: %+v", students)
	}
	if ok, _ := s.IsEnrolled(c.ID, bob); !ok {
		t.Error("bob should be enrolled")
	}
	mine, _ := s.ListClassesByStudent(alice)
	if len(mine) != 1 || mine[0].ID != c.ID {
		t.Errorf("unexpected classes for alice: %+v", mine)
	}

	if _, err := s.RecordAttempt(model.Attempt{StudentID: bob, QuestionID: qID, Answer: "2", Correct: true, Score: 1}); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if err := s.RemoveStudent(c.ID, bob); err != nil {
		t.Fatalf("RemoveStudent: %v", err)
	}
	if ok, _ := s.IsEnrolled(c.ID, bob); ok {
		t.Error("bob should be removed")
	}
	attempts, _ := s.ListAttemptsByStudent(c.ID, bob)
	if len(attempts) != 0 {
		t.Errorf("bob's attempts should be removed, got %d", len(attempts))
	}
	if err := s.RemoveStudent(c.ID, bob); !errors.Is(err, ErrNotFound) {
		t.Errorf("removing twice should be ErrNotFound, got %v", err)
	}
}

func TestQuestionSets(t *testing.T) {
	s := newTestStore(t)
	teacher := createTestUser(t, s, "mrs-t", model.UserRoleTeacher)
	c := createTestClass(t, s, teacher, "Room 4")

	manual := insertTestQuestion(t, s, c.ID, "Manual question", "1")

	set, qs, err := s.CreateQuestionSet(
		model.QuestionSet{ClassID: c.ID, Title: "Worksheet 1", Source: model.SourcePDF, CreatedBy: teacher},
		[]model.Question{
			{Text: "3 + 4", Answer: "7", Options: []string{"6", "7", "8"}},
			{Text: "Draw a triangle", Answer: "triangle", Drawing: true},
		},
	)
	if err != nil {
		t.Fatalf("CreateQuestionSet: %v", err)
	}
	if set.ID == 0 || len(qs) != 2 || qs[1].Position != 1 || qs[0].SetID != set.ID {
		t.Fatalf("unexpected set %+v / questions %+v", set, qs)
	}

	all, err := s.ListQuestions(c.ID, 0)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(all))
	}
	inSet, _ := s.ListQuestions(c.ID, set.ID)
	if len(inSet) != 2 || inSet[0].Text != "3 + 4" {
		t.Fatalf("unexpected set questions: %+v", inSet)
	}
	if strings.Join(inSet[0].Options, ",") != "6,7,8" || inSet[0].Source != model.SourcePDF {
		t.Errorf("options/source not round-tripped: %+v", inSet[0])
	}
	if !inSet[1].Drawing || inSet[1].Options != nil {
		t.Errorf("drawing question: %+v", inSet[1])
	}

	if q, _ := s.GetQuestion(manual); q.Options != nil {
		t.Errorf("question without options = %#v, want nil", q.Options)
	}
	if err := s.UpdateQuestionOptions(qs[1].ID, nil); err != nil {
		t.Fatalf("UpdateQuestionOptions(nil): %v", err)
	}
	if q, _ := s.GetQuestion(qs[1].ID); q.Options != nil {
		t.Errorf("cleared options = %#v, want nil", q.Options)
	}

	if err := s.UpdateQuestionOptions(manual, []string{"1", "2"}); err != nil {
		t.Fatalf("UpdateQuestionOptions: %v", err)
	}
	q, _ := s.GetQuestion(manual)
	if len(q.Options) != 2 || q.Source != model.SourceManual {
		t.Errorf("unexpected manual question: %+v", q)
	}

	sets, _ := s.ListQuestionSets(c.ID)
	if len(sets) != 1 || sets[0].Title != "Worksheet 1" {
		t.Errorf("unexpected sets: %+v", sets)
	}

	if err := s.DeleteQuestion(manual); err != nil {
		t.Fatalf("DeleteQuestion: %v", err)
	}
	if _, err := s.GetQuestion(manual); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteQuestion(manual); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteClassInBatches(t *testing.T) {
	s := newTestStore(t)
	teacher := createTestUser(t, s, "mrs-t", model.UserRoleTeacher)
	student := createTestUser(t, s, "alice", model.UserRoleStudent)
	c := createTestClass(t, s, teacher, "Big class")
	keep := createTestClass(t, s, teacher, "Other class")

	qID := insertTestQuestion(t, s, c.ID, "1+1", "2")
	keepQ := insertTestQuestion(t, s, keep.ID, "2+2", "4")
	if err := s.Enroll(c.ID, student); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	const n = 2*deleteBatchSize + 37
	tx, err := s.db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	for i := range n {
		if _, err := tx.Exec(
			`INSERT INTO attempts (student_id, question_id, answer, created_at) VALUES (?, ?, ?, ?)`,
			student, qID, fmt.Sprint(i), time.Now(),
		); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordAttempt(model.Attempt{StudentID: student, QuestionID: keepQ, Answer: "4"}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteClass(c.ID); err != nil {
		t.Fatalf("DeleteClass: %v", err)
	}

	if _, err := s.GetClass(c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("class should be gone, got %v", err)
	}
	var left int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM attempts WHERE question_id = ?`, qID).Scan(&left); err != nil {
		t.Fatal(err)
	}
	if left != 0 {
		t.Errorf("expected all attempts deleted, %d left", left)
	}
	if ok, _ := s.IsEnrolled(c.ID, student); ok {
		t.Error("enrollment should be deleted")
	}
	kept, _ := s.ListAttemptsByClass(keep.ID)
	if len(kept) != 1 {
		t.Errorf("other class's attempts should survive, got %d", len(kept))
	}
	if err := s.DeleteClass(c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete should be ErrNotFound, got %v", err)
	}
}

func TestJobTransitions(t *testing.T) {
	s := newTestStore(t)

	j, err := s.CreateJob(model.Job{ID: "job-1", Kind: model.JobPDFExtraction, OwnerID: 1, ClassID: 2, Input: "uploads/1/abc.pdf"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if j.Status != model.JobPending {
		t.Fatalf("new job status = %q", j.Status)
	}
	if _, err := s.CreateJob(model.Job{ID: "job-1", Kind: model.JobPDFExtraction}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate job ID should conflict, got %v", err)
	}

	if err := s.TransitionJob("job-1", model.JobPending, model.JobProcessing, JobUpdate{}); err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}
	if err := s.UpdateJobProgress("job-1", "reading page 1"); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}

	// A second writer still believing the job is pending loses.
	if err := s.TransitionJob("job-1", model.JobPending, model.JobError, JobUpdate{Error: "late"}); !errors.Is(err, ErrConflict) {
		t.Errorf("stale transition should conflict, got %v", err)
	}
	if err := s.TransitionJob("job-1", model.JobProcessing, model.JobPending, JobUpdate{}); !errors.Is(err, ErrConflict) {
		t.Errorf("illegal transition should conflict, got %v", err)
	}
	if err := s.TransitionJob("missing", model.JobPending, model.JobProcessing, JobUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing job should be ErrNotFound, got %v", err)
	}

	if err := s.TransitionJob("job-1", model.JobProcessing, model.JobCompleted, JobUpdate{Result: []byte(`{"set_id":3}`)}); err != nil {
		t.Fatalf("processing -> completed: %v", err)
	}
	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != model.JobCompleted || string(got.Result) != `{"set_id":3}` || got.Progress != "reading page 1" || got.Input != "uploads/1/abc.pdf" {
		t.Errorf("unexpected job: %+v", got)
	}

	// Terminal jobs ignore progress and cannot be cancelled.
	if err := s.UpdateJobProgress("job-1", "late progress"); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}
	if _, err := s.CancelJob("job-1"); !errors.Is(err, ErrConflict) {
		t.Errorf("cancelling a completed job should conflict, got %v", err)
	}
	got, _ = s.GetJob("job-1")
	if got.Status != model.JobCompleted || got.Progress != "reading page 1" {
		t.Errorf("terminal job modified: %+v", got)
	}
}

func TestCancelJob(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateJob(model.Job{ID: "job-2", Kind: model.JobPDFExtraction, OwnerID: 1}); err != nil {
		t.Fatal(err)
	}
	j, err := s.CancelJob("job-2")
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if j.Status != model.JobCancelled {
		t.Errorf("status = %q", j.Status)
	}
	// The worker finishing afterwards must not overwrite the cancellation.
	if err := s.TransitionJob("job-2", model.JobProcessing, model.JobCompleted, JobUpdate{}); !errors.Is(err, ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
	if _, err := s.CancelJob("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListJobsAndFailStale(t *testing.T) {
	s := newTestStore(t)
	for i := range 3 {
		if _, err := s.CreateJob(model.Job{ID: fmt.Sprintf("job-%d", i), Kind: model.JobPDFExtraction, OwnerID: 7}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.CreateJob(model.Job{ID: "other", Kind: model.JobPDFExtraction, OwnerID: 8}); err != nil {
		t.Fatal(err)
	}
	if err := s.TransitionJob("job-0", model.JobPending, model.JobCancelled, JobUpdate{}); err != nil {
		t.Fatal(err)
	}

	jobs, err := s.ListJobsByOwner(7, 0)
	if err != nil {
		t.Fatalf("ListJobsByOwner: %v", err)
	}
	if len(jobs) != 3 {
		t.Errorf("expected 3 jobs, got %d", len(jobs))
	}
	limited, _ := s.ListJobsByOwner(7, 2)
	if len(limited) != 2 {
		t.Errorf("expected 2 jobs with limit, got %d", len(limited))
	}

	n, err := s.FailStaleJobs("server restarted")
	if err != nil {
		t.Fatalf("FailStaleJobs: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 stale jobs, got %d", n)
	}
	j, _ := s.GetJob("job-0")
	if j.Status != model.JobCancelled {
		t.Errorf("cancelled job should stay cancelled, got %q", j.Status)
	}
	j, _ = s.GetJob("job-1")
	if j.Status != model.JobError || j.Error != "server restarted" {
		t.Errorf("unexpected stale job: %+v", j)
	}
}

func TestUploads(t *testing.T) {
	s := newTestStore(t)

	u, err := s.FindUpload(1, "abc")
	if err != nil || u != nil {
		t.Fatalf("expected nil, nil for missing upload, got %v, %v", u, err)
	}
	if err := s.RecordUpload(Upload{OwnerID: 1, SHA256: "abc", BlobKey: "uploads/1/abc.pdf", Size: 10, JobID: "j1"}); err != nil {
		t.Fatalf("RecordUpload: %v", err)
	}
	if err := s.RecordUpload(Upload{OwnerID: 1, SHA256: "abc", BlobKey: "uploads/1/abc.pdf", Size: 10, JobID: "j2"}); err != nil {
		t.Fatalf("RecordUpload update: %v", err)
	}
	u, err = s.FindUpload(1, "abc")
	if err != nil {
		t.Fatalf("FindUpload: %v", err)
	}
	if u.JobID != "j2" || u.BlobKey != "uploads/1/abc.pdf" {
		t.Errorf("unexpected upload: %+v", u)
	}
	if other, _ := s.FindUpload(2, "abc"); other != nil {
		t.Error("uploads are per owner")
	}
}

func TestExportClass(t *testing.T) {
	s := newTestStore(t)
	teacher := createTestUser(t, s, "mrs-t", model.UserRoleTeacher)
	alice := createTestUser(t, s, "alice", model.UserRoleStudent)
	bob := createTestUser(t, s, "bob", model.UserRoleStudent)
	c := createTestClass(t, s, teacher, "Room 4")
	q1 := insertTestQuestion(t, s, c.ID, "1+1", "2")
	q2 := insertTestQuestion(t, s, c.ID, "2+3", "5")
	for _, id := range []int64{alice, bob} {
		if err := s.Enroll(c.ID, id); err != nil {
			t.Fatal(err)
		}
	}
	for _, a := range []model.Attempt{
		{StudentID: alice, QuestionID: q1, Answer: "2", Correct: true, Score: 1, Feedback: "Yes"},
		{StudentID: alice, QuestionID: q2, Answer: "6", Score: 0, Feedback: "Count again"},
	} {
		if _, err := s.RecordAttempt(a); err != nil {
			t.Fatal(err)
		}
	}

	exp, err := s.ExportClass(c.ID)
	if err != nil {
		t.Fatalf("ExportClass: %v", err)
	}
	if exp.Name != "Room 4" || exp.Questions != 2 || len(exp.Students) != 2 {
		t.Fatalf("unexpected export: %+v", exp)
	}
	a := exp.Students[0]
	if a.Username != "alice" || a.Attempts != 2 || a.Correct != 1 || a.AvgScore != 0.5 {
		t.Errorf("unexpected alice result: %+v", a)
	}
	if a.Answers[1].Question != "2+3" || a.Answers[1].Feedback != "Count again" {
		t.Errorf("unexpected answer: %+v", a.Answers[1])
	}
	if exp.Students[1].Attempts != 0 || exp.Students[1].Answers == nil {
		t.Errorf("bob should have an empty answer list: %+v", exp.Students[1])
	}

	if _, err := s.ExportClass(9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
