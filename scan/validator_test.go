package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anuragrao04/qr-attendance-core/clock"
	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/anuragrao04/qr-attendance-core/sessions"
	"github.com/anuragrao04/qr-attendance-core/tokens"
	"github.com/anuragrao04/qr-attendance-core/verification"
)

type roster struct {
	mu       sync.Mutex
	enrolled map[string]bool
	size     int
	err      error
}

func (r *roster) IsEnrolled(_ context.Context, studentID, department, year string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	return department == "CSE" && year == "2nd Year" && r.enrolled[studentID], nil
}

func (r *roster) RosterSize(context.Context, string, string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size, r.err
}

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Publish(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type env struct {
	validator *Validator
	manager   *sessions.Manager
	issuer    *tokens.Issuer
	gate      *verification.Gate
	roster    *roster
	events    *recorder
	clock     *clock.FakeClock
	session   models.Session
}

func newEnv(t *testing.T, requireSecondary bool) *env {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC))
	rec := &recorder{}
	ros := &roster{size: 60, enrolled: map[string]bool{
		"PES1UG22CS001": true,
		"PES1UG22CS002": true,
		"PES1UG22CS003": true,
	}}

	manager := sessions.NewManager(ros, rec, sessions.Options{Clock: fake})
	signer, err := tokens.NewSigner("scan-test")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	issuer := tokens.NewIssuer(manager, signer, rec, tokens.Options{
		Clock:             fake,
		TTL:               30 * time.Second,
		CountdownInterval: time.Second,
	})
	gate := verification.NewGate(manager, rec, fake)
	manager.OnClose(issuer.Retire)

	v := NewValidator(issuer, manager, ros, gate, Options{
		RequireSecondaryFactor: requireSecondary,
		FaceTTL:                30 * time.Second,
		Clock:                  fake,
	})

	sess, err := manager.OpenSession(context.Background(), "UE22CS251A", "CSE", "2nd Year")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	t.Cleanup(func() { issuer.Forget(sess.ID) })
	return &env{
		validator: v, manager: manager, issuer: issuer, gate: gate,
		roster: ros, events: rec, clock: fake, session: sess,
	}
}

func (e *env) issue(t *testing.T) models.Token {
	t.Helper()
	tok, err := e.issuer.IssueToken(e.session.ID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return tok
}

func (e *env) scan(raw, student string) (models.ScanResult, error) {
	return e.validator.SubmitScan(context.Background(), models.ScanRequest{
		Token: raw, StudentID: student, Department: "CSE", Year: "2nd Year",
	})
}

func wantCode(t *testing.T, err error, code models.ErrorCode) {
	t.Helper()
	if got := models.CodeOf(err); got != code {
		t.Fatalf("error = %v (code %q), want %q", err, got, code)
	}
}

func TestScanThenConfirmMarksPresent(t *testing.T) {
	e := newEnv(t, true)
	tok := e.issue(t)

	res, err := e.scan(tok.ShortCode, "PES1UG22CS001")
	if err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	if res.Outcome != models.ScanAcceptedPendingSecondary || res.Deadline == nil {
		t.Fatalf("result = %+v", res)
	}
	if want := e.clock.Now().Add(30 * time.Second); !res.Deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", res.Deadline, want)
	}
	if len(e.events.ofType(models.EventVerificationPending)) != 1 {
		t.Fatal("verification_pending not published")
	}

	e.clock.Advance(12 * time.Second)
	if !e.gate.Confirm(e.session.ID, "PES1UG22CS001") {
		t.Fatal("Confirm returned false")
	}
	sess, _ := e.manager.Session(e.session.ID)
	if sum := sess.Summary(); sum.Present != 1 || sum.Absent != 59 {
		t.Fatalf("summary = %+v, want 1 present 59 absent", sum)
	}
	confirmed := e.events.ofType(models.EventPresenceConfirmed)
	if len(confirmed) != 1 {
		t.Fatalf("presence_confirmed events = %d", len(confirmed))
	}
	if data := confirmed[0].Data.(models.PresenceConfirmed); data.CountPresent != 1 || data.CountRemaining != 59 {
		t.Fatalf("presence_confirmed = %+v", data)
	}
}

func TestConfirmAfterFaceWindowLapses(t *testing.T) {
	e := newEnv(t, true)
	tok := e.issue(t)
	if _, err := e.scan(tok.ShortCode, "PES1UG22CS001"); err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}

	e.clock.Advance(31 * time.Second)
	if e.gate.Confirm(e.session.ID, "PES1UG22CS001") {
		t.Fatal("Confirm at 31s returned true")
	}
	if e.manager.IsPresent(e.session.ID, "PES1UG22CS001") {
		t.Fatal("student marked present after the window lapsed")
	}
	if len(e.events.ofType(models.EventVerificationExpired)) != 1 {
		t.Fatal("verification_expired not published exactly once")
	}
}

func TestScanWithoutSecondaryFactor(t *testing.T) {
	e := newEnv(t, false)
	tok := e.issue(t)

	res, err := e.scan(tok.Signed, "PES1UG22CS002")
	if err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	if res.Outcome != models.ScanAccepted || res.MarkedAt == nil || res.AlreadyPresent {
		t.Fatalf("result = %+v", res)
	}
	if !e.manager.IsPresent(e.session.ID, "PES1UG22CS002") {
		t.Fatal("student not present")
	}
}

func TestShortCodeIsCaseInsensitive(t *testing.T) {
	e := newEnv(t, false)
	tok := e.issue(t)
	lower := []rune(tok.ShortCode)
	for i, r := range lower {
		if r >= 'A' && r <= 'Z' {
			lower[i] = r + ('a' - 'A')
		}
	}
	if _, err := e.scan("  "+string(lower)+" ", "PES1UG22CS001"); err != nil {
		t.Fatalf("lower-case code rejected: %v", err)
	}
}

func TestRotationSupersedesOldCode(t *testing.T) {
	e := newEnv(t, true)
	old := e.issue(t)
	e.issue(t)

	_, err := e.scan(old.ShortCode, "PES1UG22CS001")
	wantCode(t, err, models.CodeExpiredCode)
}

func TestExpiredCode(t *testing.T) {
	e := newEnv(t, true)
	tok := e.issue(t)
	e.clock.Advance(31 * time.Second)

	_, err := e.scan(tok.Signed, "PES1UG22CS001")
	wantCode(t, err, models.CodeExpiredCode)
}

func TestTokenIsSingleUse(t *testing.T) {
	e := newEnv(t, false)
	tok := e.issue(t)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i, student := range []string{"PES1UG22CS001", "PES1UG22CS002", "PES1UG22CS003"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.scan(tok.ShortCode, student)
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case models.CodeOf(err) != models.CodeAlreadyUsed:
			t.Fatalf("loser got %v, want already_used", err)
		}
	}
	if winners != 1 {
		t.Fatalf("%d scans won, want exactly 1", winners)
	}
}

func TestCrossScopeIsAccessDenied(t *testing.T) {
	e := newEnv(t, true)
	stale := e.issue(t)
	current := e.issue(t)

	for _, raw := range []string{current.ShortCode, stale.ShortCode} {
		_, err := e.validator.SubmitScan(context.Background(), models.ScanRequest{
			Token: raw, StudentID: "PES1UG21EC001", Department: "ECE", Year: "3rd Year",
		})
		wantCode(t, err, models.CodeAccessDenied)
	}
	// The denied attempt must not have burned the current token.
	if _, err := e.scan(current.ShortCode, "PES1UG22CS001"); err != nil {
		t.Fatalf("current token unusable after a denied scan: %v", err)
	}
}

func TestNotEnrolled(t *testing.T) {
	e := newEnv(t, true)
	_, err := e.scan(e.issue(t).ShortCode, "PES1UG22CS099")
	wantCode(t, err, models.CodeNotEnrolled)

	e.roster.mu.Lock()
	e.roster.err = errors.New("resolver timeout")
	e.roster.mu.Unlock()
	_, err = e.scan(e.issue(t).ShortCode, "PES1UG22CS001")
	wantCode(t, err, models.CodeNotEnrolled)
}

func TestInvalidFormat(t *testing.T) {
	e := newEnv(t, true)
	e.issue(t)
	for _, raw := range []string{"", "   ", "ZZZZZZ", "not.a.jwt"} {
		_, err := e.scan(raw, "PES1UG22CS001")
		wantCode(t, err, models.CodeInvalidFormat)
	}
}

func TestClosedSession(t *testing.T) {
	e := newEnv(t, true)
	tok := e.issue(t)
	if err := e.manager.CloseSession(e.session.ID); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	_, err := e.scan(tok.ShortCode, "PES1UG22CS001")
	wantCode(t, err, models.CodeSessionClosed)
}

func TestCloseDoesNotCancelPendingWindow(t *testing.T) {
	e := newEnv(t, true)
	tok := e.issue(t)
	if _, err := e.scan(tok.ShortCode, "PES1UG22CS001"); err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	e.clock.Advance(5 * time.Second)
	if err := e.manager.CloseSession(e.session.ID); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	e.clock.Advance(5 * time.Second)
	if !e.gate.Confirm(e.session.ID, "PES1UG22CS001") {
		t.Fatal("Confirm of a window opened before close returned false")
	}
	if !e.manager.IsPresent(e.session.ID, "PES1UG22CS001") {
		t.Fatal("late confirmation not recorded")
	}
}

func TestAlreadyPresentStudentSkipsWindow(t *testing.T) {
	e := newEnv(t, true)
	if _, err := e.scan(e.issue(t).ShortCode, "PES1UG22CS001"); err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	e.gate.Confirm(e.session.ID, "PES1UG22CS001")

	res, err := e.scan(e.issue(t).ShortCode, "PES1UG22CS001")
	if err != nil {
		t.Fatalf("second SubmitScan: %v", err)
	}
	if res.Outcome != models.ScanAccepted || !res.AlreadyPresent {
		t.Fatalf("result = %+v", res)
	}
	if len(e.events.ofType(models.EventVerificationPending)) != 1 {
		t.Fatal("a second window was opened")
	}
}

func TestCheckAccess(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()

	tests := []struct {
		name, student, dept, year string
		want                      models.AccessReport
	}{
		{"enrolled", "PES1UG22CS001", "CSE", "2nd Year",
			models.AccessReport{HasAccess: true, ScopeMatch: true, Enrolled: true}},
		{"wrong scope", "PES1UG22CS001", "ECE", "2nd Year",
			models.AccessReport{ScopeMatch: false, Enrolled: true}},
		{"not on roster", "PES1UG22CS099", "cse", "2nd year",
			models.AccessReport{ScopeMatch: true, Enrolled: false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.validator.CheckAccess(ctx, models.CheckAccessRequest{
				SessionID: e.session.ID, StudentID: tt.student, Department: tt.dept, Year: tt.year,
			})
			if err != nil {
				t.Fatalf("CheckAccess: %v", err)
			}
			if got.HasAccess != tt.want.HasAccess || got.ScopeMatch != tt.want.ScopeMatch || got.Enrolled != tt.want.Enrolled {
				t.Fatalf("report = %+v", got)
			}
		})
	}

	_, err := e.validator.CheckAccess(ctx, models.CheckAccessRequest{SessionID: "missing", StudentID: "x"})
	wantCode(t, err, models.CodeSessionNotFound)
}
