package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"gorm.io/gorm"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]models.User
}

func (m *memUsers) GetUser(_ context.Context, srn string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[srn]
	if !ok {
		return models.User{}, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (m *memUsers) GetOrCreateUser(_ context.Context, srn string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[srn]
	if !ok {
		u = models.User{SRN: srn}
		m.users[srn] = u
	}
	return u, nil
}

func (m *memUsers) AddCredential(_ context.Context, srn string, c *webauthn.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[srn]
	u.Credentials = append(u.Credentials, *c)
	m.users[srn] = u
	return nil
}

func (m *memUsers) UpdateCredential(context.Context, string, *webauthn.Credential) error {
	return nil
}

type nopGate struct{}

func (nopGate) Confirm(string, string) bool { return true }

func newTestRouter(t *testing.T) (*gin.Engine, *memUsers) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	users := &memUsers{users: map[string]models.User{
		"PES1UG22CS009": {SRN: "PES1UG22CS009", Credentials: []webauthn.Credential{{ID: []byte("c1")}}},
	}}
	svc, err := NewService(Config{
		RPID:          "localhost",
		RPDisplayName: "QR Attendance",
		RPOrigins:     []string{"http://localhost:3000"},
	}, users, nopGate{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	r := gin.New()
	r.POST("/auth/register/begin", svc.BeginRegistration)
	r.POST("/auth/register/finish", svc.FinishRegistration)
	r.GET("/auth/registered", svc.CheckRegistered)
	r.POST("/auth/verify/begin", svc.BeginVerification)
	r.POST("/auth/verify/finish", svc.FinishVerification)
	return r, users
}

func do(r http.Handler, method, path, srn string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if srn != "" {
		req.Header.Set("SRN", srn)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBeginRegistrationIssuesChallenge(t *testing.T) {
	r, users := newTestRouter(t)
	w := do(r, http.MethodPost, "/auth/register/begin", "PES1UG22CS001")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var body struct {
		PublicKey struct {
			Challenge string `json:"challenge"`
		} `json:"publicKey"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.PublicKey.Challenge == "" {
		t.Fatalf("no challenge in %s", w.Body)
	}
	if _, err := users.GetUser(context.Background(), "PES1UG22CS001"); err != nil {
		t.Fatal("user not created on first registration")
	}
}

func TestRegistrationGuards(t *testing.T) {
	r, _ := newTestRouter(t)
	tests := []struct {
		name, method, path, srn string
		want                    int
	}{
		{"missing srn", http.MethodPost, "/auth/register/begin", "", http.StatusBadRequest},
		{"already registered", http.MethodPost, "/auth/register/begin", "PES1UG22CS009", http.StatusConflict},
		{"finish without begin", http.MethodPost, "/auth/register/finish", "PES1UG22CS002", http.StatusBadRequest},
		{"verify without session id", http.MethodPost, "/auth/verify/begin", "PES1UG22CS009", http.StatusBadRequest},
		{"verify unregistered", http.MethodPost, "/auth/verify/begin?sessionId=S1", "PES1UG22CS002", http.StatusBadRequest},
		{"verify finish without begin", http.MethodPost, "/auth/verify/finish?sessionId=S1", "PES1UG22CS009", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(r, tt.method, tt.path, tt.srn); w.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestBeginVerificationForRegisteredUser(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodPost, "/auth/verify/begin?sessionId=S1", "PES1UG22CS009")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
}

func TestCheckRegistered(t *testing.T) {
	r, _ := newTestRouter(t)
	for srn, want := range map[string]bool{"PES1UG22CS009": true, "PES1UG22CS404": false, "": false} {
		w := do(r, http.MethodGet, "/auth/registered", srn)
		var body struct {
			Registered bool `json:"registered"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Registered != want {
			t.Errorf("registered(%q) = %v, want %v", srn, body.Registered, want)
		}
	}
}
