package tracking

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/foldclub/internal/database"
	"github.com/dukerupert/foldclub/internal/store"
)

type testEnv struct {
	db       *database.DB
	sessions *store.SessionStore
	consents *store.ConsentStore
	capturer *Capturer
	ledger   *Ledger
}

func setupTrackingTestDB(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sessions := store.NewSessionStore(db)
	consents := store.NewConsentStore(db)
	return &testEnv{
		db:       db,
		sessions: sessions,
		consents: consents,
		capturer: NewCapturer(sessions, slog.Default(), nil, 0),
		ledger:   NewLedger(sessions, consents, slog.Default(), nil),
	}
}

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func pageRequest(target, token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.Header.Set("User-Agent", browserUA)
	if token != "" {
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	}
	return r
}

// sessionCookie returns the fc_session cookie set on rec, or nil.
func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	return nil
}
