package game_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/overlord-community/backend/internal/auth"
	"github.com/overlord-community/backend/internal/game"
	"github.com/overlord-community/backend/internal/model"
	"github.com/overlord-community/backend/internal/store"
)

// asUser injects u as the authenticated user, bypassing token checks.
func asUser(u *model.User) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), u)))
		})
	}
}

// newTestEnv wires the game service behind a chi router with a fixed
// authenticated user.
func newTestEnv(t *testing.T, user *model.User) (*store.MemoryStore, *game.Engine, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	engine := game.NewEngine(ms)
	svc := game.NewService(ms, engine)

	r := chi.NewRouter()
	r.Use(asUser(user))
	r.Post("/api/v1/wagers", svc.PlaceWager)
	r.Get("/api/v1/wagers", svc.MyWagers)
	r.Get("/api/v1/wagers/all", svc.AllWagers)
	r.Delete("/api/v1/wagers/all", svc.ClearWagers)
	r.Post("/api/v1/game/draw", svc.RunDraw)
	r.Get("/api/v1/game/history", svc.History)
	r.Get("/api/v1/game/settings", svc.GetSettings)
	r.Put("/api/v1/game/settings", svc.UpdateSettings)
	r.Get("/api/v1/game/frames", svc.ListFrames)
	r.Get("/api/v1/users", svc.ListUsers)
	r.Put("/api/v1/users/{email}/balance", svc.GrantBalance)

	return ms, engine, r
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func testUser(id string, balance float64) *model.User {
	return &model.User{
		ID:        id,
		Name:      "name-" + id,
		Email:     id + "@example.com",
		Balance:   d(balance),
		CreatedAt: time.Now().UTC(),
	}
}

func TestPlaceWager_DebitsAndRecords(t *testing.T) {
	user := testUser("u1", 100)
	ms, _, router := newTestEnv(t, user)
	seedUser(t, ms, "u1", 100)

	w := do(t, router, "POST", "/api/v1/wagers", map[string]any{
		"frame_id": 3,
		"amount":   10,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Wager   model.Wager     `json:"wager"`
		Balance json.RawMessage `json:"balance"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Wager.FrameID != 3 || resp.Wager.FrameName != game.FrameName(3) {
		t.Errorf("unexpected wager frame: %+v", resp.Wager)
	}
	if resp.Wager.Tickets != 1 {
		t.Errorf("tickets should default to 1, got %d", resp.Wager.Tickets)
	}

	u, _ := ms.GetUser(context.Background(), "u1")
	if !u.Balance.Equal(d(90)) {
		t.Errorf("expected balance 90 after debit, got %s", u.Balance)
	}

	wagers, _ := ms.GetOpenWagers(context.Background())
	if len(wagers) != 1 {
		t.Fatalf("expected 1 open wager, got %d", len(wagers))
	}
	if wagers[0].UserName != user.Name {
		t.Errorf("owner name should be denormalized, got %q", wagers[0].UserName)
	}
}

func TestPlaceWager_InsufficientBalance(t *testing.T) {
	ms, _, router := newTestEnv(t, testUser("u1", 100))
	seedUser(t, ms, "u1", 7)

	w := do(t, router, "POST", "/api/v1/wagers", map[string]any{
		"frame_id": 3,
		"amount":   10,
	})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}

	// Refused wager leaves no trace: balance and pool unchanged.
	u, _ := ms.GetUser(context.Background(), "u1")
	if !u.Balance.Equal(d(7)) {
		t.Errorf("balance changed on refused wager: %s", u.Balance)
	}
	wagers, _ := ms.GetOpenWagers(context.Background())
	if len(wagers) != 0 {
		t.Errorf("wager leaked from refused placement: %d", len(wagers))
	}
}

func TestPlaceWager_Validation(t *testing.T) {
	ms, _, router := newTestEnv(t, testUser("u1", 100))
	seedUser(t, ms, "u1", 5000)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"unknown frame", map[string]any{"frame_id": 21, "amount": 10}},
		{"zero frame", map[string]any{"frame_id": 0, "amount": 10}},
		{"below minimum", map[string]any{"frame_id": 3, "amount": 1}},
		{"above maximum", map[string]any{"frame_id": 3, "amount": 2000}},
		{"negative tickets", map[string]any{"frame_id": 3, "amount": 10, "tickets": -1}},
	}
	for _, tc := range cases {
		w := do(t, router, "POST", "/api/v1/wagers", tc.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", tc.name, w.Code, w.Body.String())
		}
	}
}

func TestMyWagers_OnlyOwn(t *testing.T) {
	ms, _, router := newTestEnv(t, testUser("u1", 100))
	seedUser(t, ms, "u1", 100)
	seedUser(t, ms, "u2", 100)
	seedWager(t, ms, "u1", 3, 10)
	seedWager(t, ms, "u2", 7, 20)

	w := do(t, router, "GET", "/api/v1/wagers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Wagers []model.Wager `json:"wagers"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Wagers) != 1 || resp.Wagers[0].UserID != "u1" {
		t.Errorf("expected only u1's wager, got %+v", resp.Wagers)
	}
}

func TestAllWagers_IncludesTotal(t *testing.T) {
	ms, _, router := newTestEnv(t, testUser("admin", 0))
	seedUser(t, ms, "u1", 100)
	seedWager(t, ms, "u1", 3, 10)
	seedWager(t, ms, "u1", 7, 25)

	w := do(t, router, "GET", "/api/v1/wagers/all", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Wagers      []model.Wager   `json:"wagers"`
		TotalStaked json.RawMessage `json:"total_staked"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Wagers) != 2 {
		t.Errorf("expected 2 wagers, got %d", len(resp.Wagers))
	}
	if string(resp.TotalStaked) != `"35"` {
		t.Errorf("expected total 35, got %s", resp.TotalStaked)
	}
}

func TestRunDraw_EndToEnd(t *testing.T) {
	ms, engine, router := newTestEnv(t, testUser("admin", 0))
	engine.SetDrawFunc(fixedDraw(3))
	seedUser(t, ms, "u1", 0)
	seedWager(t, ms, "u1", 3, 10)

	w := do(t, router, "POST", "/api/v1/game/draw", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var report model.SettlementReport
	json.Unmarshal(w.Body.Bytes(), &report)
	if report.FrameID != 3 || report.WinnersCount != 1 {
		t.Errorf("unexpected report: %+v", report)
	}

	// A second draw finds the pool empty.
	w = do(t, router, "POST", "/api/v1/game/draw", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on empty pool, got %d", w.Code)
	}
}

func TestHistory_LimitAndOrder(t *testing.T) {
	ms, _, router := newTestEnv(t, testUser("u1", 0))
	for i := 1; i <= 15; i++ {
		ms.AppendDrawRecord(context.Background(), &model.DrawRecord{
			ID:      string(rune('a' + i)),
			FrameID: i%game.FrameCount + 1,
		})
	}

	w := do(t, router, "GET", "/api/v1/game/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Draws []model.DrawRecord `json:"draws"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Draws) != 10 {
		t.Errorf("default limit should be 10, got %d", len(resp.Draws))
	}

	w = do(t, router, "GET", "/api/v1/game/history?limit=3", nil)
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Draws) != 3 {
		t.Errorf("expected 3 records, got %d", len(resp.Draws))
	}

	w = do(t, router, "GET", "/api/v1/game/history?limit=nope", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestUpdateSettings_Validation(t *testing.T) {
	_, _, router := newTestEnv(t, testUser("admin", 0))

	cases := []struct {
		name string
		body map[string]any
	}{
		{"negative base prize", map[string]any{"base_prize": -1, "multiplier": 5, "min_wager": 5, "max_wager": 100}},
		{"multiplier below one", map[string]any{"base_prize": 100, "multiplier": 0.5, "min_wager": 5, "max_wager": 100}},
		{"zero min wager", map[string]any{"base_prize": 100, "multiplier": 5, "min_wager": 0, "max_wager": 100}},
		{"max below min", map[string]any{"base_prize": 100, "multiplier": 5, "min_wager": 50, "max_wager": 10}},
	}
	for _, tc := range cases {
		w := do(t, router, "PUT", "/api/v1/game/settings", tc.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, w.Code)
		}
	}
}

func TestUpdateSettings_PersistsAndKeepsLastDraw(t *testing.T) {
	ms, engine, router := newTestEnv(t, testUser("admin", 0))
	engine.SetDrawFunc(fixedDraw(3))
	seedUser(t, ms, "u1", 0)
	seedWager(t, ms, "u1", 3, 10)

	// Settle once so lastDraw is set.
	if _, err := engine.Settle(context.Background()); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	w := do(t, router, "PUT", "/api/v1/game/settings", map[string]any{
		"base_prize": 200, "multiplier": 3, "min_wager": 10, "max_wager": 500,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	s, _ := ms.GetSettings(context.Background())
	if !s.BasePrize.Equal(d(200)) || !s.Multiplier.Equal(d(3)) {
		t.Errorf("settings not persisted: %+v", s)
	}
	if s.LastDraw == nil {
		t.Error("settings update must not erase the last draw timestamp")
	}
}

func TestGrantBalance(t *testing.T) {
	ms, _, router := newTestEnv(t, testUser("admin", 0))
	seedUser(t, ms, "u1", 5)

	w := do(t, router, "PUT", "/api/v1/users/u1@example.com/balance", map[string]any{"amount": 45})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	u, _ := ms.GetUser(context.Background(), "u1")
	if !u.Balance.Equal(d(50)) {
		t.Errorf("expected balance 50, got %s", u.Balance)
	}

	w = do(t, router, "PUT", "/api/v1/users/nobody@example.com/balance", map[string]any{"amount": 1})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", w.Code)
	}

	w = do(t, router, "PUT", "/api/v1/users/u1@example.com/balance", map[string]any{"amount": -5})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative amount, got %d", w.Code)
	}
}

func TestListFrames_FullCatalog(t *testing.T) {
	_, _, router := newTestEnv(t, testUser("u1", 0))

	w := do(t, router, "GET", "/api/v1/game/frames", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Frames []game.Frame `json:"frames"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Frames) != game.FrameCount {
		t.Fatalf("expected %d frames, got %d", game.FrameCount, len(resp.Frames))
	}
	if resp.Frames[0].ID != 1 || resp.Frames[0].Name == "" {
		t.Errorf("unexpected first frame: %+v", resp.Frames[0])
	}
}

func TestClearWagers(t *testing.T) {
	ms, _, router := newTestEnv(t, testUser("admin", 0))
	seedUser(t, ms, "u1", 100)
	seedWager(t, ms, "u1", 3, 10)

	w := do(t, router, "DELETE", "/api/v1/wagers/all", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Cleared int64 `json:"cleared"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Cleared != 1 {
		t.Errorf("expected 1 cleared, got %d", resp.Cleared)
	}
}
