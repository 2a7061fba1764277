package community_test

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
	"github.com/overlord-community/backend/internal/community"
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

func newTestEnv(t *testing.T, user *model.User) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := community.NewService(ms)

	r := chi.NewRouter()
	r.Use(asUser(user))
	r.Post("/api/v1/tournament/register", svc.RegisterTournament)
	r.Get("/api/v1/tournament/registrations", svc.ListRegistrations)
	r.Post("/api/v1/battles", svc.CreateBattle)
	r.Get("/api/v1/battles", svc.ListBattles)
	r.Post("/api/v1/builds", svc.CreateBuild)
	r.Get("/api/v1/builds", svc.ListBuilds)
	r.Get("/api/v1/builds/{id}", svc.GetBuild)
	r.Put("/api/v1/builds/{id}", svc.UpdateBuild)
	r.Delete("/api/v1/builds/{id}", svc.DeleteBuild)

	return ms, r
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

func member(id string) *model.User {
	return &model.User{ID: id, Name: "name-" + id, Email: id + "@example.com", CreatedAt: time.Now().UTC()}
}

func admin(id string) *model.User {
	u := member(id)
	u.IsAdmin = true
	return u
}

func validEntry() map[string]any {
	return map[string]any{
		"nickname":       "ShadowStep",
		"mastery_rank":   18,
		"platform":       "pc",
		"discord":        "shadow#1234",
		"frame":          "Nyx",
		"weapons":        []string{"Vortex Rifle", "Twin Fangs"},
		"event":          "summer-clash-2026",
		"agree_to_rules": true,
	}
}

func TestRegisterTournament(t *testing.T) {
	ms, router := newTestEnv(t, member("u1"))

	w := do(t, router, "POST", "/api/v1/tournament/register", validEntry())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var entry model.TournamentEntry
	json.Unmarshal(w.Body.Bytes(), &entry)
	if entry.UserID != "u1" || entry.Nickname != "ShadowStep" {
		t.Errorf("unexpected entry: %+v", entry)
	}

	entries, total, _ := ms.ListTournamentEntries(context.Background(), 10, 0)
	if total != 1 || len(entries) != 1 {
		t.Errorf("entry not persisted: total=%d", total)
	}
}

func TestRegisterTournament_Duplicate(t *testing.T) {
	_, router := newTestEnv(t, member("u1"))

	do(t, router, "POST", "/api/v1/tournament/register", validEntry())
	w := do(t, router, "POST", "/api/v1/tournament/register", validEntry())
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate registration, got %d", w.Code)
	}
}

func TestRegisterTournament_Validation(t *testing.T) {
	_, router := newTestEnv(t, member("u1"))

	cases := []struct {
		name  string
		patch func(map[string]any)
	}{
		{"missing nickname", func(m map[string]any) { delete(m, "nickname") }},
		{"mastery rank too high", func(m map[string]any) { m["mastery_rank"] = 50 }},
		{"unknown platform", func(m map[string]any) { m["platform"] = "amiga" }},
		{"no weapons", func(m map[string]any) { m["weapons"] = []string{} }},
		{"too many weapons", func(m map[string]any) { m["weapons"] = []string{"a", "b", "c", "d"} }},
		{"rules not agreed", func(m map[string]any) { m["agree_to_rules"] = false }},
	}
	for _, tc := range cases {
		body := validEntry()
		tc.patch(body)
		w := do(t, router, "POST", "/api/v1/tournament/register", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", tc.name, w.Code, w.Body.String())
		}
	}
}

func TestListRegistrations_Pagination(t *testing.T) {
	ms, router := newTestEnv(t, member("u1"))
	for i := 0; i < 5; i++ {
		ms.CreateTournamentEntry(context.Background(), &model.TournamentEntry{
			ID: string(rune('a' + i)), Nickname: string(rune('A' + i)),
		})
	}

	w := do(t, router, "GET", "/api/v1/tournament/registrations?limit=2&offset=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Registrations []model.TournamentEntry `json:"registrations"`
		Total         int64                   `json:"total"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 5 || len(resp.Registrations) != 2 {
		t.Errorf("expected page of 2 from 5, got total=%d len=%d", resp.Total, len(resp.Registrations))
	}

	w = do(t, router, "GET", "/api/v1/tournament/registrations?limit=-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestCreateBattle(t *testing.T) {
	ms, router := newTestEnv(t, admin("mod"))

	w := do(t, router, "POST", "/api/v1/battles", map[string]any{
		"round":           1,
		"winner_nickname": "ShadowStep",
		"loser_nickname":  "IronWall",
		"notes":           "close match",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var battle model.BattleResult
	json.Unmarshal(w.Body.Bytes(), &battle)
	if battle.RecordedBy != "mod" {
		t.Errorf("recorder should be the caller, got %s", battle.RecordedBy)
	}

	battles, total, _ := ms.ListBattleResults(context.Background(), 10, 0)
	if total != 1 || len(battles) != 1 {
		t.Errorf("battle not persisted: total=%d", total)
	}
}

func TestCreateBattle_WinnerIsLoser(t *testing.T) {
	_, router := newTestEnv(t, admin("mod"))

	w := do(t, router, "POST", "/api/v1/battles", map[string]any{
		"round":           1,
		"winner_nickname": "ShadowStep",
		"loser_nickname":  "ShadowStep",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 when winner equals loser, got %d", w.Code)
	}
}

func validBuild() map[string]any {
	return map[string]any{
		"name":        "Max Range Nyx",
		"frame_id":    14,
		"description": "range and efficiency focused",
		"mods":        []string{"Stretch", "Streamline"},
	}
}

func createBuild(t *testing.T, router chi.Router) model.Build {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/builds", validBuild())
	if w.Code != http.StatusCreated {
		t.Fatalf("create build failed: %d %s", w.Code, w.Body.String())
	}
	var b model.Build
	json.Unmarshal(w.Body.Bytes(), &b)
	return b
}

func TestCreateBuild(t *testing.T) {
	_, router := newTestEnv(t, member("u1"))

	b := createBuild(t, router)
	if b.UserID != "u1" || b.AuthorName != "name-u1" {
		t.Errorf("author not recorded: %+v", b)
	}
	if b.FrameName == "" {
		t.Error("frame name should be resolved from the catalog")
	}
}

func TestUpdateBuild_OwnerOnly(t *testing.T) {
	ms, router := newTestEnv(t, member("u1"))
	b := createBuild(t, router)

	// The author can update.
	patch := validBuild()
	patch["name"] = "Renamed"
	w := do(t, router, "PUT", "/api/v1/builds/"+b.ID, patch)
	if w.Code != http.StatusOK {
		t.Fatalf("owner update failed: %d %s", w.Code, w.Body.String())
	}

	// A different member cannot. Same store, different caller.
	svc := community.NewService(ms)
	r2 := chi.NewRouter()
	r2.Use(asUser(member("u2")))
	r2.Put("/api/v1/builds/{id}", svc.UpdateBuild)
	r2.Delete("/api/v1/builds/{id}", svc.DeleteBuild)

	w = do(t, r2, "PUT", "/api/v1/builds/"+b.ID, patch)
	if w.Code != http.StatusForbidden {
		t.Errorf("stranger update should be forbidden, got %d", w.Code)
	}
	w = do(t, r2, "DELETE", "/api/v1/builds/"+b.ID, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("stranger delete should be forbidden, got %d", w.Code)
	}

	// An admin can.
	r3 := chi.NewRouter()
	r3.Use(asUser(admin("mod")))
	r3.Delete("/api/v1/builds/{id}", svc.DeleteBuild)
	w = do(t, r3, "DELETE", "/api/v1/builds/"+b.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("admin delete should succeed, got %d", w.Code)
	}

	if _, err := ms.GetBuild(context.Background(), b.ID); err == nil {
		t.Error("build should be gone after delete")
	}
}

func TestListBuilds_FrameFilter(t *testing.T) {
	ms, router := newTestEnv(t, member("u1"))
	ms.CreateBuild(context.Background(), &model.Build{ID: "b1", FrameID: 3})
	ms.CreateBuild(context.Background(), &model.Build{ID: "b2", FrameID: 14})

	w := do(t, router, "GET", "/api/v1/builds?frame=14", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Builds []model.Build `json:"builds"`
		Total  int64         `json:"total"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 || len(resp.Builds) != 1 || resp.Builds[0].ID != "b2" {
		t.Errorf("unexpected filter result: %+v", resp)
	}

	w = do(t, router, "GET", "/api/v1/builds?frame=99", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown frame, got %d", w.Code)
	}
}

func TestGetBuild_NotFound(t *testing.T) {
	_, router := newTestEnv(t, member("u1"))

	w := do(t, router, "GET", "/api/v1/builds/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
