package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AfshinJalili/regportal/libs/auth"
	"github.com/AfshinJalili/regportal/libs/httpmiddleware"
	"github.com/AfshinJalili/regportal/libs/logging"
	"github.com/AfshinJalili/regportal/services/portal/internal/cache"
	"github.com/AfshinJalili/regportal/services/portal/internal/catalog"
	"github.com/AfshinJalili/regportal/services/portal/internal/policy"
	"github.com/AfshinJalili/regportal/services/portal/internal/service"
	"github.com/AfshinJalili/regportal/services/portal/internal/session"
	"github.com/AfshinJalili/regportal/services/portal/internal/storage"
	"github.com/AfshinJalili/regportal/services/portal/internal/validation"
	"github.com/AfshinJalili/regportal/services/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("secret")

var (
	requesterActor = testutil.TestActor{
		ID:    testutil.RequesterUserID,
		Name:  "Jan Kowalski",
		Email: testutil.RequesterEmail,
	}
	entityAdminActor = testutil.TestActor{
		ID:       testutil.EntityAdminUserID,
		Name:     "Anna Nowak",
		Email:    testutil.EntityAdminEmail,
		Roles:    []string{auth.RoleEntityAdmin},
		Entities: []string{"ent-1"},
	}
	supervisorActor = testutil.TestActor{
		ID:    testutil.SupervisorUserID,
		Name:  "Supervision Officer",
		Email: testutil.SupervisorEmail,
		Roles: []string{auth.RoleSupervisor},
	}
	systemAdminActor = testutil.TestActor{
		ID:    "00000000-0000-0000-0000-000000000009",
		Name:  "Root",
		Roles: []string{auth.RoleSystemAdmin},
	}
)

type testEnv struct {
	router *gin.Engine
	store  *storage.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx := context.Background()
	store := storage.NewMemoryStore()
	for _, e := range []storage.Entity{
		{ID: "ent-1", Name: "Bank Example S.A.", Category: "bank", ContactEmail: "compliance@bank-example.pl"},
		{ID: "ent-2", Name: "Payments Example Sp. z o.o.", Category: "payment_institution", ContactEmail: "office@pay-example.pl"},
	} {
		require.NoError(t, store.UpsertEntity(ctx, e))
	}
	entities := cache.NewEntityCache()
	require.NoError(t, entities.Load(ctx, store))

	logger := logging.Discard()
	requests := service.NewAccessRequestService(store, entities, nil, logger, nil, service.DefaultTopics())
	sessions := session.NewService(session.NewMemoryStore(), entities, store, logger, nil)

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	h := New(requests, sessions, entities, policy.NewStore(policy.Default()), catalog.New(catalog.DemoSeed()), logger)
	h.Register(router, secret)
	return &testEnv{router: router, store: store}
}

func token(t *testing.T, actor testutil.TestActor) string {
	t.Helper()
	jwt, err := testutil.GenerateJWT(actor, secret, time.Hour, time.Now())
	require.NoError(t, err)
	return jwt
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out), resp.Body.String())
	return out
}

func validDraft() saveRequest {
	return saveRequest{
		Justification: "Need access for quarterly reporting",
		Lines: []validation.LineInput{
			{EntityID: "ent-1", PermissionCodes: []string{"reporting", "cases"}},
		},
	}
}

func TestAccessRequestsRequireToken(t *testing.T) {
	env := newTestEnv(t)

	resp := testutil.MakeAPIRequest(env.router, http.MethodGet, "/api/access-requests/me", nil)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
}

func TestAccessRequestFlow(t *testing.T) {
	env := newTestEnv(t)
	requesterToken := token(t, requesterActor)

	resp := testutil.MakeAuthRequest(env.router, http.MethodGet, "/api/access-requests/me", nil, requesterToken)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	draft := decode[accessRequestItem](t, resp)
	assert.Equal(t, "draft", draft.Status)
	assert.Equal(t, "requester", draft.NextActor)
	assert.Regexp(t, `^AR-\d{4}-[0-9A-F]{8}$`, draft.ReferenceCode)

	resp = testutil.MakeAuthRequest(env.router, http.MethodPatch, "/api/access-requests/"+draft.ID, validDraft(), requesterToken)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	saved := decode[accessRequestItem](t, resp)
	require.Len(t, saved.Lines, 1)
	assert.Equal(t, "compliance@bank-example.pl", saved.Lines[0].ContactEmail)
	assert.Equal(t, []string{"cases", "reporting"}, saved.Lines[0].PermissionCodes)

	resp = testutil.MakeAuthRequest(env.router, http.MethodPost, "/api/access-requests/"+draft.ID+"/submit", nil, requesterToken)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	submitted := decode[accessRequestItem](t, resp)
	assert.Equal(t, "new", submitted.Status)
	assert.Equal(t, "entity_admin", submitted.NextActor)
	require.NotNil(t, submitted.SubmittedAt)

	resp = testutil.MakeAuthRequest(env.router, http.MethodGet, "/api/access-requests?filter=requires-action", nil, token(t, entityAdminActor))
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	listed := decode[listAccessRequestsResponse](t, resp)
	require.Len(t, listed.Items, 1)
	assert.Equal(t, draft.ID, listed.Items[0].ID)

	path := "/api/access-requests/" + draft.ID + "/lines/" + saved.Lines[0].ID + "/approve"
	resp = testutil.MakeAuthRequest(env.router, http.MethodPost, path, decisionRequest{Notes: "ok"}, token(t, entityAdminActor))
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	approved := decode[accessRequestItem](t, resp)
	assert.Equal(t, "approved", approved.Status)
	assert.Equal(t, "none", approved.NextActor)
	assert.False(t, approved.HandledByUKNF)
	require.NotNil(t, approved.DecidedBy)
	assert.Equal(t, testutil.EntityAdminUserID, approved.DecidedBy.ID)

	actions := make([]string, 0, len(approved.History))
	for _, entry := range approved.History {
		actions = append(actions, entry.Action)
	}
	assert.Equal(t, []string{"created", "updated", "submitted", "line approved"}, actions)

	memberships, err := env.store.ListMemberships(context.Background(), testutil.RequesterUserID)
	require.NoError(t, err)
	assert.Len(t, memberships, 2)
}

func TestSaveReportsFieldErrors(t *testing.T) {
	env := newTestEnv(t)
	requesterToken := token(t, requesterActor)

	resp := testutil.MakeAuthRequest(env.router, http.MethodPost, "/api/access-requests", nil, requesterToken)
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	draft := decode[accessRequestItem](t, resp)

	body := saveRequest{
		Justification: "short",
		Lines: []validation.LineInput{
			{EntityID: "ent-404", PermissionCodes: []string{"reporting"}},
			{EntityID: "ent-2", ContactEmail: "not-an-email", PermissionCodes: []string{"reporting"}},
			{EntityID: "ent-1", PermissionCodes: []string{"superuser"}},
		},
	}
	resp = testutil.MakeAuthRequest(env.router, http.MethodPatch, "/api/access-requests/"+draft.ID, body, requesterToken)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeValidationFailed)
	testutil.AssertFieldError(t, resp, "justification")
	testutil.AssertFieldError(t, resp, "lines[0].entity_id")
	testutil.AssertFieldError(t, resp, "lines[1].contact_email")
	testutil.AssertFieldError(t, resp, "lines[2].permission_codes")
}

func TestCreateConflictsWithActiveRequest(t *testing.T) {
	env := newTestEnv(t)
	requesterToken := token(t, requesterActor)

	resp := testutil.MakeAuthRequest(env.router, http.MethodPost, "/api/access-requests", nil, requesterToken)
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)

	resp = testutil.MakeAuthRequest(env.router, http.MethodPost, "/api/access-requests", nil, requesterToken)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeConflict)
}

func TestDecisionErrors(t *testing.T) {
	env := newTestEnv(t)
	requesterToken := token(t, requesterActor)

	resp := testutil.MakeAuthRequest(env.router, http.MethodGet, "/api/access-requests/me", nil, requesterToken)
	draft := decode[accessRequestItem](t, resp)
	resp = testutil.MakeAuthRequest(env.router, http.MethodPatch, "/api/access-requests/"+draft.ID, validDraft(), requesterToken)
	saved := decode[accessRequestItem](t, resp)
	linePath := "/api/access-requests/" + draft.ID + "/lines/" + saved.Lines[0].ID

	t.Run("draft is hidden from reviewers", func(t *testing.T) {
		resp := testutil.MakeAuthRequest(env.router, http.MethodPost, linePath+"/approve", nil, token(t, supervisorActor))
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeNotFound)
	})

	resp = testutil.MakeAuthRequest(env.router, http.MethodPost, "/api/access-requests/"+draft.ID+"/submit", nil, requesterToken)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	t.Run("requester cannot decide own line", func(t *testing.T) {
		resp := testutil.MakeAuthRequest(env.router, http.MethodPost, linePath+"/approve", nil, requesterToken)
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeForbidden)
	})

	t.Run("block requires notes", func(t *testing.T) {
		resp := testutil.MakeAuthRequest(env.router, http.MethodPost, linePath+"/block", decisionRequest{Notes: "  "}, token(t, supervisorActor))
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeValidationFailed)
		testutil.AssertFieldError(t, resp, "notes")
	})

	t.Run("return requires reason", func(t *testing.T) {
		resp := testutil.MakeAuthRequest(env.router, http.MethodPost, "/api/access-requests/"+draft.ID+"/return", returnRequest{}, token(t, supervisorActor))
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeValidationFailed)
		testutil.AssertFieldError(t, resp, "reason")
	})

	t.Run("invalid id", func(t *testing.T) {
		resp := testutil.MakeAuthRequest(env.router, http.MethodGet, "/api/access-requests/not-a-uuid", nil, requesterToken)
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)
	})

	t.Run("unrelated admin sees nothing", func(t *testing.T) {
		outsider := testutil.TestActor{ID: "00000000-0000-0000-0000-000000000042", Roles: []string{auth.RoleEntityAdmin}, Entities: []string{"ent-2"}}
		resp := testutil.MakeAuthRequest(env.router, http.MethodGet, "/api/access-requests/"+draft.ID, nil, token(t, outsider))
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeNotFound)
	})

	t.Run("supervisor returns for update", func(t *testing.T) {
		resp := testutil.MakeAuthRequest(env.router, http.MethodPost, "/api/access-requests/"+draft.ID+"/return", returnRequest{Reason: "add cases scope detail"}, token(t, supervisorActor))
		testutil.AssertHTTPStatus(t, resp, http.StatusOK)
		returned := decode[accessRequestItem](t, resp)
		assert.Equal(t, "updated", returned.Status)
		assert.Equal(t, "requester", returned.NextActor)
		assert.True(t, returned.HandledByUKNF)
		assert.Equal(t, "needs_update", returned.Lines[0].Status)
	})
}

func TestDecideLineWithoutBody(t *testing.T) {
	env := newTestEnv(t)
	requesterToken := token(t, requesterActor)

	resp := testutil.MakeAuthRequest(env.router, http.MethodGet, "/api/access-requests/me", nil, requesterToken)
	draft := decode[accessRequestItem](t, resp)
	body := saveRequest{
		Justification: "Reporting for the bank and the payment institution",
		Lines: []validation.LineInput{
			{EntityID: "ent-1", PermissionCodes: []string{"reporting"}},
			{EntityID: "ent-2", PermissionCodes: []string{"reporting"}},
		},
	}
	resp = testutil.MakeAuthRequest(env.router, http.MethodPatch, "/api/access-requests/"+draft.ID, body, requesterToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	resp = testutil.MakeAuthRequest(env.router, http.MethodPost, "/api/access-requests/"+draft.ID+"/submit", nil, requesterToken)
	submitted := decode[accessRequestItem](t, resp)

	linePath := func(entityID string) string {
		for _, l := range submitted.Lines {
			if l.EntityID == entityID {
				return "/api/access-requests/" + draft.ID + "/lines/" + l.ID
			}
		}
		t.Fatalf("no line for %s", entityID)
		return ""
	}

	t.Run("no body", func(t *testing.T) {
		resp := testutil.MakeAuthRequest(env.router, http.MethodPost, linePath("ent-1")+"/approve", nil, token(t, entityAdminActor))
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		assert.Equal(t, "new", decode[accessRequestItem](t, resp).Status)
	})

	t.Run("empty chunked body", func(t *testing.T) {
		resp := testutil.Do(env.router, testutil.Request{
			Method: http.MethodPost,
			Path:   linePath("ent-2") + "/approve",
			Stream: strings.NewReader(""),
			Token:  token(t, supervisorActor),
		})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		decided := decode[accessRequestItem](t, resp)
		assert.Equal(t, "approved", decided.Status)
		assert.True(t, decided.HandledByUKNF)
	})

	t.Run("malformed chunked body", func(t *testing.T) {
		resp := testutil.Do(env.router, testutil.Request{
			Method: http.MethodPost,
			Path:   linePath("ent-2") + "/block",
			Stream: strings.NewReader(`{"notes":`),
			Token:  token(t, supervisorActor),
		})
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)
	})
}

func TestBlockLineReadsChunkedNotes(t *testing.T) {
	env := newTestEnv(t)
	requesterToken := token(t, requesterActor)

	resp := testutil.MakeAuthRequest(env.router, http.MethodGet, "/api/access-requests/me", nil, requesterToken)
	draft := decode[accessRequestItem](t, resp)
	resp = testutil.MakeAuthRequest(env.router, http.MethodPatch, "/api/access-requests/"+draft.ID, validDraft(), requesterToken)
	saved := decode[accessRequestItem](t, resp)
	resp = testutil.MakeAuthRequest(env.router, http.MethodPost, "/api/access-requests/"+draft.ID+"/submit", nil, requesterToken)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = testutil.Do(env.router, testutil.Request{
		Method: http.MethodPost,
		Path:   "/api/access-requests/" + draft.ID + "/lines/" + saved.Lines[0].ID + "/block",
		Stream: strings.NewReader(`{"notes":"Missing power of attorney"}`),
		Token:  token(t, supervisorActor),
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	blocked := decode[accessRequestItem](t, resp)
	assert.Equal(t, "blocked", blocked.Status)
	assert.Equal(t, "Missing power of attorney", blocked.Lines[0].DecisionNotes)
}

func TestListRejectsUnknownFilter(t *testing.T) {
	env := newTestEnv(t)

	resp := testutil.MakeAuthRequest(env.router, http.MethodGet, "/api/access-requests?filter=everything", nil, token(t, supervisorActor))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeValidationFailed)
	testutil.AssertFieldError(t, resp, "filter")
}

func TestEntitiesAndSession(t *testing.T) {
	env := newTestEnv(t)
	adminToken := token(t, entityAdminActor)

	resp := testutil.MakeAuthRequest(env.router, http.MethodGet, "/api/entities", nil, adminToken)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	list := decode[struct {
		Items []entityItem `json:"items"`
	}](t, resp)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "ent-1", list.Items[0].ID)

	resp = testutil.MakeAuthRequest(env.router, http.MethodGet, "/api/entities/ent-404", nil, adminToken)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeNotFound)

	resp = testutil.MakeAuthRequest(env.router, http.MethodGet, "/api/session", nil, adminToken)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeNotFound)

	resp = testutil.MakeAuthRequest(env.router, http.MethodPost, "/api/session/entity", selectEntityRequest{EntityID: "ent-2"}, adminToken)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeForbidden)

	resp = testutil.MakeAuthRequest(env.router, http.MethodPost, "/api/session/entity", selectEntityRequest{EntityID: " ent-1 "}, adminToken)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	sel := decode[sessionResponse](t, resp)
	assert.Equal(t, "ent-1", sel.EntityID)
	require.NotNil(t, sel.Entity)
	assert.Equal(t, "Bank Example S.A.", sel.Entity.Name)

	resp = testutil.MakeAuthRequest(env.router, http.MethodGet, "/api/session", nil, adminToken)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	resp = testutil.MakeAuthRequest(env.router, http.MethodDelete, "/api/session", nil, adminToken)
	testutil.AssertHTTPStatus(t, resp, http.StatusNoContent)

	resp = testutil.MakeAuthRequest(env.router, http.MethodPost, "/api/session/entity", selectEntityRequest{}, adminToken)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeValidationFailed)
	testutil.AssertFieldError(t, resp, "entity_id")
}

func TestPasswordPolicy(t *testing.T) {
	env := newTestEnv(t)

	resp := testutil.MakeAuthRequest(env.router, http.MethodPut, "/api/admin/password-policy", policy.PasswordPolicy{MinLength: 8}, token(t, supervisorActor))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeForbidden)

	update := policy.Default()
	update.MinLength = 0
	update.RequireSpecial = false
	resp = testutil.MakeAuthRequest(env.router, http.MethodPut, "/api/admin/password-policy", update, token(t, systemAdminActor))
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	got := decode[policy.PasswordPolicy](t, resp)
	assert.Equal(t, 1, got.MinLength)
	assert.False(t, got.RequireSpecial)

	resp = testutil.MakeAuthRequest(env.router, http.MethodPost, "/api/admin/password-policy/check", checkPasswordRequest{Password: "abc"}, token(t, requesterActor))
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	check := decode[checkPasswordResponse](t, resp)
	assert.False(t, check.Valid)
	assert.NotEmpty(t, check.Violations)

	resp = testutil.MakeAuthRequest(env.router, http.MethodPost, "/api/admin/password-policy/check", checkPasswordRequest{Password: "Abc1"}, token(t, requesterActor))
	check = decode[checkPasswordResponse](t, resp)
	assert.True(t, check.Valid)
	assert.Empty(t, check.Violations)
}

func TestCatalogListings(t *testing.T) {
	env := newTestEnv(t)
	requesterToken := token(t, requesterActor)

	for _, path := range []string{"/api/reports", "/api/messages", "/api/cases", "/api/announcements", "/api/library", "/api/faq"} {
		resp := testutil.MakeAuthRequest(env.router, http.MethodGet, path, nil, requesterToken)
		testutil.AssertHTTPStatus(t, resp, http.StatusOK)
		body := decode[struct {
			Items []json.RawMessage `json:"items"`
		}](t, resp)
		assert.NotEmpty(t, body.Items, path)
	}

	resp := testutil.MakeAuthRequest(env.router, http.MethodGet, "/api/admin/users", nil, requesterToken)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeForbidden)

	resp = testutil.MakeAuthRequest(env.router, http.MethodGet, "/api/admin/roles", nil, token(t, supervisorActor))
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
}
