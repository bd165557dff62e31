package backend

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/mux"
	"github.com/lib/pq"

	"github.com/PortNumber53/agency-portal/backend/internal/bookings"
	"github.com/PortNumber53/agency-portal/backend/internal/handlers"
	"github.com/PortNumber53/agency-portal/backend/internal/meetings"
	"github.com/PortNumber53/agency-portal/backend/internal/middleware"
	"github.com/PortNumber53/agency-portal/backend/internal/notifications"
	"github.com/PortNumber53/agency-portal/backend/internal/tone"
)

type bddTestContext struct {
	db           *sql.DB
	server       *httptest.Server
	handler      *handlers.Handler
	lastResponse *http.Response
	lastBody     []byte
}

func (ctx *bddTestContext) reset() {
	if ctx.lastResponse != nil && ctx.lastResponse.Body != nil {
		ctx.lastResponse.Body.Close()
	}
	ctx.lastResponse = nil
	ctx.lastBody = nil
}

func (ctx *bddTestContext) theDatabaseIsClean() error {
	tables := []string{
		"public.calendar_sync_log",
		"public.calendar_api_usage",
		"public.bookings",
		"public.generated_meeting_instances",
		"public.recurring_meetings",
		"public.content_post_comments",
		"public.content_post_revisions",
		"public.content_posts",
		"public.notifications",
		"public.user_settings",
		"public.subscriptions",
		"public.users",
	}
	for _, table := range tables {
		if _, err := ctx.db.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("failed to clean %s: %w", table, err)
		}
	}
	return nil
}

func (ctx *bddTestContext) theAPIServerIsRunning() error {
	if ctx.server != nil {
		return nil
	}
	notes := notifications.NewStore(ctx.db)
	ctx.handler = handlers.New(ctx.db, handlers.Deps{
		Tone:          tone.NewEngine(tone.NewPostgresStore(ctx.db)),
		Meetings:      meetings.NewService(meetings.NewPostgresStore(ctx.db), nil),
		Bookings:      bookings.NewService(bookings.NewPostgresStore(ctx.db), nil),
		Notifications: notes,
	})
	notes.OnCreate = ctx.handler.PushNotification

	auth := middleware.NewAuthenticator("")
	r := mux.NewRouter()
	r.Use(middleware.RequestID, auth.Middleware, middleware.NewTierResolver(ctx.db).Middleware)
	handlers.RegisterRoutes(ctx.handler, r, auth)
	ctx.server = httptest.NewServer(r)
	return nil
}

func (ctx *bddTestContext) aUserExistsWithIdAndEmail(id, email string) error {
	_, err := ctx.db.Exec(`INSERT INTO public.users (id, email, name) VALUES ($1, $2, $1)`, id, email)
	return err
}

func (ctx *bddTestContext) theUserIsOnTheTier(userID, tier string) error {
	policy := meetings.DefaultTierPolicy()
	freqs, ok := policy.Allowed(tier)
	if !ok {
		return fmt.Errorf("unknown tier %q", tier)
	}
	list := make([]string, 0, len(freqs))
	for _, f := range freqs {
		list = append(list, string(f))
	}
	if _, err := ctx.db.Exec(`
		INSERT INTO public.subscription_plans (id, name, allowed_meeting_frequencies, is_active)
		VALUES ($1, $1, $2, true)
		ON CONFLICT (id) DO UPDATE SET allowed_meeting_frequencies = EXCLUDED.allowed_meeting_frequencies, is_active = true
	`, tier, pq.Array(list)); err != nil {
		return err
	}
	_, err := ctx.db.Exec(`
		INSERT INTO public.subscriptions (id, user_id, plan_id, status)
		VALUES ($1, $2, $3, 'active')
	`, "sub-"+userID, userID, tier)
	return err
}

func (ctx *bddTestContext) theUserHasPosts(userID string, count int) error {
	now := time.Now().UTC()
	for i := 0; i < count; i++ {
		caption := fmt.Sprintf("Post %d from %s. We love helping small teams grow!", i+1, userID)
		_, err := ctx.db.Exec(`
			INSERT INTO public.content_posts (id, user_id, platform, original_caption, current_caption, created_at, updated_at)
			VALUES ($1, $2, 'instagram', $3, $3, $4, $4)
		`, fmt.Sprintf("%s-post-%d", userID, i+1), userID, caption, now.AddDate(0, 0, -i))
		if err != nil {
			return err
		}
	}
	return nil
}

func (ctx *bddTestContext) theUserHasANotificationWithId(userID, notifID string) error {
	_, err := ctx.db.Exec(`
		INSERT INTO public.notifications (id, user_id, type, title, body)
		VALUES ($1, $2, 'meeting_reminder', 'Meeting tomorrow', 'Your meeting is scheduled for tomorrow.')
	`, notifID, userID)
	return err
}

func (ctx *bddTestContext) iSendAGETRequestTo(path string) error {
	return ctx.iSendARequestTo("GET", path, "")
}

func (ctx *bddTestContext) iSendAPOSTRequestTo(path string) error {
	return ctx.iSendARequestTo("POST", path, "")
}

func (ctx *bddTestContext) iSendAPOSTRequestToWithJSON(path string, body *godog.DocString) error {
	return ctx.iSendARequestTo("POST", path, body.Content)
}

func (ctx *bddTestContext) iSendAPUTRequestToWithJSON(path string, body *godog.DocString) error {
	return ctx.iSendARequestTo("PUT", path, body.Content)
}

func (ctx *bddTestContext) iSendARequestTo(method, path, body string) error {
	if ctx.server == nil {
		return fmt.Errorf("server not running")
	}
	var reqBody io.Reader
	if body != "" {
		reqBody = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, ctx.server.URL+path, reqBody)
	if err != nil {
		return err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	ctx.lastResponse = resp
	ctx.lastBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	return err
}

func (ctx *bddTestContext) theResponseStatusCodeShouldBe(expectedCode int) error {
	if ctx.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if ctx.lastResponse.StatusCode != expectedCode {
		return fmt.Errorf("expected status code %d, got %d. Body: %s", expectedCode, ctx.lastResponse.StatusCode, string(ctx.lastBody))
	}
	return nil
}

// lookup walks a dotted path ("data.meeting.id", "data.0.id") through the decoded body.
func (ctx *bddTestContext) lookup(path string) (any, error) {
	var cur any
	if err := json.Unmarshal(ctx.lastBody, &cur); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("key %q not found at %q in %s", part, path, string(ctx.lastBody))
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("index %q out of range at %q", part, path)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("cannot descend into %T at %q", cur, part)
		}
	}
	return cur, nil
}

func (ctx *bddTestContext) theJSONAtShouldBe(path, want string) error {
	v, err := ctx.lookup(path)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != want {
		return fmt.Errorf("expected %q at %q, got %q", want, path, got)
	}
	return nil
}

func (ctx *bddTestContext) arrayAt(path string) ([]any, error) {
	v, err := ctx.lookup(path)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array at %q, got %T", path, v)
	}
	return arr, nil
}

func (ctx *bddTestContext) theJSONAtShouldBeAnArrayWithItems(path string, count int) error {
	arr, err := ctx.arrayAt(path)
	if err != nil {
		return err
	}
	if len(arr) != count {
		return fmt.Errorf("expected %d items at %q, got %d", count, path, len(arr))
	}
	return nil
}

func (ctx *bddTestContext) theJSONAtShouldHaveAtLeastItems(path string, count int) error {
	arr, err := ctx.arrayAt(path)
	if err != nil {
		return err
	}
	if len(arr) < count {
		return fmt.Errorf("expected at least %d items at %q, got %d", count, path, len(arr))
	}
	return nil
}

func (ctx *bddTestContext) theResponseShouldContainErrorCode(code string) error {
	return ctx.theJSONAtShouldBe("error.code", code)
}

func (ctx *bddTestContext) theNotificationShouldBeMarkedAsRead(notifID string) error {
	var readAt sql.NullTime
	if err := ctx.db.QueryRow(`SELECT read_at FROM public.notifications WHERE id = $1`, notifID).Scan(&readAt); err != nil {
		return err
	}
	if !readAt.Valid {
		return fmt.Errorf("notification %s is not marked as read", notifID)
	}
	return nil
}

func (ctx *bddTestContext) theUserShouldHaveActiveRecurringMeetings(userID string, count int) error {
	var n int
	if err := ctx.db.QueryRow(`SELECT COUNT(*) FROM public.recurring_meetings WHERE user_id = $1 AND is_active`, userID).Scan(&n); err != nil {
		return err
	}
	if n != count {
		return fmt.Errorf("expected %d active recurring meetings for %s, got %d", count, userID, n)
	}
	return nil
}

func (ctx *bddTestContext) noUpcomingInstancesShouldRemainFor(userID string) error {
	var n int
	err := ctx.db.QueryRow(`
		SELECT COUNT(*) FROM public.generated_meeting_instances
		WHERE user_id = $1 AND status IN ('scheduled', 'rescheduled') AND scheduled_at > NOW()
	`, userID).Scan(&n)
	if err != nil {
		return err
	}
	if n != 0 {
		return fmt.Errorf("expected no upcoming instances for %s, got %d", userID, n)
	}
	return nil
}

func InitializeScenario(sc *godog.ScenarioContext) {
	testCtx := &bddTestContext{}

	db, err := sql.Open("postgres", os.Getenv("BDD_DATABASE_URL"))
	if err != nil {
		panic(fmt.Sprintf("failed to connect to test database: %v", err))
	}
	testCtx.db = db

	sc.Before(func(ctx context.Context, s *godog.Scenario) (context.Context, error) {
		testCtx.reset()
		return ctx, nil
	})

	sc.After(func(ctx context.Context, s *godog.Scenario, err error) (context.Context, error) {
		if testCtx.server != nil {
			testCtx.server.Close()
			testCtx.server = nil
		}
		_ = testCtx.db.Close()
		return ctx, nil
	})

	sc.Step(`^the database is clean$`, testCtx.theDatabaseIsClean)
	sc.Step(`^the API server is running$`, testCtx.theAPIServerIsRunning)
	sc.Step(`^a user exists with id "([^"]*)" and email "([^"]*)"$`, testCtx.aUserExistsWithIdAndEmail)
	sc.Step(`^the user "([^"]*)" is on the "([^"]*)" tier$`, testCtx.theUserIsOnTheTier)
	sc.Step(`^the user "([^"]*)" has (\d+) posts?$`, testCtx.theUserHasPosts)
	sc.Step(`^the user "([^"]*)" has a notification with id "([^"]*)"$`, testCtx.theUserHasANotificationWithId)
	sc.Step(`^I send a GET request to "([^"]*)"$`, testCtx.iSendAGETRequestTo)
	sc.Step(`^I send a POST request to "([^"]*)"$`, testCtx.iSendAPOSTRequestTo)
	sc.Step(`^I send a POST request to "([^"]*)" with JSON:$`, testCtx.iSendAPOSTRequestToWithJSON)
	sc.Step(`^I send a PUT request to "([^"]*)" with JSON:$`, testCtx.iSendAPUTRequestToWithJSON)
	sc.Step(`^the response status code should be (\d+)$`, testCtx.theResponseStatusCodeShouldBe)
	sc.Step(`^the JSON at "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONAtShouldBe)
	sc.Step(`^the JSON at "([^"]*)" should be an array with (\d+) items?$`, testCtx.theJSONAtShouldBeAnArrayWithItems)
	sc.Step(`^the JSON at "([^"]*)" should have at least (\d+) items?$`, testCtx.theJSONAtShouldHaveAtLeastItems)
	sc.Step(`^the response should contain error code "([^"]*)"$`, testCtx.theResponseShouldContainErrorCode)
	sc.Step(`^the notification "([^"]*)" should be marked as read$`, testCtx.theNotificationShouldBeMarkedAsRead)
	sc.Step(`^the user "([^"]*)" should have (\d+) active recurring meetings?$`, testCtx.theUserShouldHaveActiveRecurringMeetings)
	sc.Step(`^no upcoming meeting instances should remain for "([^"]*)"$`, testCtx.noUpcomingInstancesShouldRemainFor)
}

func TestFeatures(t *testing.T) {
	if os.Getenv("BDD_DATABASE_URL") == "" {
		t.Skip("BDD_DATABASE_URL not set; skipping feature tests")
	}
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
