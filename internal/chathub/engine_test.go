package chathub_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"moodpair/backend/internal/chathub"
	"moodpair/backend/internal/clock"
	"moodpair/backend/internal/filter"
	"moodpair/backend/internal/localization"
	"moodpair/backend/internal/logger"
	"moodpair/backend/internal/models"
	"moodpair/backend/internal/storage"
	"moodpair/backend/internal/storage/memory"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	engine   *chathub.Engine
	clock    *clock.Fake
	queue    *memory.Queue
	sessions storage.SessionStore
	messages *memory.MessageLog
	feedback *memory.FeedbackStore
	events   *recordingBroadcaster
}

func newFixture(t *testing.T, tweak ...func(*chathub.Deps, *chathub.Options)) *fixture {
	t.Helper()

	f := &fixture{
		clock:    clock.NewFake(t0),
		queue:    memory.NewQueue(),
		sessions: memory.NewSessionStore(),
		messages: memory.NewMessageLog(),
		feedback: memory.NewFeedbackStore(),
		events:   &recordingBroadcaster{},
	}
	flt, err := filter.Default(filter.PolicyReject, 500)
	require.NoError(t, err)
	texts, err := localization.Default()
	require.NoError(t, err)

	deps := chathub.Deps{
		Queue:       f.queue,
		Sessions:    f.sessions,
		Messages:    f.messages,
		Feedback:    f.feedback,
		Broadcaster: f.events,
		Filter:      flt,
		Clock:       f.clock,
		Texts:       texts,
		Logger:      logger.Discard(),
	}
	opts := chathub.DefaultOptions()
	opts.Emotions = []string{"anxious", "sad", "happy", "calm"}
	for _, fn := range tweak {
		fn(&deps, &opts)
	}
	f.sessions = deps.Sessions

	f.engine, err = chathub.NewEngine(deps, opts)
	require.NoError(t, err)
	return f
}

// pair matches a and b on tag and returns the session.
func (f *fixture) pair(t *testing.T, a, b, tag string) *models.Session {
	t.Helper()
	ctx := context.Background()

	first, err := f.engine.RequestMatch(ctx, a, tag)
	require.NoError(t, err)
	require.False(t, first.Matched)

	second, err := f.engine.RequestMatch(ctx, b, tag)
	require.NoError(t, err)
	require.True(t, second.Matched)
	return second.Session
}

func TestScenario_AnxiousUsersChatUntilExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resA, err := f.engine.RequestMatch(ctx, "user-a", "anxious")
	require.NoError(t, err)
	assert.False(t, resA.Matched)
	assert.True(t, resA.Waiting)
	assert.Equal(t, t0.Add(5*time.Minute), resA.ExpiresAt)

	resB, err := f.engine.RequestMatch(ctx, "user-b", "anxious")
	require.NoError(t, err)
	require.True(t, resB.Matched)
	assert.Equal(t, "user-a", resB.PartnerID)
	assert.Equal(t, t0.Add(30*time.Minute), resB.ExpiresAt)
	sessionID := resB.Session.SessionID

	// A asking again is told about the same session.
	again, err := f.engine.RequestMatch(ctx, "user-a", "anxious")
	require.NoError(t, err)
	require.True(t, again.Matched)
	assert.Equal(t, sessionID, again.Session.SessionID)
	assert.Equal(t, "user-b", again.PartnerID)

	matches := f.events.ofType(models.EventMatchFound)
	require.Len(t, matches, 1)
	assert.ElementsMatch(t, []string{"user-a", "user-b"}, matches[0].Recipients)

	_, err = f.engine.SendMessage(ctx, sessionID, "user-a", "hello")
	require.NoError(t, err)

	hist, err := f.engine.FetchHistory(ctx, sessionID, "user-b", 0)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, "hello", hist.Messages[0].Content)
	assert.False(t, hist.Messages[0].IsSelf)
	assert.Equal(t, models.SessionActive, hist.Status)

	f.clock.Advance(31 * time.Minute)
	_, err = f.engine.SendMessage(ctx, sessionID, "user-b", "are you there?")
	assert.ErrorIs(t, err, models.ErrGone)

	ended := f.events.ofType(models.EventSessionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, models.EndTimeout, ended[0].Reason)

	hist, err = f.engine.FetchHistory(ctx, sessionID, "user-a", 0)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, hist.Status)
	assert.Len(t, hist.Messages, 1)
}

func TestRequestMatch_OldestWaitingUserWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.RequestMatch(ctx, "first", "sad")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.engine.RequestMatch(ctx, "second", "sad")
	require.NoError(t, err)

	res, err := f.engine.RequestMatch(ctx, "third", "sad")
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "first", res.PartnerID)

	n, _ := f.queue.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestRequestMatch_SameTagPolicyDoesNotCrossTags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.RequestMatch(ctx, "a", "happy")
	require.NoError(t, err)
	res, err := f.engine.RequestMatch(ctx, "b", "sad")
	require.NoError(t, err)
	assert.False(t, res.Matched)

	n, _ := f.queue.Len(ctx)
	assert.Equal(t, 2, n)
}

func TestRequestMatch_AnyTagPolicyFallsBack(t *testing.T) {
	f := newFixture(t, func(_ *chathub.Deps, o *chathub.Options) {
		o.MatchPolicy = chathub.MatchAnyTag
	})
	ctx := context.Background()

	_, err := f.engine.RequestMatch(ctx, "a", "happy")
	require.NoError(t, err)
	res, err := f.engine.RequestMatch(ctx, "b", "sad")
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "a", res.PartnerID)
	assert.Equal(t, "sad", res.EmotionTag)
}

func TestRequestMatch_SkipsExpiredQueueEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.RequestMatch(ctx, "gone", "sad")
	require.NoError(t, err)
	f.clock.Advance(6 * time.Minute)

	res, err := f.engine.RequestMatch(ctx, "fresh", "sad")
	require.NoError(t, err)
	assert.False(t, res.Matched)

	n, _ := f.queue.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestRequestMatch_NoUserInTwoSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := f.engine.RequestMatch(ctx, fmt.Sprintf("waiting-%d", i), "sad")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.RequestMatch(ctx, fmt.Sprintf("req-%d", i), "sad")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	users := make([]string, 0, 40)
	for i := 0; i < 10; i++ {
		users = append(users, fmt.Sprintf("waiting-%d", i))
	}
	for i := 0; i < 30; i++ {
		users = append(users, fmt.Sprintf("req-%d", i))
	}

	inSession := 0
	for _, u := range users {
		list, err := f.engine.ListSessions(ctx, u, 0)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(list), 1, u)
		inSession += len(list)
	}
	waiting, _ := f.queue.Len(ctx)
	assert.Equal(t, len(users), inSession+waiting, "every user is either paired once or waiting")
	for i := 0; i < 10; i++ {
		list, _ := f.engine.ListSessions(ctx, fmt.Sprintf("waiting-%d", i), 0)
		assert.Len(t, list, 1, "the original waiters were all claimed")
	}
}

func TestRequestMatch_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.RequestMatch(ctx, "", "sad")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.engine.RequestMatch(ctx, strings.Repeat("u", 129), "sad")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.engine.RequestMatch(ctx, "a", "bored")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	res, err := f.engine.RequestMatch(ctx, "a", "  SAD ")
	require.NoError(t, err)
	assert.Equal(t, "sad", res.EmotionTag)

	n, _ := f.queue.Len(ctx)
	assert.Equal(t, 1, n, "invalid requests never reach the queue")
}

func TestCancelMatch_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.RequestMatch(ctx, "a", "sad")
	require.NoError(t, err)

	require.NoError(t, f.engine.CancelMatch(ctx, "a"))
	require.NoError(t, f.engine.CancelMatch(ctx, "a"))
	require.NoError(t, f.engine.CancelMatch(ctx, "never-queued"))

	n, _ := f.queue.Len(ctx)
	assert.Zero(t, n)

	assert.ErrorIs(t, f.engine.CancelMatch(ctx, " "), models.ErrInvalidInput)
}

func TestSession_TTLBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.pair(t, "a", "b", "calm")

	f.clock.Set(t0.Add(30*time.Minute - time.Millisecond))
	_, err := f.engine.SendMessage(ctx, sess.SessionID, "a", "still here")
	require.NoError(t, err)

	f.clock.Set(t0.Add(30 * time.Minute))
	_, err = f.engine.SendMessage(ctx, sess.SessionID, "b", "right on time")
	require.NoError(t, err)

	f.clock.Set(t0.Add(30*time.Minute + time.Millisecond))
	_, err = f.engine.SendMessage(ctx, sess.SessionID, "a", "too late")
	assert.ErrorIs(t, err, models.ErrGone)

	stored, err := f.sessions.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, stored.Status)
	require.NotNil(t, stored.EndedAt)
	assert.Equal(t, t0.Add(30*time.Minute+time.Millisecond), *stored.EndedAt)
}

func TestSendMessage_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.pair(t, "a", "b", "sad")

	_, err := f.engine.SendMessage(ctx, "missing", "a", "hi")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.engine.SendMessage(ctx, sess.SessionID, "stranger", "hi")
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.engine.SendMessage(ctx, sess.SessionID, "a", "   ")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.engine.SendMessage(ctx, sess.SessionID, "a", strings.Repeat("好", 501))
	assert.ErrorIs(t, err, models.ErrRejected)

	_, err = f.engine.SendMessage(ctx, sess.SessionID, "a", strings.Repeat("好", 500))
	assert.NoError(t, err)
}

func TestSendMessage_RejectedContentIsNeverStored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.pair(t, "a", "b", "sad")

	_, err := f.engine.SendMessage(ctx, sess.SessionID, "a", "add me on WeChat")
	assert.ErrorIs(t, err, models.ErrRejected)

	n, _ := f.messages.CountMessages(ctx, sess.SessionID)
	assert.Zero(t, n)
	assert.Empty(t, f.events.ofType(models.EventMessage))
}

func TestSendMessage_RedactPolicyDeliversSanitizedText(t *testing.T) {
	f := newFixture(t, func(d *chathub.Deps, _ *chathub.Options) {
		flt, err := filter.Default(filter.PolicyRedact, 500)
		require.NoError(t, err)
		d.Filter = flt
	})
	ctx := context.Background()
	sess := f.pair(t, "a", "b", "sad")

	res, err := f.engine.SendMessage(ctx, sess.SessionID, "a", "my wechat is moon")
	require.NoError(t, err)
	assert.True(t, res.Flagged)
	assert.Equal(t, "my *** is moon", res.Content)

	msgs, _ := f.messages.History(ctx, sess.SessionID, 10)
	require.Len(t, msgs, 1)
	assert.Equal(t, "my *** is moon", msgs[0].Content)
	assert.Equal(t, "my wechat is moon", msgs[0].OriginalContent)
	assert.Equal(t, []string{"wechat"}, []string(msgs[0].FlaggedTerms))

	events := f.events.ofType(models.EventMessage)
	require.Len(t, events, 1)
	assert.Equal(t, "my *** is moon", events[0].Content)
}

func TestSendMessage_BroadcastFailureIsSwallowed(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	f := newFixture(t, func(d *chathub.Deps, _ *chathub.Options) {
		d.Broadcaster = failingBroadcaster{}
		d.Logger = log
	})
	ctx := context.Background()
	sess := f.pair(t, "a", "b", "sad")

	res, err := f.engine.SendMessage(ctx, sess.SessionID, "a", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, res.MessageID)

	n, _ := f.messages.CountMessages(ctx, sess.SessionID)
	assert.EqualValues(t, 1, n)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "Broadcast failed" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestFetchHistory_ReturnsNewestInAscendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.pair(t, "a", "b", "sad")

	for i := 0; i < 60; i++ {
		sender := "a"
		if i%2 == 1 {
			sender = "b"
		}
		_, err := f.engine.SendMessage(ctx, sess.SessionID, sender, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	hist, err := f.engine.FetchHistory(ctx, sess.SessionID, "a", 0)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 50)
	assert.Equal(t, "msg 10", hist.Messages[0].Content)
	assert.Equal(t, "msg 59", hist.Messages[49].Content)
	assert.True(t, hist.Messages[0].IsSelf)
	assert.False(t, hist.Messages[49].IsSelf)
	for i := 1; i < len(hist.Messages); i++ {
		assert.False(t, hist.Messages[i].CreatedAt.Before(hist.Messages[i-1].CreatedAt))
	}

	hist, err = f.engine.FetchHistory(ctx, sess.SessionID, "b", 5)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 5)
	assert.Equal(t, "msg 55", hist.Messages[0].Content)

	_, err = f.engine.FetchHistory(ctx, sess.SessionID, "stranger", 5)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.engine.FetchHistory(ctx, "missing", "a", 5)
	assert.ErrorIs(t, err, models.ErrForbidden)
	assert.NotErrorIs(t, err, models.ErrNotFound, "existence is not revealed")
}

func TestEndConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.pair(t, "a", "b", "sad")
	f.clock.Advance(time.Minute)

	ended, err := f.engine.EndConversation(ctx, sess.SessionID, "partner_left")
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, ended.Status)
	assert.Equal(t, models.EndPartnerLeft, ended.EndReason)
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, t0.Add(time.Minute), *ended.EndedAt)

	events := f.events.ofType(models.EventSessionEnded)
	require.Len(t, events, 1)
	assert.Equal(t, "Your partner has left. The conversation has ended.", events[0].Content)

	again, err := f.engine.EndConversation(ctx, sess.SessionID, "manual")
	require.NoError(t, err)
	assert.Equal(t, models.EndPartnerLeft, again.EndReason)
	assert.Len(t, f.events.ofType(models.EventSessionEnded), 1)

	_, err = f.engine.SendMessage(ctx, sess.SessionID, "a", "hello?")
	assert.ErrorIs(t, err, models.ErrGone)

	unknown, err := f.engine.EndConversation(ctx, "no-such-session", "")
	require.NoError(t, err)
	assert.Nil(t, unknown)

	_, err = f.engine.EndConversation(ctx, sess.SessionID, "bored")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	// Both users are free to match again.
	res, err := f.engine.RequestMatch(ctx, "a", "sad")
	require.NoError(t, err)
	assert.True(t, res.Waiting)
}

func TestEndConversation_PastExpiryBecomesExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.pair(t, "a", "b", "sad")
	f.clock.Advance(45 * time.Minute)

	ended, err := f.engine.EndConversation(ctx, sess.SessionID, "manual")
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, ended.Status)
	assert.Equal(t, models.EndTimeout, ended.EndReason)
}

func TestMaintenanceSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.pair(t, "a", "b", "sad")
	_, err := f.engine.SendMessage(ctx, sess.SessionID, "a", "hello")
	require.NoError(t, err)
	_, err = f.engine.RequestMatch(ctx, "lonely", "calm")
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)

	report, err := f.engine.MaintenanceSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.QueueEvicted)
	assert.Equal(t, 1, report.SessionsExpired)
	assert.EqualValues(t, 1, report.MessagesPurged)

	ended := f.events.ofType(models.EventSessionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, models.EndTimeout, ended[0].Reason)
	assert.Equal(t, "Time is up. The conversation ended automatically.", ended[0].Content)

	report, err = f.engine.MaintenanceSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, chathub.SweepReport{}, report)
}

func TestSessionStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.pair(t, "a", "b", "sad")
	_, err := f.engine.SendMessage(ctx, sess.SessionID, "a", "hi")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	stats, err := f.engine.SessionStats(ctx, sess.SessionID, "b")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.MessageCount)
	assert.EqualValues(t, 29*60, stats.TimeLeft)
	assert.Equal(t, "a", stats.PartnerID)
	assert.Equal(t, models.SessionActive, stats.Status)

	_, err = f.engine.EndConversation(ctx, sess.SessionID, "")
	require.NoError(t, err)
	stats, err = f.engine.SessionStats(ctx, sess.SessionID, "a")
	require.NoError(t, err)
	assert.Zero(t, stats.TimeLeft)
	assert.Equal(t, models.SessionEnded, stats.Status)

	_, err = f.engine.SessionStats(ctx, sess.SessionID, "stranger")
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestSubmitFeedback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.pair(t, "a", "b", "sad")

	id, err := f.engine.SubmitFeedback(ctx, sess.SessionID, "a", "better", "thanks")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	reports := f.feedback.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "a", reports[0].ReporterID)
	assert.Equal(t, t0, reports[0].CreatedAt)

	_, err = f.engine.SubmitFeedback(ctx, sess.SessionID, "stranger", "better", "")
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.engine.SubmitFeedback(ctx, sess.SessionID, "a", "", "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestListSessions_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.pair(t, "b", "a", "sad")
	_, err := f.engine.EndConversation(ctx, first.SessionID, "")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second := f.pair(t, "c", "a", "sad")

	list, err := f.engine.ListSessions(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.SessionID, list[0].SessionID)
	assert.Equal(t, first.SessionID, list[1].SessionID)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, func(d *chathub.Deps, _ *chathub.Options) {
		d.Pingers = map[string]storage.Pinger{
			"postgres": stubPinger{},
			"redis":    stubPinger{err: assert.AnError},
		}
	})

	report := f.engine.Health(context.Background())
	assert.False(t, report.Healthy)
	assert.Equal(t, chathub.StatusUp, report.Components["postgres"])
	assert.Equal(t, chathub.StatusDown, report.Components["redis"])
	assert.Equal(t, chathub.StatusUp, report.Components["queue"])
}

func TestNewEngine_Validation(t *testing.T) {
	flt, err := filter.Default(filter.PolicyReject, 500)
	require.NoError(t, err)
	deps := chathub.Deps{
		Queue:    memory.NewQueue(),
		Sessions: memory.NewSessionStore(),
		Messages: memory.NewMessageLog(),
		Feedback: memory.NewFeedbackStore(),
		Filter:   flt,
	}

	_, err = chathub.NewEngine(deps, chathub.Options{MatchPolicy: "random"})
	assert.Error(t, err)

	missing := deps
	missing.Queue = nil
	_, err = chathub.NewEngine(missing, chathub.Options{})
	assert.Error(t, err)

	e, err := chathub.NewEngine(deps, chathub.Options{})
	require.NoError(t, err)
	assert.Equal(t, chathub.DefaultOptions().SessionTTL, e.Options().SessionTTL)
}

func TestSweeper_ExpiresSessionsInBackground(t *testing.T) {
	f := newFixture(t)
	sess := f.pair(t, "a", "b", "sad")
	f.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		chathub.NewSweeper(f.engine, 5*time.Millisecond, logger.Discard()).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		got, err := f.sessions.GetSession(context.Background(), sess.SessionID)
		return err == nil && got.Status == models.SessionExpired
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
