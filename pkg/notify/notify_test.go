package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/remedy/pkg/models"
)

func TestNewServiceEmptyURLReturnsNil(t *testing.T) {
	assert.Nil(t, NewService(""))
}

func TestNilServiceIsSafe(t *testing.T) {
	var s *Service
	assert.NoError(t, s.Notify(context.Background(), "title", "message"))
	assert.NoError(t, s.NotifyDanger(context.Background(), "title", "message"))
	s.NotifySuccess(context.Background(), "title", "message")
	s.NotifyWarning(context.Background(), "title", "message")
}

func TestNotifyPostsEmbed(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewService(srv.URL)
	require.NoError(t, s.Notify(context.Background(), "Host offline", "nas is unreachable"))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Host offline", got.Embeds[0].Title)
	assert.Equal(t, "nas is unreachable", got.Embeds[0].Description)
	assert.Equal(t, colorInfo, got.Embeds[0].Color)
}

func TestNotifyErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewService(srv.URL)
	err := s.Notify(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestNotifyTruncatesLongMessages(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	long := make([]byte, 10000)
	for i := range long {
		long[i] = 'x'
	}
	s := NewService(srv.URL)
	require.NoError(t, s.Notify(context.Background(), "t", string(long)))
	assert.LessOrEqual(t, len(got.Embeds[0].Description), maxDescriptionLen+30)
	assert.Contains(t, got.Embeds[0].Description, "truncated")
}

type fakeEscalationStore struct {
	cooldownActive bool
	cooldownSet    int
	attempts       []models.RemediationAttempt
	logged         []*models.RemediationAttempt
}

func (f *fakeEscalationStore) EscalationCooldownActive(_ context.Context, _, _ string, _ time.Duration) (bool, time.Time, error) {
	return f.cooldownActive, time.Now().Add(-time.Hour), nil
}

func (f *fakeEscalationStore) SetEscalationCooldown(_ context.Context, _, _ string) error {
	f.cooldownSet++
	return nil
}

func (f *fakeEscalationStore) RecentAttempts(_ context.Context, _, _ string, limit int) ([]models.RemediationAttempt, error) {
	if len(f.attempts) > limit {
		return f.attempts[:limit], nil
	}
	return f.attempts, nil
}

func (f *fakeEscalationStore) LogAttempt(_ context.Context, a *models.RemediationAttempt) (int64, error) {
	f.logged = append(f.logged, a)
	return int64(len(f.logged)), nil
}

func escalationAlert() *models.Alert {
	return &models.Alert{
		Name:        "ContainerDown",
		Instance:    "nas:caddy",
		Fingerprint: "fp-1",
		Severity:    "critical",
	}
}

func TestEscalateNotifiesAndSetsCooldown(t *testing.T) {
	var posts int
	var body webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts++
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	store := &fakeEscalationStore{attempts: []models.RemediationAttempt{
		{AttemptNumber: 3, CommandsExecuted: []string{"systemctl restart foo"}},
	}}
	esc := NewEscalator(store, NewService(srv.URL), time.Hour)

	err := esc.Escalate(context.Background(), escalationAlert(), 3, "restart did not clear the alert", "attempt limit reached")
	require.NoError(t, err)
	assert.Equal(t, 1, posts)
	assert.Equal(t, 1, store.cooldownSet)
	assert.Contains(t, body.Embeds[0].Description, "systemctl restart foo")
	assert.Contains(t, body.Embeds[0].Description, "restart did not clear the alert")

	// Escalation-only marker is always written.
	require.Len(t, store.logged, 1)
	marker := store.logged[0]
	assert.True(t, marker.IsEscalationMarker())
	assert.Empty(t, marker.CommandsExecuted)
}

func TestEscalateCooldownSuppressesNotificationButWritesMarker(t *testing.T) {
	var posts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts++
	}))
	defer srv.Close()

	store := &fakeEscalationStore{cooldownActive: true}
	esc := NewEscalator(store, NewService(srv.URL), time.Hour)

	err := esc.Escalate(context.Background(), escalationAlert(), 4, "", "attempt limit reached")
	require.NoError(t, err)
	assert.Equal(t, 0, posts, "cooldown must suppress the notification")
	assert.Equal(t, 0, store.cooldownSet)
	require.Len(t, store.logged, 1)
	assert.True(t, store.logged[0].Escalated)
}

func TestEscalateWithNilNotifier(t *testing.T) {
	store := &fakeEscalationStore{}
	esc := NewEscalator(store, nil, time.Hour)

	err := esc.Escalate(context.Background(), escalationAlert(), 3, "", "attempt limit reached")
	require.NoError(t, err)
	// Nil notifier counts as delivered (fail-open), cooldown still set.
	assert.Equal(t, 1, store.cooldownSet)
	require.Len(t, store.logged, 1)
}
