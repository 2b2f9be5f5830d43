package notify_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/citycard-gateway/events"
	"github.com/jrsteele09/citycard-gateway/notify"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSink_ShowReplaces(t *testing.T) {
	s := notify.New(notify.WithDuration(time.Hour))
	defer s.Close()

	first := s.Error("first")
	second := s.Success("second")

	cur := s.Current()
	require.NotNil(t, cur)
	require.Equal(t, second.ID, cur.ID)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, events.LevelSuccess, cur.Level)
	require.Equal(t, time.Hour, cur.Duration)
}

func TestSink_AutoDismiss(t *testing.T) {
	var mu sync.Mutex
	var changes []*notify.Notification
	s := notify.New(notify.WithOnChange(func(n *notify.Notification) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, n)
	}))
	defer s.Close()

	s.Show(events.LevelInfo, "hello", 20*time.Millisecond)
	require.NotNil(t, s.Current())

	require.Eventually(t, func() bool { return s.Current() == nil }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 2)
	require.Nil(t, changes[1])
}

func TestSink_OldTimerDoesNotClearNewer(t *testing.T) {
	s := notify.New()
	defer s.Close()

	s.Show(events.LevelInfo, "short", 10*time.Millisecond)
	newer := s.Show(events.LevelWarning, "long", time.Hour)

	time.Sleep(50 * time.Millisecond)
	cur := s.Current()
	require.NotNil(t, cur)
	require.Equal(t, newer.ID, cur.ID)
}

func TestSink_AttachToBus(t *testing.T) {
	bus := events.NewBus()
	s := notify.New(notify.WithDuration(time.Hour))
	defer s.Close()
	unsubscribe := s.Attach(bus)
	defer unsubscribe()

	bus.Publish(events.Notify{Level: events.LevelError, Message: "網路連線異常"})
	bus.Publish(events.Forbidden{Path: "/admin"})

	cur := s.Current()
	require.NotNil(t, cur)
	require.Equal(t, "網路連線異常", cur.Message)
	require.Equal(t, events.LevelError, cur.Level)

	s.Clear()
	require.Nil(t, s.Current())
}

func TestSink_DefaultsToInfo(t *testing.T) {
	s := notify.New()
	defer s.Close()
	n := s.Show("", "plain", 0)
	require.Equal(t, events.LevelInfo, n.Level)
	require.Equal(t, notify.DefaultDuration, n.Duration)
}
