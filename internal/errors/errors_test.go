package errors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.IsReported())
}

func TestBuilderKeepsExplicitFields(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := Newf("ring cursor mismatch at %d", 42).
		Component("playback").
		Category(CategoryBuffer).
		Priority(PriorityCritical).
		Context("read_pos", 42).
		Build()

	assert.Equal(t, "playback", ee.GetComponent())
	assert.Equal(t, CategoryBuffer, ee.Category)
	assert.Equal(t, PriorityCritical, ee.GetPriority())
	assert.Equal(t, 42, ee.GetContext()["read_pos"])
	assert.True(t, IsCategory(ee, CategoryBuffer))
	assert.False(t, IsCategory(ee, CategoryCodec))
}

func TestPriorityFallsBackToMedium(t *testing.T) {
	ee := New(NewStd("x")).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.GetPriority())
}

func TestSentinelMatchingThroughWrap(t *testing.T) {
	sentinel := New(NewStd("open failed")).Category(CategoryFileIO).Build()
	wrapped := New(fmt.Errorf("track 3: %w", sentinel)).Category(CategoryFileIO).Build()

	assert.ErrorIs(t, wrapped, sentinel)
	assert.True(t, IsCategory(wrapped, CategoryFileIO))

	var ee *EnhancedError
	require.True(t, As(wrapped, &ee))
	assert.Same(t, wrapped, ee)
}

func TestActiveReportingDetectsCategory(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("decoder image truncated")).Build()

	require.Len(t, reporter.reported, 1)
	assert.Equal(t, CategoryCodec, ee.Category)
	assert.True(t, ee.IsReported())
}

func TestFileContextIsPrivacySafe(t *testing.T) {
	ee := New(NewStd("x")).FileContext("/home/alice/music/song.FLAC", 5*1024*1024).Build()

	ctx := ee.GetContext()
	assert.Equal(t, "flac", ctx["file_extension"])
	assert.Equal(t, "medium", ctx["file_size_category"])
	assert.NotContains(t, fmt.Sprint(ctx), "alice")
}

func TestBasicPathScrub(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"unix home", "cannot open /home/alice/music/a.mp3", "cannot open /home/[USER]/music/a.mp3"},
		{"mac home", "cannot open /Users/bob/a.mp3", "cannot open /Users/[USER]/a.mp3"},
		{"url query", "fetch https://example.com/x?token=abc", "fetch https://example.com/x?[REDACTED]"},
		{"untouched", "ring buffer full", "ring buffer full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, basicPathScrub(tt.in))
		})
	}
}

func TestGenerateErrorTitle(t *testing.T) {
	ee := New(NewStd("x")).
		Component("playback").
		Category(CategoryBuffer).
		Context("operation", "discard_codec").
		Build()

	assert.Equal(t, "Playback Buffer Error Discard Codec", generateErrorTitle(ee))
}

func TestSentryReporterScrubsAndTags(t *testing.T) {
	var mu sync.Mutex
	var events []*sentry.Event
	flush, err := InitSentry(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)
	defer flush()

	ee := New(NewStd("cannot open /home/alice/a.flac")).
		Component("playback").
		Category(CategoryFileIO).
		Context("operation", "open_track").
		Build()
	assert.True(t, ee.IsReported())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, sentry.LevelWarning, ev.Level)
	assert.Contains(t, ev.Message, "/home/[USER]/a.flac")
	assert.NotContains(t, ev.Message, "alice")
	assert.Equal(t, "playback", ev.Tags["component"])
	assert.Equal(t, "Playback File I/O Error Open Track", ev.Tags["error_title"])
}
