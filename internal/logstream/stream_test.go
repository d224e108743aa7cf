package logstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

type pollStep struct {
	describeErr error
	noStreams   bool
	stream      string
	eventsErr   error
	events      []cwltypes.OutputLogEvent
}

// fakeLogs replays one pollStep per poll, repeating the last step once the
// script runs out.
type fakeLogs struct {
	mu    sync.Mutex
	steps []pollStep
	call  int
}

func (f *fakeLogs) step() pollStep {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.call
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	return f.steps[i]
}

func (f *fakeLogs) advance() {
	f.mu.Lock()
	f.call++
	f.mu.Unlock()
}

func (f *fakeLogs) DescribeLogStreams(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error) {
	step := f.step()
	if step.describeErr != nil {
		f.advance()
		return nil, step.describeErr
	}
	if step.noStreams {
		f.advance()
		return &cloudwatchlogs.DescribeLogStreamsOutput{}, nil
	}
	return &cloudwatchlogs.DescribeLogStreamsOutput{
		LogStreams: []cwltypes.LogStream{{LogStreamName: aws.String(step.stream)}},
	}, nil
}

func (f *fakeLogs) GetLogEvents(ctx context.Context, params *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error) {
	step := f.step()
	f.advance()
	if step.eventsErr != nil {
		return nil, step.eventsErr
	}
	if aws.ToString(params.LogStreamName) != step.stream {
		return nil, errors.New("queried wrong stream")
	}
	return &cloudwatchlogs.GetLogEventsOutput{Events: step.events}, nil
}

func event(ts int64, msg string) cwltypes.OutputLogEvent {
	return cwltypes.OutputLogEvent{Timestamp: aws.Int64(ts), Message: aws.String(msg)}
}

// collect runs the streamer until want lines arrive or the deadline passes.
func collect(t *testing.T, s Streamer, want int) []string {
	t.Helper()

	var mu sync.Mutex
	var lines []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Stream(ctx, "/dockmate/repo-1", "repo-1-task", func(line string) error {
			mu.Lock()
			lines = append(lines, line)
			if len(lines) >= want {
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for log lines")
	}

	mu.Lock()
	defer mu.Unlock()
	return lines
}

func TestStreamEmitsInOrderWithoutDuplicates(t *testing.T) {
	logs := &fakeLogs{steps: []pollStep{
		{stream: "repo-1-task/app/abc", events: []cwltypes.OutputLogEvent{
			event(100, "starting server"),
			event(200, "listening on :8080"),
		}},
		{stream: "repo-1-task/app/abc", events: []cwltypes.OutputLogEvent{
			event(100, "starting server"),
			event(200, "listening on :8080"),
			event(300, "request received"),
		}},
	}}
	s := New(logs, time.Millisecond, 0, nil)

	lines := collect(t, s, 3)
	want := []string{"starting server", "listening on :8080", "request received"}
	if len(lines) != 3 {
		t.Fatalf("lines: %v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, lines[i], want[i])
		}
	}
}

func TestStreamToleratesTransientFailures(t *testing.T) {
	logs := &fakeLogs{steps: []pollStep{
		{describeErr: errors.New("rate exceeded")},
		{describeErr: errors.New("request timed out")},
		{stream: "repo-1-task/app/abc", events: []cwltypes.OutputLogEvent{
			event(100, "hello"),
		}},
	}}
	s := New(logs, time.Millisecond, 10, nil)

	lines := collect(t, s, 1)
	if len(lines) != 1 || lines[0] != "hello" {
		t.Fatalf("lines: %v", lines)
	}
}

func TestStreamWaitsForFirstStream(t *testing.T) {
	// Far more empty polls than the failure budget allows. A task that is
	// still pulling its image must not end the session.
	steps := make([]pollStep, 0, 16)
	for i := 0; i < 15; i++ {
		steps = append(steps, pollStep{noStreams: true})
	}
	steps = append(steps, pollStep{stream: "repo-1-task/app/abc", events: []cwltypes.OutputLogEvent{
		event(100, "first line"),
	}})
	logs := &fakeLogs{steps: steps}
	s := New(logs, time.Millisecond, 3, nil)

	lines := collect(t, s, 1)
	if len(lines) != 1 || lines[0] != "first line" {
		t.Fatalf("lines: %v", lines)
	}
}

func TestStreamGivesUpAfterRepeatedFailures(t *testing.T) {
	logs := &fakeLogs{steps: []pollStep{
		{describeErr: errors.New("group gone")},
	}}
	s := New(logs, time.Millisecond, 3, nil)

	err := s.Stream(context.Background(), "/dockmate/repo-1", "repo-1-task", func(string) error {
		t.Fatal("no lines expected")
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "3 failed polls") {
		t.Fatalf("expected terminal error after 3 polls, got %v", err)
	}
}

func TestStreamFollowsLatestStream(t *testing.T) {
	logs := &fakeLogs{steps: []pollStep{
		{stream: "repo-1-task/app/old", events: []cwltypes.OutputLogEvent{
			event(100, "from old stream"),
		}},
		{stream: "repo-1-task/app/new", events: []cwltypes.OutputLogEvent{
			event(500, "from new stream"),
		}},
	}}
	s := New(logs, time.Millisecond, 0, nil)

	lines := collect(t, s, 2)
	if lines[0] != "from old stream" || lines[1] != "from new stream" {
		t.Fatalf("lines: %v", lines)
	}
}

func TestStreamStopsOnCancel(t *testing.T) {
	logs := &fakeLogs{steps: []pollStep{
		{stream: "repo-1-task/app/abc"},
	}}
	s := New(logs, time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Stream(ctx, "/dockmate/repo-1", "repo-1-task", func(string) error { return nil }); err != nil {
		t.Fatalf("cancel must end streaming cleanly: %v", err)
	}
}

func TestStreamStopsWhenConsumerGone(t *testing.T) {
	logs := &fakeLogs{steps: []pollStep{
		{stream: "repo-1-task/app/abc", events: []cwltypes.OutputLogEvent{
			event(100, "line"),
		}},
	}}
	s := New(logs, time.Millisecond, 0, nil)

	err := s.Stream(context.Background(), "/dockmate/repo-1", "repo-1-task", func(string) error {
		return errors.New("connection closed")
	})
	if err != nil {
		t.Fatalf("consumer disconnect must end streaming cleanly: %v", err)
	}
}
