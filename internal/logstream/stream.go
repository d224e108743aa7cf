package logstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// LogsAPI is the subset of the CloudWatch Logs client the streamer uses.
type LogsAPI interface {
	DescribeLogStreams(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
	GetLogEvents(ctx context.Context, params *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// Streamer polls a log group and forwards new task output lines in order.
type Streamer struct {
	logs     LogsAPI
	interval time.Duration
	maxFails int
	logger   *slog.Logger
}

// New constructs a Streamer. interval defaults to 3s and maxFails to 10 when
// zero values are passed.
func New(logs LogsAPI, interval time.Duration, maxFails int, logger *slog.Logger) Streamer {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if maxFails <= 0 {
		maxFails = 10
	}
	return Streamer{logs: logs, interval: interval, maxFails: maxFails, logger: logger}
}

// Stream polls the most recently active log stream under prefix and calls emit
// for every event not seen before, oldest first. A group with no streams yet is
// a quiet poll, not a failure: the task may still be pulling its image. Stream
// returns nil when ctx is cancelled or emit reports the consumer is gone, and
// an error only after maxFails consecutive failed API calls.
func (s Streamer) Stream(ctx context.Context, logGroup, prefix string, emit func(line string) error) error {
	seen := make(map[string]struct{})
	fails := 0

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := s.poll(ctx, logGroup, prefix, seen, emit)
		if errors.Is(err, errConsumerGone) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fails++
			if s.logger != nil {
				s.logger.Warn("log poll failed", "group", logGroup, "attempt", fails, "error", err)
			}
			if fails >= s.maxFails {
				return fmt.Errorf("log streaming gave up after %d failed polls: %w", fails, err)
			}
			continue
		}
		fails = 0
	}
}

var errConsumerGone = errors.New("log consumer gone")

func (s Streamer) poll(ctx context.Context, logGroup, prefix string, seen map[string]struct{}, emit func(string) error) error {
	streams, err := s.logs.DescribeLogStreams(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName:        aws.String(logGroup),
		LogStreamNamePrefix: aws.String(prefix),
		OrderBy:             cwltypes.OrderByLastEventTime,
		Descending:          aws.Bool(true),
		Limit:               aws.Int32(1),
	})
	if err != nil {
		return err
	}
	if len(streams.LogStreams) == 0 {
		// Nothing written yet. Wait for the next tick.
		return nil
	}
	streamName := aws.ToString(streams.LogStreams[0].LogStreamName)

	events, err := s.logs.GetLogEvents(ctx, &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  aws.String(logGroup),
		LogStreamName: aws.String(streamName),
		StartFromHead: aws.Bool(true),
	})
	if err != nil {
		return err
	}

	for _, event := range events.Events {
		id := eventID(event)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if err := emit(aws.ToString(event.Message)); err != nil {
			return fmt.Errorf("%w: %v", errConsumerGone, err)
		}
	}
	return nil
}

// eventID derives a stable identity for deduplication across polls. The get
// API returns no event id, so timestamp plus message stands in for one.
func eventID(event cwltypes.OutputLogEvent) string {
	return fmt.Sprintf("%d|%s", aws.ToInt64(event.Timestamp), aws.ToString(event.Message))
}
