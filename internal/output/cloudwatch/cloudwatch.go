// Package cloudwatch ships audit lines to an AWS CloudWatch Logs stream.
package cloudwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/crimson-sun/auditfwd/internal/config"
	"github.com/crimson-sun/auditfwd/internal/linetime"
	"github.com/crimson-sun/auditfwd/internal/model"
	"github.com/crimson-sun/auditfwd/internal/output"
)

// PutLogEvents service limits.
const (
	maxBatchEvents   = 10_000
	maxBatchBytes    = 1_048_576
	eventOverhead    = 26
	maxBatchTimeSpan = 24 * time.Hour
)

// ErrLogGroupNotFound is returned when the configured log group does not exist.
// Groups are never created by the forwarder.
var ErrLogGroupNotFound = errors.New("cloudwatch: log group does not exist")

func init() {
	output.Register(config.SinkCloudWatch, func(cfg config.Config, deps output.Deps) (output.Sink, error) {
		api, err := NewClient(context.Background(), cfg.CloudWatch, cfg.HTTPTimeout)
		if err != nil {
			return nil, err
		}
		return New(api, cfg.CloudWatch.LogGroup, cfg.CloudWatch.LogStream, deps.Extractor, deps.Logger), nil
	})
}

// LogsAPI is the subset of *cloudwatchlogs.Client the sink calls.
type LogsAPI interface {
	DescribeLogGroups(ctx context.Context, in *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
	DescribeLogStreams(ctx context.Context, in *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
	CreateLogStream(ctx context.Context, in *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, in *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// NewClient builds a CloudWatch Logs client. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain applies. A
// custom endpoint (e.g. LocalStack) overrides service resolution.
func NewClient(ctx context.Context, cfg config.CloudWatchConfig, timeout time.Duration) (*cloudwatchlogs.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloudwatch: load aws config: %w", err)
	}
	return cloudwatchlogs.NewFromConfig(awsCfg, func(o *cloudwatchlogs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if timeout > 0 {
			o.HTTPClient = awshttp.NewBuildableClient().WithTimeout(timeout)
		}
	}), nil
}

// Sink forwards audit lines as CloudWatch log events.
type Sink struct {
	api       LogsAPI
	group     string
	stream    string
	extractor *linetime.Extractor
	logger    *slog.Logger
}

// New creates a CloudWatch sink writing to group/stream.
func New(api LogsAPI, group, stream string, extractor *linetime.Extractor, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = linetime.New(linetime.WithLogger(logger))
	}
	return &Sink{api: api, group: group, stream: stream, extractor: extractor, logger: logger}
}

func (s *Sink) Name() string { return config.SinkCloudWatch }

// Send checks the log group exists, creates the stream when missing, then
// submits every line as an event sorted by its embedded timestamp.
func (s *Sink) Send(ctx context.Context, batch model.Batch) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}
	if err := s.ensureStream(ctx); err != nil {
		return err
	}

	events := s.events(batch)
	if len(events) == 0 {
		s.logger.Debug("no log events to send to cloudwatch")
		return nil
	}
	s.logger.Info("sending audit events to cloudwatch", "events", len(events), "group", s.group, "stream", s.stream)

	for _, chunk := range chunkEvents(events) {
		_, err := s.api.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
			LogGroupName:  aws.String(s.group),
			LogStreamName: aws.String(s.stream),
			LogEvents:     chunk,
		})
		if err != nil {
			return fmt.Errorf("cloudwatch: put log events: %w", err)
		}
	}
	s.logger.Info("audit events sent to cloudwatch", "events", len(events))
	return nil
}

func (s *Sink) Close() error { return nil }

func (s *Sink) ensureGroup(ctx context.Context) error {
	in := &cloudwatchlogs.DescribeLogGroupsInput{LogGroupNamePrefix: aws.String(s.group)}
	for {
		out, err := s.api.DescribeLogGroups(ctx, in)
		if err != nil {
			return fmt.Errorf("cloudwatch: describe log groups: %w", err)
		}
		for _, g := range out.LogGroups {
			if aws.ToString(g.LogGroupName) == s.group {
				return nil
			}
		}
		if out.NextToken == nil {
			return fmt.Errorf("%w: %s", ErrLogGroupNotFound, s.group)
		}
		in.NextToken = out.NextToken
	}
}

func (s *Sink) ensureStream(ctx context.Context) error {
	in := &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName:        aws.String(s.group),
		LogStreamNamePrefix: aws.String(s.stream),
	}
	for {
		out, err := s.api.DescribeLogStreams(ctx, in)
		if err != nil {
			return fmt.Errorf("cloudwatch: describe log streams: %w", err)
		}
		for _, st := range out.LogStreams {
			if aws.ToString(st.LogStreamName) == s.stream {
				return nil
			}
		}
		if out.NextToken == nil {
			break
		}
		in.NextToken = out.NextToken
	}

	s.logger.Info("creating cloudwatch log stream", "group", s.group, "stream", s.stream)
	_, err := s.api.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(s.group),
		LogStreamName: aws.String(s.stream),
	})
	var exists *types.ResourceAlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("cloudwatch: create log stream: %w", err)
	}
	return nil
}

// events converts the batch into log events in non-decreasing timestamp order.
func (s *Sink) events(batch model.Batch) []types.InputLogEvent {
	lines := batch.Lines()
	events := make([]types.InputLogEvent, len(lines))
	for i, line := range lines {
		events[i] = types.InputLogEvent{
			Message:   aws.String(line),
			Timestamp: aws.Int64(s.extractor.Millis(line)),
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return *events[i].Timestamp < *events[j].Timestamp
	})
	return events
}

// chunkEvents splits sorted events into consecutive PutLogEvents payloads
// that respect the count, size and 24h span limits.
func chunkEvents(events []types.InputLogEvent) [][]types.InputLogEvent {
	var chunks [][]types.InputLogEvent
	start, size := 0, 0
	spanLimit := maxBatchTimeSpan.Milliseconds()
	for i, ev := range events {
		evSize := len(aws.ToString(ev.Message)) + eventOverhead
		if i > start && (i-start >= maxBatchEvents ||
			size+evSize > maxBatchBytes ||
			*ev.Timestamp-*events[start].Timestamp >= spanLimit) {
			chunks = append(chunks, events[start:i])
			start, size = i, 0
		}
		size += evSize
	}
	if start < len(events) {
		chunks = append(chunks, events[start:])
	}
	return chunks
}
