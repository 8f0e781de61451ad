// Package cloudwatch adapts the AWS CloudWatch Logs API to logsource.Source.
package cloudwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/smithy-go"

	"cwtail/internal/logging"
	"cwtail/internal/logsource"
	"cwtail/internal/stream"
)

// API is the subset of *cloudwatchlogs.Client used by Source.
type API interface {
	cloudwatchlogs.DescribeLogGroupsAPIClient
	cloudwatchlogs.DescribeLogStreamsAPIClient
	GetLogEvents(ctx context.Context, in *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// Config holds connection settings. Empty fields fall back to the SDK's
// default credential and region chain.
type Config struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// Endpoint overrides the service endpoint (LocalStack and tests).
	Endpoint string

	// MaxAttempts bounds the SDK's own retries per call. Zero keeps the
	// SDK default.
	MaxAttempts int

	Logger *slog.Logger
}

// Source reads from CloudWatch Logs.
type Source struct {
	api    API
	logger *slog.Logger
}

var _ logsource.Source = (*Source)(nil)

// New loads the AWS configuration and builds a CloudWatch Logs client.
func New(ctx context.Context, cfg Config) (*Source, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := cloudwatchlogs.NewFromConfig(awsCfg, func(o *cloudwatchlogs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithAPI(client, cfg.Logger), nil
}

// LoadAWSConfig resolves region and credentials from cfg, falling back to
// the SDK default chain. Other AWS clients of the process share it.
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.MaxAttempts))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, logger *slog.Logger) *Source {
	return &Source{
		api:    api,
		logger: logging.Default(logger).With("component", "cloudwatch"),
	}
}

// ListGroups returns every log group whose name starts with prefix.
func (s *Source) ListGroups(ctx context.Context, prefix string) ([]logsource.Group, error) {
	in := &cloudwatchlogs.DescribeLogGroupsInput{}
	if prefix != "" {
		in.LogGroupNamePrefix = aws.String(prefix)
	}
	var out []logsource.Group
	p := cloudwatchlogs.NewDescribeLogGroupsPaginator(s.api, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe log groups %q: %w", prefix, classify(err))
		}
		for _, g := range page.LogGroups {
			out = append(out, logsource.Group{
				Name:         aws.ToString(g.LogGroupName),
				CreationTime: millis(g.CreationTime),
			})
		}
	}
	s.logger.Debug("listed log groups", "prefix", prefix, "count", len(out))
	return out, nil
}

// ListStreams returns every stream of group, most recently active first.
func (s *Source) ListStreams(ctx context.Context, group string) ([]stream.Discovered, error) {
	in := &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName: aws.String(group),
		OrderBy:      types.OrderByLastEventTime,
		Descending:   aws.Bool(true),
	}
	var out []stream.Discovered
	p := cloudwatchlogs.NewDescribeLogStreamsPaginator(s.api, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe log streams %s: %w", group, classify(err))
		}
		for _, ls := range page.LogStreams {
			out = append(out, stream.Discovered{
				ID:            stream.ID{Group: group, Name: aws.ToString(ls.LogStreamName)},
				LastEventTime: millis(ls.LastEventTimestamp),
				CreationTime:  millis(ls.CreationTime),
			})
		}
	}
	return out, nil
}

// FetchEvents reads one page forward from req.Cursor. CloudWatch returns
// the same forward token when no new events exist, so an open stream never
// reports an empty cursor.
func (s *Source) FetchEvents(ctx context.Context, req logsource.FetchRequest) (logsource.Page, error) {
	in := &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  aws.String(req.Stream.Group),
		LogStreamName: aws.String(req.Stream.Name),
		StartFromHead: aws.Bool(true),
	}
	if req.Limit > 0 {
		in.Limit = aws.Int32(int32(req.Limit))
	}
	if req.Cursor != "" {
		in.NextToken = aws.String(req.Cursor)
	} else if !req.StartTime.IsZero() {
		in.StartTime = aws.Int64(req.StartTime.UnixMilli())
	} else {
		// No bound: read backwards from the most recent events.
		in.StartFromHead = aws.Bool(false)
	}

	out, err := s.api.GetLogEvents(ctx, in)
	if err != nil {
		return logsource.Page{}, fmt.Errorf("get log events %s: %w", req.Stream, classify(err))
	}

	page := logsource.Page{
		Events:     make([]logsource.Event, 0, len(out.Events)),
		NextCursor: aws.ToString(out.NextForwardToken),
	}
	for _, e := range out.Events {
		page.Events = append(page.Events, logsource.Event{
			Message:       aws.ToString(e.Message),
			Timestamp:     millis(e.Timestamp),
			IngestionTime: millis(e.IngestionTime),
		})
	}
	return page, nil
}

// classify maps AWS API errors onto the logsource taxonomy, keeping the
// original error in the chain.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return logsource.Retryable(err)
		}
		return err
	}
	switch apiErr.ErrorCode() {
	case "ResourceNotFoundException":
		return fmt.Errorf("%w: %w", logsource.ErrStreamNotFound, err)
	case "AccessDeniedException", "UnrecognizedClientException", "InvalidSignatureException", "ExpiredTokenException":
		return fmt.Errorf("%w: %w", logsource.ErrAccessDenied, err)
	case "ThrottlingException", "LimitExceededException", "TooManyRequestsException", "RequestLimitExceeded":
		return fmt.Errorf("%w: %w", logsource.ErrThrottled, err)
	case "ServiceUnavailableException", "InternalFailure", "RequestTimeout", "RequestTimeoutException":
		return logsource.Retryable(err)
	}
	return err
}

func millis(ms *int64) time.Time {
	if ms == nil {
		return time.Time{}
	}
	return time.UnixMilli(*ms)
}
