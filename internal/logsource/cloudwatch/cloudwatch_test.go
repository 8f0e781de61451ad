package cloudwatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/smithy-go"

	"cwtail/internal/logsource"
	"cwtail/internal/stream"
)

// fakeAPI serves canned pages keyed by NextToken.
type fakeAPI struct {
	groupPages  map[string]*cloudwatchlogs.DescribeLogGroupsOutput
	streamPages map[string]*cloudwatchlogs.DescribeLogStreamsOutput
	events      *cloudwatchlogs.GetLogEventsOutput
	err         error
	lastEvents  *cloudwatchlogs.GetLogEventsInput
	lastStreams *cloudwatchlogs.DescribeLogStreamsInput
}

func (f *fakeAPI) DescribeLogGroups(_ context.Context, in *cloudwatchlogs.DescribeLogGroupsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.groupPages[aws.ToString(in.NextToken)], nil
}

func (f *fakeAPI) DescribeLogStreams(_ context.Context, in *cloudwatchlogs.DescribeLogStreamsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error) {
	f.lastStreams = in
	if f.err != nil {
		return nil, f.err
	}
	return f.streamPages[aws.ToString(in.NextToken)], nil
}

func (f *fakeAPI) GetLogEvents(_ context.Context, in *cloudwatchlogs.GetLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error) {
	f.lastEvents = in
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func TestListGroupsDrainsPages(t *testing.T) {
	api := &fakeAPI{groupPages: map[string]*cloudwatchlogs.DescribeLogGroupsOutput{
		"": {
			LogGroups: []types.LogGroup{{LogGroupName: aws.String("/aws/lambda/a")}},
			NextToken: aws.String("p2"),
		},
		"p2": {
			LogGroups: []types.LogGroup{{LogGroupName: aws.String("/aws/lambda/b"), CreationTime: aws.Int64(1000)}},
		},
	}}
	groups, err := NewWithAPI(api, nil).ListGroups(context.Background(), "/aws/lambda/")
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 2 || groups[1].Name != "/aws/lambda/b" || !groups[1].CreationTime.Equal(time.UnixMilli(1000)) {
		t.Errorf("unexpected groups: %+v", groups)
	}
}

func TestListStreams(t *testing.T) {
	api := &fakeAPI{streamPages: map[string]*cloudwatchlogs.DescribeLogStreamsOutput{
		"": {
			LogStreams: []types.LogStream{
				{LogStreamName: aws.String("s1"), LastEventTimestamp: aws.Int64(9000)},
				{LogStreamName: aws.String("s2")},
			},
		},
	}}
	streams, err := NewWithAPI(api, nil).ListStreams(context.Background(), "app")
	if err != nil {
		t.Fatalf("ListStreams: %v", err)
	}
	if len(streams) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(streams))
	}
	if streams[0].ID != (stream.ID{Group: "app", Name: "s1"}) || !streams[0].LastEventTime.Equal(time.UnixMilli(9000)) {
		t.Errorf("unexpected first stream: %+v", streams[0])
	}
	if !streams[1].LastEventTime.IsZero() {
		t.Errorf("missing timestamp should be zero, got %v", streams[1].LastEventTime)
	}
	if api.lastStreams.OrderBy != types.OrderByLastEventTime || !aws.ToBool(api.lastStreams.Descending) {
		t.Errorf("expected descending last-event order, got %+v", api.lastStreams)
	}
}

func TestFetchEventsRequest(t *testing.T) {
	id := stream.ID{Group: "app", Name: "web"}
	api := &fakeAPI{events: &cloudwatchlogs.GetLogEventsOutput{
		Events: []types.OutputLogEvent{
			{Message: aws.String("hello"), Timestamp: aws.Int64(1), IngestionTime: aws.Int64(2)},
		},
		NextForwardToken: aws.String("f/next"),
	}}
	src := NewWithAPI(api, nil)
	ctx := context.Background()

	page, err := src.FetchEvents(ctx, logsource.FetchRequest{Stream: id, Cursor: "f/prev", Limit: 50})
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if page.NextCursor != "f/next" || len(page.Events) != 1 || page.Events[0].Message != "hello" {
		t.Errorf("unexpected page: %+v", page)
	}
	if aws.ToString(api.lastEvents.NextToken) != "f/prev" || aws.ToInt32(api.lastEvents.Limit) != 50 {
		t.Errorf("unexpected request: %+v", api.lastEvents)
	}
	if api.lastEvents.StartTime != nil {
		t.Error("StartTime must not be sent with a cursor")
	}

	start := time.UnixMilli(123456)
	if _, err := src.FetchEvents(ctx, logsource.FetchRequest{Stream: id, StartTime: start}); err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if aws.ToInt64(api.lastEvents.StartTime) != 123456 || !aws.ToBool(api.lastEvents.StartFromHead) {
		t.Errorf("expected bounded read from head, got %+v", api.lastEvents)
	}

	if _, err := src.FetchEvents(ctx, logsource.FetchRequest{Stream: id}); err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if aws.ToBool(api.lastEvents.StartFromHead) {
		t.Error("unbounded read without cursor should start from the tail")
	}
}

func TestClassify(t *testing.T) {
	apiErr := func(code string) error {
		return &smithy.GenericAPIError{Code: code, Message: code}
	}
	tests := []struct {
		name      string
		err       error
		target    error
		retryable bool
	}{
		{"not found", apiErr("ResourceNotFoundException"), logsource.ErrStreamNotFound, false},
		{"denied", apiErr("AccessDeniedException"), logsource.ErrAccessDenied, false},
		{"throttled", apiErr("ThrottlingException"), logsource.ErrThrottled, true},
		{"unavailable", apiErr("ServiceUnavailableException"), nil, true},
		{"deadline", context.DeadlineExceeded, nil, true},
		{"canceled", context.Canceled, nil, false},
		{"unknown", apiErr("InvalidParameterException"), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{err: tt.err}
			_, err := NewWithAPI(api, nil).FetchEvents(context.Background(), logsource.FetchRequest{
				Stream: stream.ID{Group: "g", Name: "s"},
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("expected %v in chain, got %v", tt.target, err)
			}
			if got := logsource.IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v (%v)", got, tt.retryable, err)
			}
		})
	}
}
