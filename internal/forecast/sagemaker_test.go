package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
)

type invokeEndpointFunc func(context.Context, *sagemakerruntime.InvokeEndpointInput) (*sagemakerruntime.InvokeEndpointOutput, error)

func (f invokeEndpointFunc) InvokeEndpoint(ctx context.Context, in *sagemakerruntime.InvokeEndpointInput, _ ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error) {
	return f(ctx, in)
}

func TestSageMakerInvokeSendsJSON(t *testing.T) {
	var seen *sagemakerruntime.InvokeEndpointInput
	client := NewSageMakerClientFromAPI(invokeEndpointFunc(func(ctx context.Context, in *sagemakerruntime.InvokeEndpointInput) (*sagemakerruntime.InvokeEndpointOutput, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Fatalf("expected a call deadline")
		}
		seen = in
		return &sagemakerruntime.InvokeEndpointOutput{Body: []byte(`{"predictions":[{"mean":[2.5]}]}`)}, nil
	}), "tft-hourly", time.Second)

	plan, _ := BuildRequest(hourlySeries(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), 1, 2), 1, DefaultConfig())
	resp, err := client.Invoke(context.Background(), plan.Request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Shape != ShapeNestedMean || resp.Values[0] != 2.5 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if aws.ToString(seen.EndpointName) != "tft-hourly" || aws.ToString(seen.ContentType) != "application/json" {
		t.Fatalf("unexpected input: endpoint=%s content-type=%s", aws.ToString(seen.EndpointName), aws.ToString(seen.ContentType))
	}
	var payload Request
	if err := json.Unmarshal(seen.Body, &payload); err != nil || len(payload.Instances) != 1 {
		t.Fatalf("unexpected body %s: %v", seen.Body, err)
	}
	if client.Endpoint() != "sagemaker:tft-hourly" {
		t.Fatalf("unexpected target %q", client.Endpoint())
	}
}

func TestSageMakerBatchesUseCSV(t *testing.T) {
	client := NewSageMakerClientFromAPI(invokeEndpointFunc(func(_ context.Context, in *sagemakerruntime.InvokeEndpointInput) (*sagemakerruntime.InvokeEndpointOutput, error) {
		if aws.ToString(in.ContentType) != "text/csv" {
			t.Fatalf("expected text/csv, got %s", aws.ToString(in.ContentType))
		}
		return &sagemakerruntime.InvokeEndpointOutput{Body: []byte(`[{"module(equipment)": 1, "prediction": 0.4}]`)}, nil
	}), "batch", time.Second)

	frame := ModuleFrame{Module: 1, Columns: []string{"localtime", ModuleColumn}, Rows: [][]string{{"2025-05-01 00:00:00", "1"}}}
	result, err := client.PredictBatches(context.Background(), []ModuleFrame{frame}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Records) != 1 || result.Records[0]["prediction"] != 0.4 {
		t.Fatalf("unexpected records: %+v", result.Records)
	}
}

func TestSageMakerErrorsPropagate(t *testing.T) {
	boom := errors.New("ValidationError: endpoint not found")
	client := NewSageMakerClientFromAPI(invokeEndpointFunc(func(context.Context, *sagemakerruntime.InvokeEndpointInput) (*sagemakerruntime.InvokeEndpointOutput, error) {
		return nil, boom
	}), "missing", time.Second)

	if _, err := client.Invoke(context.Background(), Request{}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped endpoint error, got %v", err)
	}
}

func TestNewSageMakerClientRequiresEndpointName(t *testing.T) {
	if _, err := NewSageMakerClient(context.Background(), SageMakerConfig{Region: DefaultRegion}); !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("expected ErrNoEndpoint, got %v", err)
	}
}
