package simulate

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/okian/tremor/internal/domain/model"
)

const uploadChunk = 500

// client talks to the tremord HTTP API.
type client struct {
	http *resty.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		AddRetryCondition(func(r *resty.Response, _ error) bool {
			return r != nil && r.StatusCode() == http.StatusTooManyRequests
		})
	return &client{http: c}
}

func (c *client) health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("service health check failed with status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

type samplesAck struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// upload posts records in chunks without triggering analysis. It returns
// the accepted and rejected counts and the bytes sent.
func (c *client) upload(ctx context.Context, records []model.RawSample) (samplesAck, int64, error) {
	var (
		total samplesAck
		bytes int64
	)
	for i := 0; i < len(records); i += uploadChunk {
		chunk := records[i:min(i+uploadChunk, len(records))]
		body, err := json.Marshal(chunk)
		if err != nil {
			return total, bytes, fmt.Errorf("marshal records: %w", err)
		}
		var ack samplesAck
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("trigger", "false").
			SetBody(body).
			SetResult(&ack).
			Post("/samples")
		if err != nil {
			return total, bytes, fmt.Errorf("post samples: %w", err)
		}
		if resp.IsError() {
			return total, bytes, fmt.Errorf("post samples: status %d: %s", resp.StatusCode(), resp.String())
		}
		total.Accepted += ack.Accepted
		total.Rejected += ack.Rejected
		bytes += int64(len(body))
	}
	return total, bytes, nil
}

type processBody struct {
	DeviceID string `json:"device_id"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
}

func (c *client) process(ctx context.Context, deviceID string, r model.TimeRange) (model.ProcessingSummary, error) {
	var sum model.ProcessingSummary
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(processBody{DeviceID: deviceID, Start: r.Start, End: r.End}).
		SetResult(&sum).
		Post("/process")
	if err != nil {
		return sum, fmt.Errorf("process %s: %w", deviceID, err)
	}
	if resp.IsError() {
		return sum, fmt.Errorf("process %s: status %d: %s", deviceID, resp.StatusCode(), resp.String())
	}
	return sum, nil
}

func (c *client) results(ctx context.Context, deviceID string, r model.TimeRange) ([]model.AnalysisResult, error) {
	var out []model.AnalysisResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"device_id": deviceID,
			"start":     strconv.FormatInt(r.Start, 10),
			"end":       strconv.FormatInt(r.End, 10),
		}).
		SetResult(&out).
		Get("/results")
	if err != nil {
		return nil, fmt.Errorf("results %s: %w", deviceID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("results %s: status %d: %s", deviceID, resp.StatusCode(), resp.String())
	}
	return out, nil
}
