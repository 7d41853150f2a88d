package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/knx-access/internal/knx"
)

// Measurement names.
const (
	MeasurementValue = "knx_value"
	MeasurementPort  = "knx_port"
)

// ValuePoint is one decoded numeric group value.
type ValuePoint struct {
	Address string // "1/2/3"
	Source  string // "1.1.5"
	Kind    string // write or response
	DPT     string // "9.001"
	Name    string // optional datapoint name
	Value   float64
	Time    time.Time
}

// NewValuePoint builds the knx_value point for v. A zero Time means now.
//
// Address, kind and DPT are tags; source and name are added as tags when
// set. The value is the single field "value".
func NewValuePoint(v ValuePoint) *write.Point {
	tags := map[string]string{
		"ga":   v.Address,
		"kind": v.Kind,
		"dpt":  v.DPT,
	}
	if v.Source != "" {
		tags["source"] = v.Source
	}
	if v.Name != "" {
		tags["name"] = v.Name
	}

	ts := v.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(MeasurementValue, tags, map[string]any{"value": v.Value}, ts)
}

// NewPortPoint builds a knx_port point from access port counters.
func NewPortPoint(stats knx.PortStats, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementPort, nil, map[string]any{
		"frames_rx":        stats.FramesRx,
		"frames_tx":        stats.FramesTx,
		"malformed":        stats.Malformed,
		"ignored":          stats.Ignored,
		"inbound_dropped":  stats.InboundDropped,
		"observer_dropped": stats.ObserverDropped,
		"send_errors":      stats.SendErrors,
		"reads_issued":     stats.ReadsIssued,
		"reads_answered":   stats.ReadsAnswered,
		"read_timeouts":    stats.ReadTimeouts,
	}, ts)
}

// WriteValue queues a group value point. No-op when disconnected.
func (c *Client) WriteValue(v ValuePoint) {
	c.writePoint(NewValuePoint(v))
}

// WritePortStats queues a snapshot of access port counters.
func (c *Client) WritePortStats(stats knx.PortStats) {
	c.writePoint(NewPortPoint(stats, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
