// Package influxdb records KNX group values as InfluxDB time series.
//
// It wraps influxdb-client-go v2 with connection management, batched
// non-blocking writes and health checks. The gateway writes one point per
// decoded numeric group value (measurement "knx_value") and a periodic
// snapshot of access port counters (measurement "knx_port").
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteValue(influxdb.ValuePoint{
//	    Address: "1/2/3",
//	    DPT:     "9.001",
//	    Value:   21.5,
//	})
//
// # Error Handling
//
// Writes are batched according to batch_size and flush_interval. Batch
// failures arrive asynchronously through SetOnError; connection and health
// check errors are returned directly.
package influxdb
