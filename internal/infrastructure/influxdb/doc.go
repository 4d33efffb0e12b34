// Package influxdb writes presence telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Measurements:
//
//	presence       site                 people, score, present
//	feed_presence  site, feed_id        people
//	light          site, source         brightness, state
//	feed_stats     site, feed_id        fps, avg_processing_time_ms, frames_processed
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteLight(68, "on", "auto", time.Now())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; batch errors arrive through SetOnError.
package influxdb
