// Package persist writes processed results to durable and shared stores.
//
// Writer is a pipeline.Listener. OnResult never blocks the processor: results
// go into a bounded buffer and are dropped (and counted under sink "writer")
// when it is full. Run drains the buffer in batches of BatchSize or every
// FlushInterval, whichever comes first, and hands each batch to every Sink.
// A failed sink write is retried once after a backoff; a second failure drops
// the batch for that sink.
//
// Sinks:
//
//	PostgresSink  anomaly_events and pitstop_assessments rows (database/sql over pgx)
//	RedisSink     car:{id}:pitstop hash with TTL, car:{id}:anomalies pub/sub
package persist
