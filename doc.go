// Package connectflow decodes Connect protocol responses into JSON result
// documents without giving up on malformed input.
//
// A streaming body is split into enveloped frames (one flag byte and a 4-byte
// big-endian length), each data frame is decoded against a protobuf message
// descriptor and folded into a single Result. Decoding runs in two tiers: the
// schema decoder first, then a manual wire walk that keeps every field it can
// read and records where it stopped. Trailers, plain JSON error bodies and
// HTTP error statuses all end up in Result.Error. Unary bodies are sniffed as
// JSON or protobuf and rendered the same way.
//
// Service bundles the shared pieces: Config (TOML file plus CONNECTFLOW_*
// environment overrides), a ServiceLogger, Prometheus metrics and an optional
// result sink that publishes finished documents through Watermill.
//
// # Sinks
//
// connectflow can publish finalized results to:
//   - channel: In-memory Go channels for testing
//   - file: JSON lines appended to a local file
//   - kafka: Kafka topics
//   - rabbitmq: AMQP durable exchanges
//   - aws: AWS SNS with LocalStack support
//   - sqs: AWS SQS queues
//   - nats: NATS subjects
//   - jetstream: a NATS JetStream stream
//   - http: POST to a collector URL
//
// # Low-level use
//
// NewSession, NewDemuxer, NewDecoder and Walk expose the individual stages
// for callers that drive their own I/O:
//
//	sess := connectflow.NewSession(connectflow.SessionOptions{Status: 200})
//	for chunk := range chunks {
//		_ = sess.Feed(chunk)
//	}
//	doc := connectflow.Finalize(sess.Finish())
package connectflow
