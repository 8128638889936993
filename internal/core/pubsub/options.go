package pubsub

import "time"

// StorageType defines the storage backend for streams.
type StorageType int

const (
	// MemoryStorage keeps stream data in memory (default).
	MemoryStorage StorageType = iota
	// FileStorage keeps stream data on disk.
	FileStorage
)

// PublisherOptions configures publisher behavior.
type PublisherOptions struct {
	// StreamName is the stream receiving the messages. The stream is created
	// on demand when the broker supports streams.
	StreamName string

	// SubjectPrefix is prepended to all subjects.
	SubjectPrefix string

	// RetryAttempts is the number of publish retries. 0 disables retries.
	RetryAttempts int

	// Storage is the storage type for the stream.
	Storage StorageType

	// OnPublish is called after each publish attempt.
	OnPublish func(subject string, err error, latency time.Duration)
}

// Subject returns subject qualified with SubjectPrefix.
func (o PublisherOptions) Subject(subject string) string {
	if o.SubjectPrefix == "" {
		return subject
	}
	return o.SubjectPrefix + "." + subject
}

// StreamSubject is the wildcard the publisher's stream must capture.
func (o PublisherOptions) StreamSubject() string {
	if o.SubjectPrefix != "" {
		return o.SubjectPrefix + ".>"
	}
	return o.StreamName + ".>"
}

// Observe reports a publish attempt to OnPublish, if set.
func (o PublisherOptions) Observe(subject string, err error, start time.Time) {
	if o.OnPublish != nil {
		o.OnPublish(subject, err, time.Since(start))
	}
}

// ConsumerOptions configures consumer behavior.
type ConsumerOptions struct {
	// StreamName is the stream to consume from.
	StreamName string

	// ConsumerName is the durable consumer name. Consumers sharing a name
	// share the messages; distinct names each receive every message.
	ConsumerName string

	// FilterSubject filters messages by subject pattern. Defaults to
	// "<StreamName>.>".
	FilterSubject string

	// DeliverNew skips messages published before the consumer was created.
	DeliverNew bool

	// InactiveThreshold removes the consumer after it has been idle that
	// long. 0 keeps it forever.
	InactiveThreshold time.Duration

	// ChannelBufSize is the buffer size for the message channel.
	ChannelBufSize int

	// Storage is the storage type for the stream.
	Storage StorageType
}

// DefaultConsumerOptions returns ConsumerOptions with sensible defaults.
func DefaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{
		ChannelBufSize: 100,
	}
}

// Pattern returns the subject pattern the consumer listens on.
func (o ConsumerOptions) Pattern() string {
	if o.FilterSubject != "" {
		return o.FilterSubject
	}
	if o.StreamName != "" {
		return o.StreamName + ".>"
	}
	return ">"
}

// BufSize returns ChannelBufSize or the default when unset.
func (o ConsumerOptions) BufSize() int {
	if o.ChannelBufSize > 0 {
		return o.ChannelBufSize
	}
	return DefaultConsumerOptions().ChannelBufSize
}
