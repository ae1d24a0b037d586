package chat

import "log/slog"

// PrependEvent is emitted after older messages were prepended to the active window.
type PrependEvent struct {
	ConversationID string
	Added          int
	Snapshot       AnchorSnapshot
}

// ReconcileEvent is emitted after an acknowledged mutation was applied to the cache.
type ReconcileEvent struct {
	Op             string
	ConversationID string
	MessageID      string
}

// Option configures feeds, the reconciler and upload sessions.
// Options that do not apply to a component are ignored by it.
type Option func(*options)

type options struct {
	log     *slog.Logger
	metrics *Metrics

	anchor        *ScrollAnchor
	conversations *ConversationFeed

	onChange     func()
	onPrepend    func(PrependEvent)
	onReconciled func(ReconcileEvent)
	onUpload     func(UploadState)
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics records engine metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithScrollAnchor wires a ScrollAnchor to a MessageFeed's prepends.
func WithScrollAnchor(a *ScrollAnchor) Option {
	return func(o *options) { o.anchor = a }
}

// WithConversationFeed lets the reconciler refresh list previews after sends.
func WithConversationFeed(f *ConversationFeed) Option {
	return func(o *options) { o.conversations = f }
}

// OnChange is called (outside internal locks) whenever a feed's item list changes.
func OnChange(fn func()) Option {
	return func(o *options) { o.onChange = fn }
}

// OnPrepend is called after a LoadOlder merge was applied.
func OnPrepend(fn func(PrependEvent)) Option {
	return func(o *options) { o.onPrepend = fn }
}

// OnReconciled is called after a mutation was applied to the message feed.
func OnReconciled(fn func(ReconcileEvent)) Option {
	return func(o *options) { o.onReconciled = fn }
}

// OnUploadState is called on every upload session state transition.
func OnUploadState(fn func(UploadState)) Option {
	return func(o *options) { o.onUpload = fn }
}
