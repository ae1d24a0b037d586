// Package chat implements the client-side conversation/message synchronization engine.
//
// It keeps two independently paginated caches (the conversation list and the
// message window of the active conversation), applies server-acknowledged
// mutations to them, preserves the scroll position when older history is
// prepended, and drives attachment uploads up to the point they become sends.
//
// The engine is pull based. Network I/O happens outside of internal locks and
// every response is checked against the owning key before it is merged, so a
// response that arrives after a conversation switch is discarded.
package chat
