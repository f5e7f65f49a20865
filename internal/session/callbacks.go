package session

import "github.com/tamsinv/parley/internal/domain"

// Callbacks are the typed notification slots the controller exposes to UI
// collaborators. Unset fields are skipped. Listeners receive snapshots and
// must not mutate them.
type Callbacks struct {
	// TranscriptChanged fires with the full reconciled transcript after
	// every merge.
	TranscriptChanged func(items []domain.TranscriptItem)

	// TypingChanged fires with the full set of currently-typing
	// participant IDs.
	TypingChanged func(participants []string)

	// ContactStatusChanged fires on every contact lifecycle transition.
	ContactStatusChanged func(status domain.ContactStatus)

	// Incoming fires for every decoded incoming item, including ones the
	// merge later suppresses.
	Incoming func(item domain.TranscriptItem)

	// Outgoing fires for every decoded item that originated locally.
	Outgoing func(item domain.TranscriptItem)

	// ChatDisconnected fires when the session loses its connection or ends.
	ChatDisconnected func()

	// ChatClosed fires when the conversation is over for good.
	ChatClosed func()
}
