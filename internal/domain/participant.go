package domain

// ParticipantRole identifies which side of the conversation a participant
// belongs to.
type ParticipantRole string

const (
	RoleCustomer ParticipantRole = "CUSTOMER"
	RoleAgent    ParticipantRole = "AGENT"
	RoleSystem   ParticipantRole = "SYSTEM"
)

// Participant is an identified party in a conversation.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// ContactStatus is the lifecycle state of a chat contact.
type ContactStatus string

const (
	ContactDisconnected ContactStatus = "disconnected"
	ContactConnecting   ContactStatus = "connecting"
	ContactConnected    ContactStatus = "connected"
	ContactEnded        ContactStatus = "ended"
)
