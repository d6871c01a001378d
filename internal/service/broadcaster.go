package service

// Broadcaster decouples the services that produce collaboration events from
// the transport that delivers them. The websocket manager implements it;
// a nil Broadcaster disables delivery (useful in tests).
type Broadcaster interface {
	// NoteUpdated notifies every user with access to the note except the
	// originating user.
	NoteUpdated(noteID, versionID, title, content, contentHash, originUserID, originDeviceID string)
	// ConflictDetected notifies all users with access to the note,
	// including the detecting user's other devices.
	ConflictDetected(noteID, conflictType, detectedBy string)
}
