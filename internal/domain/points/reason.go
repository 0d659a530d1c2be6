package points

// Reason tags used by producers. The tag is stored verbatim on the ledger row.
const (
	ReasonSentConnectionRequest = "sent_connection_request"
	ReasonAcceptedConnection    = "accepted_connection"
	ReasonEventCreated          = "event_created"
	ReasonEventRSVP             = "event_rsvp"
	ReasonResourceUploaded      = "resource_uploaded"

	// ReasonAchievementPrefix is followed by the achievement name.
	ReasonAchievementPrefix = "achievement_unlocked_"
)

var defaultAwards = map[string]int{
	ReasonSentConnectionRequest: 5,
	ReasonAcceptedConnection:    15,
	ReasonEventCreated:          20,
	ReasonEventRSVP:             10,
	ReasonResourceUploaded:      25,
}

// DefaultAward returns the standard amount for a producer reason, or 0 when
// the reason has no standard amount.
func DefaultAward(reason string) int {
	return defaultAwards[reason]
}

// AchievementReason returns the ledger reason for an achievement bonus.
func AchievementReason(achievementName string) string {
	return ReasonAchievementPrefix + achievementName
}
