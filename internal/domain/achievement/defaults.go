package achievement

// DefaultDefinitions returns the built-in campus catalog. It is used to seed
// empty stores and when no catalog file is configured.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			ID:             "ach-social-butterfly",
			Name:           "Social Butterfly",
			Description:    "Make 10 connections",
			Category:       CategorySocial,
			PointsRequired: 50,
			Criterion:      CriterionSocialButterfly,
			IsActive:       true,
		},
		{
			ID:             "ach-event-organizer",
			Name:           "Event Organizer",
			Description:    "Create 5 events",
			Category:       CategoryEngagement,
			PointsRequired: 75,
			Criterion:      CriterionEventOrganizer,
			IsActive:       true,
		},
		{
			ID:             "ach-knowledge-sharer",
			Name:           "Knowledge Sharer",
			Description:    "Upload 10 resources",
			Category:       CategoryAcademic,
			PointsRequired: 100,
			Criterion:      CriterionKnowledgeSharer,
			IsActive:       true,
		},
		{
			ID:             "ach-campus-explorer",
			Name:           "Campus Explorer",
			Description:    "Attend 20 events",
			Category:       CategoryEngagement,
			PointsRequired: 100,
			Criterion:      CriterionCampusExplorer,
			IsActive:       true,
		},
	}
}
