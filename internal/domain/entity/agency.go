package entity

import "github.com/google/uuid"

// User is a platform user that can act on workflows
type User struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email,omitempty"`
}

// Agency owns opportunities and scopes approval privileges
type Agency struct {
	AgencyID   uuid.UUID `json:"agency_id"`
	AgencyCode string    `json:"agency_code"`
	AgencyName string    `json:"agency_name"`
}

// Opportunity is a funding opportunity published by an agency
type Opportunity struct {
	OpportunityID    uuid.UUID  `json:"opportunity_id"`
	AgencyID         *uuid.UUID `json:"agency_id,omitempty"`
	OpportunityTitle string     `json:"opportunity_title"`
}

// Application is an applicant's application to an opportunity
type Application struct {
	ApplicationID uuid.UUID `json:"application_id"`
	OpportunityID uuid.UUID `json:"opportunity_id"`
}

// ApplicationSubmission is a submitted snapshot of an application
type ApplicationSubmission struct {
	ApplicationSubmissionID uuid.UUID `json:"application_submission_id"`
	ApplicationID           uuid.UUID `json:"application_id"`
}
