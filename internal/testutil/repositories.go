package testutil

import (
	"github.com/garyjia/grants-workflow/internal/application/workflow"
	"github.com/garyjia/grants-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/grants-workflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

// Repositories returns the SQL repositories backed by db
func Repositories(db *sqldb.DB) workflow.Repositories {
	logger := zap.NewNop()
	return workflow.Repositories{
		Workflows:     repository.NewWorkflowRepository(db, logger),
		Histories:     repository.NewEventHistoryRepository(db, logger),
		Approvals:     repository.NewApprovalRepository(db, logger),
		Audits:        repository.NewAuditRepository(db, logger),
		Users:         repository.NewUserRepository(db, logger),
		Opportunities: repository.NewOpportunityRepository(db, logger),
		Applications:  repository.NewApplicationRepository(db, logger),
	}
}
