package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/facegate/internal/dbx"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/audit"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/challenges"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/templates"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to either a *sql.DB or a
// *sql.Tx, so services can choose per call whether work is transactional.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Templates(db dbx.DBTX) templates.Repository
	Challenges(db dbx.DBTX) challenges.Repository
	Audit(db dbx.DBTX) audit.Repository
}
