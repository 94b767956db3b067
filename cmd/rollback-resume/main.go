// rollback-resume recovers import rollbacks left in_progress by a crash.
// It re-runs the orchestrator for each stuck job; snapshots already flagged
// is_rolled_back are skipped, so resuming is safe.
//
// Usage:
//   go run ./cmd/rollback-resume --stuck-minutes 30            (dry run: list only)
//   go run ./cmd/rollback-resume --stuck-minutes 30 --dry-run=false --confirm=RESUME
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coverwell/crm_backend/config"
	"github.com/coverwell/crm_backend/models"
	"github.com/coverwell/crm_backend/utils"
	"github.com/coverwell/crm_backend/workflow"
)

func main() {
	jobID := flag.Int("job-id", 0, "Resume one specific import job (0 = all stuck jobs)")
	stuckMinutes := flag.Int("stuck-minutes", 30, "Only consider jobs in_progress for at least this long")
	dryRun := flag.Bool("dry-run", true, "List stuck jobs only (no writes)")
	confirm := flag.String("confirm", "", "Type RESUME to proceed when dry-run=false")
	flag.Parse()

	if !*dryRun && strings.TrimSpace(*confirm) != "RESUME" {
		fmt.Fprintln(os.Stderr, "set --confirm=RESUME to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetSkipTenantScopeInContext(context.Background(), true)
	jobs, err := models.ListStuckRollbacks(ctx, time.Duration(*stuckMinutes)*time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list stuck rollbacks: %v\n", err)
		os.Exit(1)
	}
	if *jobID > 0 {
		jobs = filterJob(jobs, *jobID)
	}
	if len(jobs) == 0 {
		fmt.Println("no stuck rollbacks found")
		return
	}

	for _, job := range jobs {
		fmt.Printf("id=%d organization_id=%s entity_type=%s total_rows=%d updated_at=%s\n",
			job.ID, job.OrganizationId, job.EntityType, job.TotalRows, job.UpdatedAt.Format(time.RFC3339))
	}
	if *dryRun {
		return
	}

	logger := config.GetLogger()
	store := workflow.NewRollbackStore()
	for _, job := range jobs {
		// Run under the job's own tenant so the guard and audit trail see the
		// right organization. The operator identity is recorded as user 0.
		jobCtx := context.Background()
		jobCtx = utils.SetOrganizationIdInContext(jobCtx, job.OrganizationId)
		jobCtx = utils.SetUserIdInContext(jobCtx, 0)
		jobCtx = utils.SetUserNameInContext(jobCtx, "rollback-resume")

		var summary *workflow.RollbackSummary
		err := workflow.WithImportRollbackLock(jobCtx, db, job.ID, func() error {
			var werr error
			summary, werr = workflow.RollbackImportJob(jobCtx, store, logger, job.ID, true)
			return werr
		})
		if errors.Is(err, workflow.ErrRollbackLockBusy) {
			fmt.Fprintf(os.Stderr, "job=%d: rollback already running elsewhere, skipping\n", job.ID)
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "job=%d: resume failed: %v\n", job.ID, err)
			continue
		}
		fmt.Printf("job=%d resumed: rolled_back=%d failed=%d\n", job.ID, summary.RolledBackCount, summary.FailedCount)
	}
}

func filterJob(jobs []models.ImportJob, id int) []models.ImportJob {
	for _, j := range jobs {
		if j.ID == id {
			return []models.ImportJob{j}
		}
	}
	return nil
}
