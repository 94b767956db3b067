package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/coverwell/crm_backend/config"
	"github.com/coverwell/crm_backend/models"
	"github.com/coverwell/crm_backend/utils"
	"github.com/coverwell/crm_backend/workflow"
	"github.com/sirupsen/logrus"
)

// End-to-end: run a member import against a real MySQL, then roll it back.
// Covers the snapshot recorder, the conditional-update claim and the gate
// against the actual schema, which the in-memory workflow tests cannot.
func TestImportThenRollbackRestoresPriorState(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()
	logger := logrus.New()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "coverwell_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	org, err := models.CreateOrganization(ctx, &models.NewOrganization{
		Name:  "Test Org",
		Email: "owner@test.local",
	})
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	organizationId := org.ID.String()
	ctx = utils.SetOrganizationIdInContext(ctx, organizationId)

	admin, err := models.CreateProfile(ctx, &models.NewProfile{
		OrganizationId: organizationId,
		Email:          "admin@test.local",
		Name:           "Test Admin",
		Password:       "test-password",
		Role:           models.ProfileRoleAdmin,
	})
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	ctx = utils.SetUserIdInContext(ctx, admin.ID)
	ctx = utils.SetUserNameInContext(ctx, admin.Name)

	// A member that exists before the import; the import updates it.
	db := config.GetDB()
	existing := models.Member{
		OrganizationId: organizationId,
		MemberNo:       "M-002",
		FirstName:      "Old",
		LastName:       "Name",
		Status:         models.MemberStatusActive,
	}
	if err := db.WithContext(ctx).Create(&existing).Error; err != nil {
		t.Fatalf("seed member: %v", err)
	}

	// The third row is ragged (missing required columns): it must fail on
	// its own without aborting the file or the rows around it.
	csvContent := []byte("member_no,first_name,last_name,email,phone,monthly_share\n" +
		"M-001,Jane,Doe,jane@test.local,(650) 253-0000,150.00\n" +
		"M-002,New,Name,,,\n" +
		"M-003\n")

	job, err := models.CreateImportJob(ctx, models.ImportEntityTypeMember, "members.csv")
	if err != nil {
		t.Fatalf("CreateImportJob: %v", err)
	}

	runSummary, err := workflow.RunImport(ctx, logger, job.ID, csvContent)
	if err != nil {
		t.Fatalf("RunImport: %v", err)
	}
	if runSummary.TotalRows != 3 || runSummary.InsertedCount != 1 || runSummary.UpdatedCount != 1 || runSummary.ErrorCount != 1 {
		t.Fatalf("run summary: %+v", runSummary)
	}
	var rowErrors []models.ImportRowError
	if err := db.WithContext(ctx).Where("import_job_id = ?", job.ID).Find(&rowErrors).Error; err != nil {
		t.Fatalf("load row errors: %v", err)
	}
	if len(rowErrors) != 1 || rowErrors[0].RowIndex != 3 {
		t.Fatalf("row errors = %+v, want one for row 3", rowErrors)
	}

	job, err = models.GetImportJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetImportJob: %v", err)
	}
	if job.Status != models.ImportStatusCompleted {
		t.Fatalf("job status = %s, want completed", job.Status)
	}
	if job.CanRollback == nil || !*job.CanRollback {
		t.Fatal("job with snapshots must stay rollbackable")
	}
	snapshots, err := models.ListUnrolledSnapshots(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListUnrolledSnapshots: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snapshots))
	}

	inserted, err := models.FindMemberByMemberNo(ctx, "M-001")
	if err != nil {
		t.Fatalf("imported member missing: %v", err)
	}
	if inserted.Phone != "+16502530000" {
		t.Fatalf("phone = %q, want E.164", inserted.Phone)
	}

	// Roll it back.
	store := workflow.NewRollbackStore()
	caller := workflow.CallerIdentity{
		UserID:         admin.ID,
		UserName:       admin.Name,
		OrganizationId: organizationId,
		Role:           admin.Role,
	}
	result, err := workflow.RollbackImport(ctx, store, logger, caller, job.ID)
	if err != nil {
		t.Fatalf("RollbackImport: %v", err)
	}
	if !result.Success || result.RolledBackCount != 2 || result.FailedCount != 0 {
		t.Fatalf("rollback result: %+v", result)
	}

	// The inserted row is gone, the updated row holds its prior values.
	if _, err := models.FindMemberByMemberNo(ctx, "M-001"); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("M-001 after rollback: err = %v, want not found", err)
	}
	restored, err := models.FindMemberByMemberNo(ctx, "M-002")
	if err != nil {
		t.Fatalf("M-002 after rollback: %v", err)
	}
	if restored.FirstName != "Old" {
		t.Fatalf("M-002 first_name = %q, want Old", restored.FirstName)
	}

	job, err = models.GetImportJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetImportJob after rollback: %v", err)
	}
	if job.RollbackStatus == nil || *job.RollbackStatus != models.RollbackStatusCompleted {
		t.Fatalf("rollback_status = %v, want completed", job.RollbackStatus)
	}
	if job.RollbackAt == nil {
		t.Fatal("rollback_at not stamped")
	}

	// Terminal status blocks a second attempt.
	if _, err := workflow.RollbackImport(ctx, store, logger, caller, job.ID); !errors.Is(err, workflow.ErrRollbackConflict) {
		t.Fatalf("second rollback: err = %v, want ErrRollbackConflict", err)
	}

	// The advisory lock acquires and releases on one pinned session. Other
	// sessions see it held inside the locked section and free right after;
	// a release issued on a different session would leave it held.
	lockName := fmt.Sprintf("import_rollback:%d", job.ID)
	err = workflow.WithImportRollbackLock(ctx, db, job.ID, func() error {
		var free int
		if err := db.WithContext(ctx).Raw("SELECT IS_FREE_LOCK(?)", lockName).Scan(&free).Error; err != nil {
			return err
		}
		if free != 0 {
			t.Fatal("advisory lock not visible to other sessions while held")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithImportRollbackLock: %v", err)
	}
	var free int
	if err := db.WithContext(ctx).Raw("SELECT IS_FREE_LOCK(?)", lockName).Scan(&free).Error; err != nil {
		t.Fatalf("IS_FREE_LOCK: %v", err)
	}
	if free != 1 {
		t.Fatal("advisory lock still held after the locked section returned")
	}

	// One audit entry per phase: the import run and the rollback.
	var audits []models.AuditLog
	if err := db.WithContext(ctx).Where("reference_id = ?", job.ID).Order("id ASC").Find(&audits).Error; err != nil {
		t.Fatalf("load audit entries: %v", err)
	}
	if len(audits) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(audits))
	}
	if audits[0].Action != models.AuditActionImportRun || audits[1].Action != models.AuditActionImportRollback {
		t.Fatalf("audit actions = %s, %s", audits[0].Action, audits[1].Action)
	}
	if audits[1].UserId != admin.ID {
		t.Fatalf("rollback audit user = %d, want %d", audits[1].UserId, admin.ID)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("crm-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("crm-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=coverwell_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
