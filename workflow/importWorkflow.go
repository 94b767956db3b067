package workflow

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/coverwell/crm_backend/config"
	"github.com/coverwell/crm_backend/models"
	"github.com/coverwell/crm_backend/utils"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

var rowValidate = validator.New()

// ImportRunSummary mirrors the counters persisted on the job row.
type ImportRunSummary struct {
	TotalRows     int `json:"total_rows"`
	InsertedCount int `json:"inserted_count"`
	UpdatedCount  int `json:"updated_count"`
	SkippedCount  int `json:"skipped_count"`
	ErrorCount    int `json:"error_count"`
}

type memberRow struct {
	MemberNo     string `validate:"required"`
	FirstName    string `validate:"required"`
	LastName     string
	Email        string `validate:"omitempty,email"`
	Phone        string
	MonthlyShare string
	Status       string `validate:"omitempty,oneof=active inactive"`
}

type advisorRow struct {
	AdvisorNo      string `validate:"required"`
	Name           string `validate:"required"`
	Email          string `validate:"omitempty,email"`
	Phone          string
	CommissionRate string
}

type billGroupRow struct {
	Code          string `validate:"required"`
	Name          string `validate:"required"`
	PremiumAmount string
	DueDay        string
}

// ParseImportFile reads CSV or XLSX content into a header row plus data rows.
// XLSX uses the first sheet.
func ParseImportFile(fileName string, content []byte) ([]string, [][]string, error) {
	if strings.HasSuffix(strings.ToLower(fileName), ".xlsx") {
		f, err := excelize.OpenReader(bytes.NewReader(content))
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()

		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, nil, errors.New("workbook has no sheets")
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, nil, err
		}
		if len(rows) == 0 {
			return nil, nil, errors.New("file is empty")
		}
		return rows[0], rows[1:], nil
	}

	reader := csv.NewReader(bytes.NewReader(content))
	reader.TrimLeadingSpace = true
	// Ragged rows must not abort the file; they surface as per-row
	// validation errors when the row is applied.
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, errors.New("file is empty")
		}
		return nil, nil, err
	}
	var rows [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, rec)
	}
	return header, rows, nil
}

// RunImport executes a pending import job end to end: parse, validate and
// apply every row, recording one snapshot per mutated row inside the same
// transaction as the mutation so every applied row stays reversible even
// across a crash mid-run.
func RunImport(ctx context.Context, logger *logrus.Logger, jobId int, content []byte) (*ImportRunSummary, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	job, err := models.GetImportJob(ctx, jobId)
	if err != nil {
		return nil, err
	}

	claimed, err := models.MarkImportJobProcessing(ctx, jobId)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("import job %d is not pending", jobId)
	}

	summary := &ImportRunSummary{}

	header, rows, err := ParseImportFile(job.FileName, content)
	if err != nil {
		_ = models.FinalizeImportJob(ctx, jobId, models.ImportStatusFailed, 0, 0, 0, 0, 0, false)
		return nil, err
	}
	colIndex := headerIndex(header)
	summary.TotalRows = len(rows)

	db := config.GetDB()
	for i, rec := range rows {
		rowIndex := i + 1 // 1-based, header excluded

		if err := ctx.Err(); err != nil {
			return summary, err
		}

		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			op, skipped, err := applyRow(ctx, tx, job, organizationId, rowIndex, colIndex, rec)
			if err != nil {
				return err
			}
			if skipped {
				summary.SkippedCount++
			} else if op == models.SnapshotOperationInsert {
				summary.InsertedCount++
			} else {
				summary.UpdatedCount++
			}
			return nil
		})
		if err != nil {
			summary.ErrorCount++
			recordRowError(ctx, db, organizationId, jobId, rowIndex, err)
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"field":         "ImportRun",
					"import_job_id": jobId,
					"row_index":     rowIndex,
				}).Warn("import row failed: " + err.Error())
			}
		}
	}

	snapshotCount, err := models.CountSnapshots(db.WithContext(ctx), jobId)
	if err != nil {
		return summary, err
	}

	status := models.ImportStatusCompleted
	if summary.TotalRows > 0 && summary.ErrorCount == summary.TotalRows {
		status = models.ImportStatusFailed
	}
	if err := models.FinalizeImportJob(ctx, jobId, status,
		summary.TotalRows, summary.InsertedCount, summary.UpdatedCount,
		summary.SkippedCount, summary.ErrorCount, snapshotCount > 0); err != nil {
		return summary, err
	}

	if err := models.CreateAuditLog(ctx, models.AuditActionImportRun, jobId, "import_job", summary); err != nil && logger != nil {
		config.LogError(logger, "importWorkflow.go", "RunImport", "CreateAuditLog", summary, err)
	}

	return summary, nil
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func cell(colIndex map[string]int, rec []string, name string) string {
	i, ok := colIndex[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func applyRow(ctx context.Context, tx *gorm.DB, job *models.ImportJob, organizationId string, rowIndex int, colIndex map[string]int, rec []string) (models.SnapshotOperation, bool, error) {
	switch job.EntityType {
	case models.ImportEntityTypeMember:
		return applyMemberRow(ctx, tx, job, organizationId, rowIndex, colIndex, rec)
	case models.ImportEntityTypeAdvisor:
		return applyAdvisorRow(ctx, tx, job, organizationId, rowIndex, colIndex, rec)
	case models.ImportEntityTypeBillGroup:
		return applyBillGroupRow(ctx, tx, job, organizationId, rowIndex, colIndex, rec)
	default:
		return "", false, fmt.Errorf("unknown import entity type %q", job.EntityType)
	}
}

func applyMemberRow(ctx context.Context, tx *gorm.DB, job *models.ImportJob, organizationId string, rowIndex int, colIndex map[string]int, rec []string) (models.SnapshotOperation, bool, error) {
	row := memberRow{
		MemberNo:     cell(colIndex, rec, "member_no"),
		FirstName:    cell(colIndex, rec, "first_name"),
		LastName:     cell(colIndex, rec, "last_name"),
		Email:        cell(colIndex, rec, "email"),
		Phone:        cell(colIndex, rec, "phone"),
		MonthlyShare: cell(colIndex, rec, "monthly_share"),
		Status:       cell(colIndex, rec, "status"),
	}
	if err := rowValidate.Struct(&row); err != nil {
		return "", false, err
	}

	phone, err := utils.NormalizePhoneNumber(row.Phone, utils.CountryCode)
	if err != nil {
		return "", false, fmt.Errorf("phone: %w", err)
	}

	share := decimal.Zero
	if row.MonthlyShare != "" {
		share, err = decimal.NewFromString(row.MonthlyShare)
		if err != nil {
			return "", false, fmt.Errorf("monthly_share: %w", err)
		}
	}
	status := models.MemberStatusActive
	if row.Status != "" {
		status = models.MemberStatus(row.Status)
	}

	var existing models.Member
	err = tx.Where("member_no = ?", row.MemberNo).First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		member := models.Member{
			OrganizationId: organizationId,
			MemberNo:       row.MemberNo,
			FirstName:      row.FirstName,
			LastName:       row.LastName,
			Email:          row.Email,
			Phone:          phone,
			MonthlyShare:   share,
			Status:         status,
		}
		if err := tx.Create(&member).Error; err != nil {
			return "", false, err
		}
		if err := models.RecordInsertSnapshot(tx, organizationId, job.ID, rowIndex, job.EntityType, member.ID); err != nil {
			return "", false, err
		}
		return models.SnapshotOperationInsert, false, nil
	}

	changes := map[string]interface{}{}
	previous := map[string]interface{}{}
	diff(changes, previous, "first_name", existing.FirstName, row.FirstName)
	diff(changes, previous, "last_name", existing.LastName, row.LastName)
	diff(changes, previous, "email", existing.Email, row.Email)
	diff(changes, previous, "phone", existing.Phone, phone)
	diff(changes, previous, "status", string(existing.Status), string(status))
	if !existing.MonthlyShare.Equal(share) {
		changes["monthly_share"] = share.String()
		previous["monthly_share"] = existing.MonthlyShare.String()
	}
	if len(changes) == 0 {
		return models.SnapshotOperationUpdate, true, nil
	}

	// Snapshot before mutation: an applied change without its undo record
	// would be silently irreversible.
	if err := models.RecordUpdateSnapshot(tx, organizationId, job.ID, rowIndex, job.EntityType, existing.ID, previous); err != nil {
		return "", false, err
	}
	if err := tx.Model(&models.Member{}).Where("id = ?", existing.ID).Updates(changes).Error; err != nil {
		return "", false, err
	}
	return models.SnapshotOperationUpdate, false, nil
}

func applyAdvisorRow(ctx context.Context, tx *gorm.DB, job *models.ImportJob, organizationId string, rowIndex int, colIndex map[string]int, rec []string) (models.SnapshotOperation, bool, error) {
	row := advisorRow{
		AdvisorNo:      cell(colIndex, rec, "advisor_no"),
		Name:           cell(colIndex, rec, "name"),
		Email:          cell(colIndex, rec, "email"),
		Phone:          cell(colIndex, rec, "phone"),
		CommissionRate: cell(colIndex, rec, "commission_rate"),
	}
	if err := rowValidate.Struct(&row); err != nil {
		return "", false, err
	}

	phone, err := utils.NormalizePhoneNumber(row.Phone, utils.CountryCode)
	if err != nil {
		return "", false, fmt.Errorf("phone: %w", err)
	}
	rate := decimal.Zero
	if row.CommissionRate != "" {
		rate, err = decimal.NewFromString(row.CommissionRate)
		if err != nil {
			return "", false, fmt.Errorf("commission_rate: %w", err)
		}
	}

	var existing models.Advisor
	err = tx.Where("advisor_no = ?", row.AdvisorNo).First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		advisor := models.Advisor{
			OrganizationId: organizationId,
			AdvisorNo:      row.AdvisorNo,
			Name:           row.Name,
			Email:          row.Email,
			Phone:          phone,
			CommissionRate: rate,
			IsActive:       utils.NewTrue(),
		}
		if err := tx.Create(&advisor).Error; err != nil {
			return "", false, err
		}
		if err := models.RecordInsertSnapshot(tx, organizationId, job.ID, rowIndex, job.EntityType, advisor.ID); err != nil {
			return "", false, err
		}
		return models.SnapshotOperationInsert, false, nil
	}

	changes := map[string]interface{}{}
	previous := map[string]interface{}{}
	diff(changes, previous, "name", existing.Name, row.Name)
	diff(changes, previous, "email", existing.Email, row.Email)
	diff(changes, previous, "phone", existing.Phone, phone)
	if !existing.CommissionRate.Equal(rate) {
		changes["commission_rate"] = rate.String()
		previous["commission_rate"] = existing.CommissionRate.String()
	}
	if len(changes) == 0 {
		return models.SnapshotOperationUpdate, true, nil
	}

	if err := models.RecordUpdateSnapshot(tx, organizationId, job.ID, rowIndex, job.EntityType, existing.ID, previous); err != nil {
		return "", false, err
	}
	if err := tx.Model(&models.Advisor{}).Where("id = ?", existing.ID).Updates(changes).Error; err != nil {
		return "", false, err
	}
	return models.SnapshotOperationUpdate, false, nil
}

func applyBillGroupRow(ctx context.Context, tx *gorm.DB, job *models.ImportJob, organizationId string, rowIndex int, colIndex map[string]int, rec []string) (models.SnapshotOperation, bool, error) {
	row := billGroupRow{
		Code:          cell(colIndex, rec, "code"),
		Name:          cell(colIndex, rec, "name"),
		PremiumAmount: cell(colIndex, rec, "premium_amount"),
		DueDay:        cell(colIndex, rec, "due_day"),
	}
	if err := rowValidate.Struct(&row); err != nil {
		return "", false, err
	}

	premium := decimal.Zero
	var err error
	if row.PremiumAmount != "" {
		premium, err = decimal.NewFromString(row.PremiumAmount)
		if err != nil {
			return "", false, fmt.Errorf("premium_amount: %w", err)
		}
	}
	dueDay := 1
	if row.DueDay != "" {
		if _, err := fmt.Sscanf(row.DueDay, "%d", &dueDay); err != nil || dueDay < 1 || dueDay > 28 {
			return "", false, fmt.Errorf("due_day must be 1-28, got %q", row.DueDay)
		}
	}

	var existing models.BillGroup
	err = tx.Where("code = ?", row.Code).First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		group := models.BillGroup{
			OrganizationId: organizationId,
			Code:           row.Code,
			Name:           row.Name,
			PremiumAmount:  premium,
			DueDay:         dueDay,
			IsActive:       utils.NewTrue(),
		}
		if err := tx.Create(&group).Error; err != nil {
			return "", false, err
		}
		if err := models.RecordInsertSnapshot(tx, organizationId, job.ID, rowIndex, job.EntityType, group.ID); err != nil {
			return "", false, err
		}
		return models.SnapshotOperationInsert, false, nil
	}

	changes := map[string]interface{}{}
	previous := map[string]interface{}{}
	diff(changes, previous, "name", existing.Name, row.Name)
	if !existing.PremiumAmount.Equal(premium) {
		changes["premium_amount"] = premium.String()
		previous["premium_amount"] = existing.PremiumAmount.String()
	}
	if existing.DueDay != dueDay {
		changes["due_day"] = dueDay
		previous["due_day"] = existing.DueDay
	}
	if len(changes) == 0 {
		return models.SnapshotOperationUpdate, true, nil
	}

	if err := models.RecordUpdateSnapshot(tx, organizationId, job.ID, rowIndex, job.EntityType, existing.ID, previous); err != nil {
		return "", false, err
	}
	if err := tx.Model(&models.BillGroup{}).Where("id = ?", existing.ID).Updates(changes).Error; err != nil {
		return "", false, err
	}
	return models.SnapshotOperationUpdate, false, nil
}

func diff(changes, previous map[string]interface{}, column string, oldVal, newVal string) {
	if oldVal == newVal {
		return
	}
	changes[column] = newVal
	previous[column] = oldVal
}

func recordRowError(ctx context.Context, db *gorm.DB, organizationId string, jobId int, rowIndex int, rowErr error) {
	entry := models.ImportRowError{
		OrganizationId: organizationId,
		ImportJobId:    jobId,
		RowIndex:       rowIndex,
		Message:        rowErr.Error(),
	}
	_ = db.WithContext(ctx).Create(&entry).Error
}
