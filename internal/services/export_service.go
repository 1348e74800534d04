package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campuskit/attempt-service/internal/models"
	"github.com/campuskit/attempt-service/internal/repositories"
	"github.com/xuri/excelize/v2"
)

type exportService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewExportService(repo repositories.Repository, logger *slog.Logger) ExportService {
	return &exportService{repo: repo, logger: logger}
}

// ExportAttemptResults renders every attempt of an assessment into an xlsx
// workbook for staff download.
func (s *exportService) ExportAttemptResults(ctx context.Context, assessmentID uint, userID string) ([]byte, error) {
	if err := s.requireStaff(ctx, userID, assessmentID); err != nil {
		return nil, err
	}

	assessment, err := s.repo.Assessment().GetByID(ctx, assessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	attempts, err := s.repo.Attempt().GetByAssessment(ctx, assessmentID, repositories.AttemptFilters{
		SortBy:    "started_at",
		SortOrder: "asc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts: %w", err)
	}

	f := excelize.NewFile()
	sheetName := "Results"

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{
		"Student ID", "Attempt", "Status", "End Reason", "Started At", "Submitted At",
		"Score", "Max Score", "Percentage", "Passed", "Fully Graded", "Time Spent (minutes)",
	}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
	}

	for rowIndex, attempt := range attempts {
		row := attemptToRow(attempt)
		for colIndex, value := range row {
			cell := fmt.Sprintf("%c%d", 'A'+colIndex, rowIndex+2)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}

	s.logger.Info("Exported attempt results",
		"assessment_id", assessmentID,
		"assessment_title", assessment.Title,
		"attempt_count", len(attempts))

	return buf.Bytes(), nil
}

func attemptToRow(attempt *models.AssessmentAttempt) []interface{} {
	submittedAt := ""
	if attempt.SubmittedAt != nil {
		submittedAt = attempt.SubmittedAt.Format(time.RFC3339)
	}
	endReason := ""
	if attempt.EndReason != nil {
		endReason = *attempt.EndReason
	}
	return []interface{}{
		attempt.StudentID,
		attempt.AttemptNumber,
		string(attempt.Status),
		endReason,
		attempt.StartedAt.Format(time.RFC3339),
		submittedAt,
		attempt.Score,
		attempt.MaxScore,
		fmt.Sprintf("%.1f%%", attempt.Percentage),
		attempt.Passed,
		attempt.IsGraded,
		fmt.Sprintf("%.1f", float64(attempt.TimeSpent)/60),
	}
}

func (s *exportService) requireStaff(ctx context.Context, userID string, assessmentID uint) error {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user.Role != models.RoleTeacher && user.Role != models.RoleAdmin {
		return NewPermissionError(userID, assessmentID, "assessment", "export_results", "requires teacher or admin role")
	}
	return nil
}
