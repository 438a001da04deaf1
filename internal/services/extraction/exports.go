package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/aggregate"
	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
	"github.com/joseph-ayodele/allergy-extractor/internal/export"
	"github.com/joseph-ayodele/allergy-extractor/internal/pipeline"
)

// Draft is the editable review view of a completed job.
type Draft struct {
	JobID        uuid.UUID              `json:"job_id"`
	FileName     string                 `json:"file_name"`
	Consolidated aggregate.Consolidated `json:"consolidated"`
	Rows         []entity.ReviewRow     `json:"rows"`
}

// ExportCSV returns the file name and CSV body for a completed job.
func (s *Service) ExportCSV(ctx context.Context, jobID uuid.UUID) (string, []byte, error) {
	start := time.Now()
	job, rows, err := s.completedExtractions(ctx, jobID)
	if err != nil {
		return "", nil, err
	}
	body, err := export.ToCSV(rows)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	s.logger.Info("export.csv.ok", "job_id", jobID, "rows", len(rows), "elapsed_ms", time.Since(start).Milliseconds())
	return exportName(job, ".csv"), body, nil
}

// ExportXLSX returns the file name and workbook for a completed job.
func (s *Service) ExportXLSX(ctx context.Context, jobID uuid.UUID) (string, []byte, error) {
	job, rows, err := s.completedExtractions(ctx, jobID)
	if err != nil {
		return "", nil, err
	}
	summary, err := s.consolidate(ctx, jobID)
	if err != nil {
		return "", nil, err
	}
	body, err := s.xlsx.ToXLSX(rows, summary)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	return exportName(job, ".xlsx"), body, nil
}

// GetReviewDraft consolidates the job's pages and pre-fills review rows.
func (s *Service) GetReviewDraft(ctx context.Context, jobID uuid.UUID) (*Draft, error) {
	job, err := s.completedJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	c, err := s.consolidate(ctx, jobID)
	if err != nil {
		return nil, err
	}
	rows := export.ToReviewRows(c)
	if rows == nil {
		rows = []entity.ReviewRow{}
	}
	return &Draft{JobID: job.ID, FileName: job.FileName, Consolidated: c, Rows: rows}, nil
}

func (s *Service) completedJob(ctx context.Context, jobID uuid.UUID) (*entity.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != constants.JobStatusCompleted {
		return job, common.NewAppError("JOB_NOT_COMPLETED",
			fmt.Sprintf("job is %s; retry when processing has finished", job.Status), common.ErrJobNotCompleted)
	}
	return job, nil
}

func (s *Service) completedExtractions(ctx context.Context, jobID uuid.UUID) (*entity.Job, []*entity.Extraction, error) {
	job, err := s.completedJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.extractions.ListByJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, common.NewAppError("NO_EXTRACTIONS_FOUND",
			"no allergy information could be extracted from the PDF", common.ErrNoExtractionsFound)
	}
	return job, rows, nil
}

// consolidate rebuilds the document view from the page results stored on queue items.
func (s *Service) consolidate(ctx context.Context, jobID uuid.UUID) (aggregate.Consolidated, error) {
	items, err := s.pages.ListByJob(ctx, jobID)
	if err != nil {
		return aggregate.Consolidated{}, err
	}
	results := make([]aggregate.PageResult, 0, len(items))
	for _, it := range items {
		switch it.Status {
		case constants.PageStatusCompleted:
			var res aggregate.PageResult
			if err := json.Unmarshal(it.JSONData, &res); err != nil {
				s.logger.Warn("skip unreadable page result", "job_id", jobID, "page", it.PageNumber, "error", err)
				continue
			}
			results = append(results, res)
		case constants.PageStatusError:
			msg := "page failed"
			if it.ErrorMessage != nil {
				msg = *it.ErrorMessage
			}
			results = append(results, pipeline.PageError(it.PageNumber, errors.New(msg)))
		}
	}
	return aggregate.Consolidate(results), nil
}

// exportName derives "<pdf base>_allergy_data<ext>" from the uploaded file name.
func exportName(job *entity.Job, ext string) string {
	base := strings.TrimSuffix(job.FileName, filepath.Ext(job.FileName))
	if base == "" {
		base = "allergy_data_" + job.ID.String()
		return base + ext
	}
	return base + "_allergy_data" + ext
}
