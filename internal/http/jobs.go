package httpapi

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"vidgen/internal/domain"
)

type briefBody struct {
	Prompt          string `json:"prompt" minLength:"1" doc:"What the video should show"`
	Platform        string `json:"platform" minLength:"1" example:"instagram_reels"`
	DurationSeconds int    `json:"duration_seconds" minimum:"1" example:"15"`
	Style           string `json:"style,omitempty" example:"cinematic"`
	Priority        string `json:"priority,omitempty" enum:"low,normal,high,urgent" default:"normal"`
	MaxCost         string `json:"max_cost,omitempty" example:"1.50" doc:"Per-job budget override in USD"`
	AspectRatio     string `json:"aspect_ratio,omitempty" example:"9:16"`
	Resolution      string `json:"resolution,omitempty" example:"1080p"`
	SourceImageURL  string `json:"source_image_url,omitempty" format:"uri" doc:"Animate this image instead of generating from text"`
}

func (b briefBody) brief() (domain.Brief, error) {
	priority, err := domain.ParsePriority(b.Priority)
	if err != nil {
		return domain.Brief{}, err
	}
	var maxCost domain.Money
	if b.MaxCost != "" {
		if maxCost, err = domain.ParseMoney(b.MaxCost); err != nil {
			return domain.Brief{}, newAPIError(http.StatusBadRequest, "invalid_brief", "max_cost: "+err.Error(), nil)
		}
	}
	return domain.Brief{
		Prompt:          b.Prompt,
		Platform:        b.Platform,
		DurationSeconds: b.DurationSeconds,
		Style:           b.Style,
		Priority:        priority,
		MaxCost:         maxCost,
		AspectRatio:     b.AspectRatio,
		Resolution:      b.Resolution,
		SourceImageURL:  b.SourceImageURL,
	}, nil
}

type submitResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

type jobOutput struct {
	Body domain.QueuedJob `json:"body"`
}

type jobPath struct {
	JobID string `path:"job_id"`
}

func registerJobs(api huma.API, jobs Jobs) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Submit a generation request",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body briefBody
	}) (*struct {
		Body submitResponse `json:"body"`
	}, error) {
		brief, err := input.Body.brief()
		if err != nil {
			if se, ok := err.(huma.StatusError); ok {
				return nil, se
			}
			return nil, handleError(err)
		}
		job, err := jobs.Submit(brief)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body submitResponse `json:"body"`
		}{Body: submitResponse{JobID: job.ID, Status: job.Status}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List retained jobs",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" doc:"Only jobs in this status"`
	}) (*struct {
		Body []domain.QueuedJob `json:"body"`
	}, error) {
		all := jobs.List()
		out := make([]domain.QueuedJob, 0, len(all))
		for _, j := range all {
			if input.Status == "" || string(j.Status) == input.Status {
				out = append(out, j)
			}
		}
		return &struct {
			Body []domain.QueuedJob `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Job status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *jobPath) (*jobOutput, error) {
		job, err := jobs.Status(input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobOutput{Body: job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/cancel",
		Summary:     "Cancel a job",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *jobPath) (*jobOutput, error) {
		job, err := jobs.Cancel(input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobOutput{Body: job}, nil
	})
}
