package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/asif420570/Image-compressor/internal/apperrors"
	"github.com/asif420570/Image-compressor/internal/jobs"
)

type resultResponse struct {
	Size       int    `json:"size"`
	URL        string `json:"url"`
	DurationMs int64  `json:"durationMs"`
}

type jobResponse struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Status     jobs.Status     `json:"status"`
	Params     jobs.Parameters `json:"params"`
	SourceSize int             `json:"sourceSize"`
	SourceURL  string          `json:"sourceUrl"`
	Result     *resultResponse `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type listResponse struct {
	Jobs    []jobResponse `json:"jobs"`
	Summary jobs.Summary  `json:"summary"`
	Version uint64        `json:"version"`
}

func newJobResponse(job jobs.Job) jobResponse {
	resp := jobResponse{
		ID:         job.ID,
		Name:       job.Source.Name,
		Status:     job.Status,
		Params:     job.Params,
		SourceSize: len(job.Source.Data),
		SourceURL:  job.Source.Handle.URL(),
		Error:      job.Error,
		UpdatedAt:  job.UpdatedAt,
	}
	if job.HasResult() {
		resp.Result = &resultResponse{
			Size:       len(job.Result.Data),
			URL:        job.Result.Handle.URL(),
			DurationMs: job.Result.Duration.Milliseconds(),
		}
	}
	return resp
}

func newListResponse(c *jobs.Controller) listResponse {
	list := c.Jobs()
	out := listResponse{
		Jobs:    make([]jobResponse, 0, len(list)),
		Summary: jobs.Summarize(list),
		Version: c.Version(),
	}
	for _, job := range list {
		out.Jobs = append(out.Jobs, newJobResponse(job))
	}
	return out
}

// respondWithError はエラーを {code, message} 形式で返します。
func respondWithError(c *gin.Context, err error) {
	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr):
		body := gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		}
		if appErr.Field != "" {
			body["field"] = appErr.Field
		}
		c.JSON(apperrors.StatusCode(err), body)
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    apperrors.CodeInternal,
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func respondDisabled(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, gin.H{
		"code":    apperrors.CodeActionDisabled,
		"message": message,
	})
}
