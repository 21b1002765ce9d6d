package jobs

import (
	"fmt"

	"github.com/asif420570/Image-compressor/internal/apperrors"
)

func errJobNotFound(id int64) error {
	return apperrors.NotFound(apperrors.CodeJobNotFound, fmt.Sprintf("job %d not found", id))
}

func errJobRunning(id int64) error {
	return apperrors.Conflict(apperrors.CodeJobRunning, fmt.Sprintf("job %d is still running", id))
}
