package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/apperr"
	"github.com/ATikh415/gestion-operations-waouh-sub000/pkg/response"
)

// respondError translates a service error into the standard envelope,
// carrying structured details when the error has them.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if details := apperr.DetailsOf(err); len(details) > 0 {
		c.JSON(status, response.ErrorWithDetails(status, err.Error(), details))
		return
	}
	c.JSON(status, response.Error(status, err.Error()))
}

// listEnvelope is the payload shape for paginated collections
type listEnvelope struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}
