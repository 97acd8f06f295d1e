package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/wms-platform/shipment-service/pkg/errors"
	"github.com/wms-platform/shipment-service/pkg/validation"
)

var initOnce sync.Once

// InitValidator applies the shared validation conventions to gin's binding engine
func InitValidator() {
	initOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			validation.Configure(v)
		}
	})
}

// BindJSON binds the request body into obj, reporting binding failures as AppErrors
func BindJSON(c *gin.Context, obj any) *errors.AppError {
	if err := c.ShouldBindJSON(obj); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			return errors.ErrValidationWithFields("validation failed", validation.FieldMessages(fieldErrs, nil))
		}
		return errors.ErrBadRequest("invalid request body: " + err.Error())
	}
	return nil
}

// BindQuery binds query parameters into obj
func BindQuery(c *gin.Context, obj any) *errors.AppError {
	if err := c.ShouldBindQuery(obj); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			return errors.ErrValidationWithFields("validation failed", validation.FieldMessages(fieldErrs, nil))
		}
		return errors.ErrBadRequest("invalid query parameters: " + err.Error())
	}
	return nil
}
