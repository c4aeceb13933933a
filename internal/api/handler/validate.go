package handler

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/qs3c/entitlement_server/internal/model/dto"
)

var registerOnce sync.Once

// RegisterValidators 注册自定义校验规则，gin 的校验器是进程级的，只注册一次
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("refund_reason", func(fl validator.FieldLevel) bool {
			return dto.ValidRefundReason(fl.Field().String())
		})
	})
}
