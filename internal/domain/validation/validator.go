package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validator OCPP消息验证器
type Validator struct {
	validate *validator.Validate
}

// ValidationError 验证错误
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// Error 实现error接口
func (e ValidationError) Error() string {
	return e.Message
}

// ValidationErrors 验证错误集合
type ValidationErrors []ValidationError

// Error 实现error接口
func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Message)
	}
	return strings.Join(messages, "; ")
}

var stationIDPattern = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)

// NewValidator 创建新的验证器
func NewValidator() *Validator {
	validate := validator.New()
	registerCustomValidations(validate)
	return &Validator{
		validate: validate,
	}
}

// ValidateStruct 验证结构体
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors ValidationErrors

	if validatorErrors, ok := err.(validator.ValidationErrors); ok {
		for _, validatorError := range validatorErrors {
			validationErrors = append(validationErrors, ValidationError{
				Field:   validatorError.Field(),
				Tag:     validatorError.Tag(),
				Value:   fmt.Sprintf("%v", validatorError.Value()),
				Message: getErrorMessage(validatorError),
			})
		}
	}

	return validationErrors
}

// supportedActions 站点可上行的动作集合
var supportedActions = map[string]bool{
	"BootNotification":           true,
	"Heartbeat":                  true,
	"StatusNotification":         true,
	"FirmwareStatusNotification": true,
	"Authorize":                  true,
	"StartTransaction":           true,
	"StopTransaction":            true,
	"MeterValues":                true,
}

// IsSupportedAction 检查动作是否在支持的上行集合内
func IsSupportedAction(action string) bool {
	return supportedActions[action]
}

// ValidateStationID 验证站点ID
func (v *Validator) ValidateStationID(stationID string) error {
	if stationID == "" {
		return ValidationError{
			Field:   "stationId",
			Tag:     "required",
			Value:   "",
			Message: "Station ID is required",
		}
	}

	if len(stationID) > 48 {
		return ValidationError{
			Field:   "stationId",
			Tag:     "max",
			Value:   stationID,
			Message: "Station ID must not exceed 48 characters",
		}
	}

	if !stationIDPattern.MatchString(stationID) {
		return ValidationError{
			Field:   "stationId",
			Tag:     "format",
			Value:   stationID,
			Message: "Station ID can only contain alphanumeric characters, hyphens and underscores",
		}
	}

	return nil
}

// ValidateMessageSize 验证消息大小
func (v *Validator) ValidateMessageSize(data []byte, maxSize int) error {
	if len(data) > maxSize {
		return ValidationError{
			Field:   "message",
			Tag:     "max_size",
			Value:   fmt.Sprintf("%d bytes", len(data)),
			Message: fmt.Sprintf("Message size %d bytes exceeds maximum allowed size %d bytes", len(data), maxSize),
		}
	}
	return nil
}

// registerCustomValidations 注册自定义验证规则
func registerCustomValidations(validate *validator.Validate) {
	validate.RegisterValidation("ocpp_datetime", validateOCPPDateTime)
	validate.RegisterValidation("ocpp_id_token", validateOCPPIdToken)
	validate.RegisterValidation("ocpp_meter_value", validateOCPPMeterValue)
}

// validateOCPPDateTime 验证OCPP日期时间格式
func validateOCPPDateTime(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // required标签处理必填验证
	}

	_, err := time.Parse(time.RFC3339, value)
	return err == nil
}

// validateOCPPIdToken 验证OCPP ID令牌
func validateOCPPIdToken(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}

	if len(value) > 20 {
		return false
	}

	matched, _ := regexp.MatchString(`^[a-zA-Z0-9\-]+$`, value)
	return matched
}

// validateOCPPMeterValue 验证电表值
func validateOCPPMeterValue(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return false
	}

	_, err := strconv.ParseFloat(value, 64)
	return err == nil
}

// getErrorMessage 获取友好的错误消息
func getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Field '%s' is required", fe.Field())
	case "min":
		return fmt.Sprintf("Field '%s' must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("Field '%s' must not exceed %s", fe.Field(), fe.Param())
	case "ocpp_datetime":
		return fmt.Sprintf("Field '%s' must be a valid RFC3339 datetime", fe.Field())
	case "ocpp_id_token":
		return fmt.Sprintf("Field '%s' must be a valid ID token (max 20 characters)", fe.Field())
	case "ocpp_meter_value":
		return fmt.Sprintf("Field '%s' must be a valid numeric meter value", fe.Field())
	default:
		return fmt.Sprintf("Field '%s' failed validation for tag '%s'", fe.Field(), fe.Tag())
	}
}
