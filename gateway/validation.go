package gateway

import (
	"regexp"
	"strings"
)

// ValidateConfigFields validates credentials against the given field
// definitions. Used by gateways in their ValidateConfig and by the credential
// store before persisting.
func ValidateConfigFields(gatewayID string, config map[string]string, fields []ConfigField) error {
	for _, field := range fields {
		if !field.Required {
			continue
		}

		value, exists := config[field.Key]
		if !exists {
			return &ConfigError{GatewayID: gatewayID, Field: field.Key, Message: "required field is missing"}
		}

		if strings.TrimSpace(value) == "" {
			return &ConfigError{GatewayID: gatewayID, Field: field.Key, Message: "required field cannot be empty"}
		}

		if err := validateFieldType(gatewayID, field, value); err != nil {
			return err
		}

		if err := validateFieldPattern(gatewayID, field, value); err != nil {
			return err
		}

		if err := validateFieldLength(gatewayID, field, value); err != nil {
			return err
		}
	}

	return nil
}

func validateFieldType(gatewayID string, field ConfigField, value string) error {
	switch field.Type {
	case "boolean":
		if value != "true" && value != "false" {
			return &ConfigError{GatewayID: gatewayID, Field: field.Key, Message: "must be 'true' or 'false'"}
		}
	}
	return nil
}

func validateFieldPattern(gatewayID string, field ConfigField, value string) error {
	if field.Pattern == "" {
		return nil
	}

	if field.Key == "mode" {
		if value != ModeTest && value != ModeLive {
			return &ConfigError{GatewayID: gatewayID, Field: field.Key, Message: "mode must be one of: test, live"}
		}
		return nil
	}

	matched, err := regexp.MatchString(field.Pattern, value)
	if err != nil {
		return &ConfigError{GatewayID: gatewayID, Field: field.Key, Message: "invalid validation pattern: " + err.Error()}
	}

	if !matched {
		return &ConfigError{GatewayID: gatewayID, Field: field.Key, Message: "does not match required pattern"}
	}

	return nil
}

func validateFieldLength(gatewayID string, field ConfigField, value string) error {
	if field.MinLength > 0 && len(value) < field.MinLength {
		return &ConfigError{GatewayID: gatewayID, Field: field.Key, Message: "shorter than minimum length"}
	}

	if field.MaxLength > 0 && len(value) > field.MaxLength {
		return &ConfigError{GatewayID: gatewayID, Field: field.Key, Message: "exceeds maximum length"}
	}

	return nil
}
