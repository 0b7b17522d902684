package validation

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"chatrelay/internal/constants"
	"chatrelay/internal/errors"
)

// ValidateIdentity validates a user identity string. Identities are
// opaque keys; only shape is checked here, existence is not.
func ValidateIdentity(identity, fieldName string) error {
	if identity == "" {
		return errors.New(errors.ErrCodeValidationFailed,
			fmt.Sprintf("%s cannot be empty", fieldName))
	}

	if len(identity) > constants.DefaultMaxIdentityLength {
		return errors.New(errors.ErrCodeValidationFailed,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, constants.DefaultMaxIdentityLength))
	}

	for _, char := range identity {
		if unicode.IsControl(char) || unicode.IsSpace(char) {
			return errors.New(errors.ErrCodeValidationFailed,
				fmt.Sprintf("%s contains invalid characters", fieldName))
		}
	}

	return nil
}

// ValidateContent validates a message payload against the configured
// length bound. Oversized content is rejected, never truncated.
func ValidateContent(content string, maxLength int) error {
	if content == "" {
		return errors.New(errors.ErrCodeValidationFailed, "content cannot be empty")
	}

	if !utf8.ValidString(content) {
		return errors.New(errors.ErrCodeValidationFailed, "content is not valid UTF-8")
	}

	if maxLength <= 0 {
		maxLength = constants.DefaultMaxContentLength
	}
	if utf8.RuneCountInString(content) > maxLength {
		return errors.New(errors.ErrCodeValidationFailed,
			fmt.Sprintf("content too long (max %d characters)", maxLength))
	}

	return nil
}

// ValidateUsername validates a registration username.
func ValidateUsername(username string) error {
	if err := ValidateIdentity(username, "username"); err != nil {
		return err
	}

	if len(username) > constants.MaxUsernameLength {
		return errors.New(errors.ErrCodeValidationFailed,
			fmt.Sprintf("username too long (max %d characters)", constants.MaxUsernameLength))
	}

	for _, char := range username {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' && char != '.' {
			return errors.New(errors.ErrCodeValidationFailed,
				"username must contain only letters, numbers, underscores, dashes, and dots")
		}
	}

	return nil
}

// ValidatePassword validates a registration password.
func ValidatePassword(password string) error {
	if len(password) < constants.MinPasswordLength {
		return errors.New(errors.ErrCodeValidationFailed,
			fmt.Sprintf("password too short (min %d characters)", constants.MinPasswordLength))
	}

	if len(password) > 128 {
		return errors.New(errors.ErrCodeValidationFailed, "password too long (max 128 characters)")
	}

	return nil
}
