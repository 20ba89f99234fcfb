package errors

import (
	"fmt"
)

// ParseError represents a failure to parse a configuration file or a
// remote payload, with optional line metadata for file-based sources.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures configuration or record validation issues.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PluginError indicates a failure inside a data hub plugin, attributed
// to the hub it came from.
type PluginError struct {
	Hub     string
	Message string
	Err     error
}

// NewPluginError constructs a PluginError for the given data hub.
func NewPluginError(hub string, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &PluginError{Hub: hub, Message: message, Err: err}
}

// NewPluginErrorf constructs a PluginError with a formatted message.
func NewPluginErrorf(hub string, format string, args ...any) error {
	return &PluginError{Hub: hub, Message: fmt.Sprintf(format, args...)}
}

func (e *PluginError) Error() string {
	if e == nil {
		return ""
	}
	if e.Hub != "" {
		return fmt.Sprintf("plugin error [%s]: %s", e.Hub, e.Message)
	}
	return fmt.Sprintf("plugin error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *PluginError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DownloadError represents a failure while downloading a dataset archive.
type DownloadError struct {
	SiteID string
	Hub    string
	Err    error
}

// NewDownloadError constructs a DownloadError.
func NewDownloadError(siteID, hub string, err error) error {
	return &DownloadError{SiteID: siteID, Hub: hub, Err: err}
}

func (e *DownloadError) Error() string {
	if e == nil {
		return ""
	}
	if e.SiteID != "" {
		return fmt.Sprintf("download error for site %s [%s]: %v", e.SiteID, e.Hub, e.Err)
	}
	return fmt.Sprintf("download error: %v", e.Err)
}

// Unwrap exposes the root error.
func (e *DownloadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
