// Package errors provides centralized error handling with optional telemetry integration
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

// CategorizedError is an interface for errors that can specify their own category
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryFileParsing   ErrorCategory = "file-parsing"
	CategoryPersistence   ErrorCategory = "persistence"
	CategoryDiskUsage     ErrorCategory = "disk-usage"
	CategoryNetwork       ErrorCategory = "network"
	CategoryHTTP          ErrorCategory = "http-request"
	CategoryDetector      ErrorCategory = "detector"
	CategoryLocation      ErrorCategory = "location"
	CategoryDebounce      ErrorCategory = "debounce"
	CategoryRelay         ErrorCategory = "relay"
	CategoryConnectivity  ErrorCategory = "connectivity"
	CategoryMQTTConnect   ErrorCategory = "mqtt-connection"
	CategoryMQTTPublish   ErrorCategory = "mqtt-publish"
	CategoryNotification  ErrorCategory = "notification"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryCancellation  ErrorCategory = "cancellation"
	CategorySystem        ErrorCategory = "system-resource"
	CategoryGeneric       ErrorCategory = "generic"
)

// Priority constants for error prioritization
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// modulePath is skipped during call stack walks so the builder never
// attributes an error to this package.
const modulePath = "github.com/tphakala/wildwatch-go/internal/errors"

// EnhancedError wraps an error with additional context and metadata
type EnhancedError struct {
	Err       error          // Original error
	Category  ErrorCategory  // Error category for better grouping
	Priority  string         // Explicit priority override (optional)
	Context   map[string]any // Additional context data, read-only after Build
	Timestamp time.Time      // When the error occurred

	component string
	reported  atomic.Bool
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, anything else through the
// wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return Is(ee.Err, target)
}

// GetComponent returns the component name
func (ee *EnhancedError) GetComponent() string {
	if ee.component == "" {
		return ComponentUnknown
	}
	return ee.component
}

// GetCategory returns the error category
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetPriority returns the explicit priority if set, empty string otherwise
func (ee *EnhancedError) GetPriority() string {
	return ee.Priority
}

// GetContext returns a copy of the error context
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// MarkReported marks this error as reported to telemetry
func (ee *EnhancedError) MarkReported() { ee.reported.Store(true) }

// IsReported returns whether this error has been reported
func (ee *EnhancedError) IsReported() bool { return ee.reported.Load() }

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	priority  string
	context   map[string]any
}

// New creates a new error with enhanced context
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new formatted error with enhanced context
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name (auto-detected if not set)
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category for better grouping
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Priority sets the priority. Unknown values become PriorityMedium.
func (eb *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case "", PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		eb.priority = priority
	default:
		eb.priority = PriorityMedium
	}
	return eb
}

// Context adds context data to the error
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// FileContext describes a file without leaking its path: only whether the
// path is absolute, its extension and a size bucket are recorded.
func (eb *ErrorBuilder) FileContext(filePath string, fileSize int64) *ErrorBuilder {
	if filePath != "" {
		eb.Context("file_type", categorizeFilePath(filePath))
		eb.Context("file_extension", getFileExtension(filePath))
	}
	if fileSize > 0 {
		eb.Context("file_size_category", categorizeFileSize(fileSize))
	}
	return eb
}

// NetworkContext records the endpoint kind of rawURL and the timeout in use.
func (eb *ErrorBuilder) NetworkContext(rawURL string, timeout time.Duration) *ErrorBuilder {
	if rawURL != "" {
		eb.Context("url_category", categorizeURL(rawURL))
	}
	if timeout > 0 {
		eb.Context("timeout_seconds", timeout.Seconds())
	}
	return eb
}

// Build creates the EnhancedError. Component and category detection only
// run while a reporter or hook consumes errors.
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Priority:  eb.priority,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: eb.component,
	}

	if !hasActiveReporting.Load() {
		if ee.Category == "" {
			ee.Category = CategoryGeneric
		}
		return ee
	}

	if ee.component == "" {
		ee.component = detectComponent()
	}
	if ee.Category == "" {
		ee.Category = detectCategory(eb.err, ee.component)
	}

	reportToTelemetry(ee)
	runErrorHooks(ee)
	return ee
}

// components maps package paths to component names, longest path first so
// nested packages win over their parents.
var components = []struct{ pkg, name string }{
	{"internal/relay/targets", "relay.targets"},
	{"internal/observability", "observability"},
	{"internal/notification", "notification"},
	{"internal/connectivity", "connectivity"},
	{"internal/eventstore", "eventstore"},
	{"internal/httpserver", "httpserver"},
	{"internal/detection", "detection"},
	{"internal/telemetry", "telemetry"},
	{"internal/location", "location"},
	{"internal/debounce", "debounce"},
	{"internal/monitor", "monitor"},
	{"internal/relay", "relay"},
	{"internal/agent", "agent"},
	{"internal/conf", "configuration"},
}

// detectComponent returns the component of the first caller outside this
// package.
func detectComponent() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !strings.Contains(frame.Function, modulePath) {
			if c := lookupComponent(frame.Function); c != ComponentUnknown {
				return c
			}
		}
		if !more {
			return ComponentUnknown
		}
	}
}

// lookupComponent maps a fully qualified function name to a component,
// falling back to the package name.
func lookupComponent(funcName string) string {
	for _, c := range components {
		if strings.Contains(funcName, c.pkg) {
			return c.name
		}
	}

	pkg := funcName[strings.LastIndex(funcName, "/")+1:]
	if dot := strings.Index(pkg, "."); dot > 0 {
		return pkg[:dot]
	}
	return ComponentUnknown
}

// messageCategories are matched in order against the lowercased message.
var messageCategories = []struct {
	needles  []string
	category ErrorCategory
}{
	{[]string{"timeout", "deadline exceeded"}, CategoryTimeout},
	{[]string{"connection", "dial"}, CategoryNetwork},
	{[]string{"file", "open"}, CategoryFileIO},
	{[]string{"invalid", "malformed"}, CategoryValidation},
}

var componentCategories = map[string]ErrorCategory{
	"eventstore":    CategoryPersistence,
	"relay":         CategoryRelay,
	"relay.targets": CategoryRelay,
	"connectivity":  CategoryConnectivity,
	"location":      CategoryLocation,
	"detection":     CategoryDetector,
	"debounce":      CategoryDebounce,
	"notification":  CategoryNotification,
}

// detectCategory infers a category from wrapped errors, the message, then
// the component.
func detectCategory(err error, component string) ErrorCategory {
	if err == nil {
		return CategoryGeneric
	}

	var catErr CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr.ErrorCategory()
	}
	var enhErr *EnhancedError
	if stderrors.As(err, &enhErr) && enhErr.Category != "" {
		return enhErr.Category
	}

	msg := strings.ToLower(err.Error())
	for _, mc := range messageCategories {
		for _, needle := range mc.needles {
			if strings.Contains(msg, needle) {
				return mc.category
			}
		}
	}

	if c, ok := componentCategories[component]; ok {
		return c
	}
	return CategoryGeneric
}

func categorizeFilePath(path string) string {
	if filepath.IsAbs(path) || strings.Contains(path, `\`) {
		return "absolute-path"
	}
	return "relative-path"
}

func getFileExtension(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if len(ext) < 2 || ext == base {
		return "none"
	}
	return strings.ToLower(ext[1:])
}

// size buckets in bytes, upper bound exclusive
var fileSizeBuckets = []struct {
	below int64
	name  string
}{
	{1 << 10, "tiny"},
	{1 << 20, "small"},
	{10 << 20, "medium"},
	{100 << 20, "large"},
}

func categorizeFileSize(size int64) string {
	for _, b := range fileSizeBuckets {
		if size < b.below {
			return b.name
		}
	}
	return "very-large"
}

var schemeCategories = map[string]string{
	"http":  "http-endpoint",
	"https": "https-endpoint",
	"tcp":   "mqtt-broker",
	"ssl":   "mqtt-broker",
	"tls":   "mqtt-broker",
	"mqtt":  "mqtt-broker",
	"mqtts": "mqtt-broker",
	"sftp":  "file-transfer",
	"ftp":   "file-transfer",
	"s3":    "object-store",
}

// categorizeURL reduces a URL to the kind of endpoint it names.
func categorizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "other-protocol"
	}
	if c, ok := schemeCategories[strings.ToLower(u.Scheme)]; ok {
		return c
	}
	return "other-protocol"
}

// The passthroughs below let callers import this package in place of the
// standard errors package.

// NewStd creates a plain error.
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is is errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap is errors.Unwrap.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join is errors.Join.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory checks if an error is an EnhancedError with the specified category.
func IsCategory(err error, category ErrorCategory) bool {
	var enhancedErr *EnhancedError
	return As(err, &enhancedErr) && enhancedErr.Category == category
}

// IsNotFound checks if an error is an EnhancedError with CategoryNotFound.
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

// IsCritical reports whether err carries the critical priority. The agent
// loop stops on critical errors instead of logging and continuing.
func IsCritical(err error) bool {
	var enhancedErr *EnhancedError
	return As(err, &enhancedErr) && enhancedErr.Priority == PriorityCritical
}
