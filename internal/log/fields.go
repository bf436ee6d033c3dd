package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldErrorType     = "error_type"
	FieldOperation     = "operation"
	FieldDuration      = "duration_ms"
	FieldStage         = "stage"
	FieldStep          = "step"
	FieldVersion       = "version"
	FieldTargetVersion = "target_version"
	FieldBackup        = "backup"
	FieldPath          = "path"
	FieldURL           = "url"
	FieldAsset         = "asset"
	FieldBytes         = "bytes"
	FieldTotalBytes    = "total_bytes"
	FieldAttempt       = "attempt"
	FieldCount         = "count"
	FieldPlatform      = "platform"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentRelease  = "release"
	ComponentDownload = "download"
	ComponentStaging  = "staging"
	ComponentApply    = "apply"
	ComponentUpdate   = "update"
	ComponentStorage  = "storage"
	ComponentBackup   = "backup"
	ComponentAMQP     = "amqp"
	ComponentProgress = "progress"
)

// Operations defines standard operation names
const (
	OpCheck    = "check"
	OpProbe    = "probe"
	OpDownload = "download"
	OpExtract  = "extract"
	OpCopy     = "copy"
	OpMigrate  = "migrate"
	OpApply    = "apply"
	OpRestart  = "restart"
	OpCleanup  = "cleanup"
	OpScan     = "scan"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeFeed          = "feed_error"
	ErrorTypeFilesystem    = "filesystem_error"
	ErrorTypeTimeout       = "timeout_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithErrorType adds error type field
func (f LogFields) WithErrorType(errorType string) LogFields {
	f[FieldErrorType] = errorType
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithVersions adds current and target version fields
func (f LogFields) WithVersions(current, target string) LogFields {
	f[FieldVersion] = current
	if target != "" {
		f[FieldTargetVersion] = target
	}
	return f
}

// WithBackup adds backup file fields
func (f LogFields) WithBackup(path, version string) LogFields {
	f[FieldBackup] = path
	f[FieldVersion] = version
	return f
}

// WithTransfer adds download progress fields
func (f LogFields) WithTransfer(bytes, total int64) LogFields {
	f[FieldBytes] = bytes
	f[FieldTotalBytes] = total
	return f
}

// WithResult adds outcome fields
func (f LogFields) WithResult(durationMs int64, success bool) LogFields {
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
