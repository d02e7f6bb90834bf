package detector

import (
	"fmt"
	"regexp"

	"PcapSentry/internal/config"
)

const (
	sqlInjectionPattern = `(?i)(` +
		// quote-terminated boolean injection
		`'\s+(OR|AND)\s+[\w\d]+\s*=\s*[\w\d]+` +
		// DDL/DML keywords
		`|\b(ALTER|CREATE|DELETE|DROP|EXEC(UTE)?|INSERT( +INTO)?|MERGE|SELECT|UPDATE|UNION( +ALL)?)\b` +
		// separators and comments
		`|;|--|/\*.*?\*/` +
		// always-true numeric condition
		`|\bOR\b\s*\d+\s*=\s*\d+` +
		`)`

	uploadIndicatorPattern = `(?i)(Content-Type:\s*multipart/form-data|filename\s*=\s*"[^"]+\.\w+")`

	fileUploadPattern = `(?i)(` +
		// dangerous extensions
		`\b(filename|name)=\s*"[^"]*\.(php|jsp|asp|aspx|exe|sh|bat|dll|jar|war)\b` +
		// suspicious content types
		`|Content-Type:\s*(application/x-php|application/x-jsp-application|application/x-msdownload|application/x-asp)` +
		`|multipart/form-data;\s*boundary=` +
		// web-shell fragments
		`|(\b(eval\(|assert\(|system\(|passthru\(|exec\(|shell_exec\(|popen\(|proc_open\()` +
		`|<%@\s*page\s*.*%>|<%\s*.*%>|\$_(GET|POST|REQUEST)\s*\[)` +
		`)`
)

// Rules is the compiled pattern set shared by the signature detectors.
// It is built once and never modified.
type Rules struct {
	SQLInjection    *regexp.Regexp
	FileUpload      *regexp.Regexp
	UploadIndicator *regexp.Regexp
}

// DefaultRules compiles the built-in pattern set.
func DefaultRules() *Rules {
	return &Rules{
		SQLInjection:    regexp.MustCompile(sqlInjectionPattern),
		FileUpload:      regexp.MustCompile(fileUploadPattern),
		UploadIndicator: regexp.MustCompile(uploadIndicatorPattern),
	}
}

// NewRules compiles the built-in patterns extended with the configured extras.
func NewRules(cfg config.RulesConfig) (*Rules, error) {
	sqlRe, err := extend(sqlInjectionPattern, cfg.ExtraSQLInjection)
	if err != nil {
		return nil, fmt.Errorf("sql injection rules: %w", err)
	}
	uploadRe, err := extend(fileUploadPattern, cfg.ExtraFileUpload)
	if err != nil {
		return nil, fmt.Errorf("file upload rules: %w", err)
	}
	return &Rules{
		SQLInjection:    sqlRe,
		FileUpload:      uploadRe,
		UploadIndicator: regexp.MustCompile(uploadIndicatorPattern),
	}, nil
}

func extend(base string, extras []string) (*regexp.Regexp, error) {
	pattern := base
	for _, extra := range extras {
		if _, err := regexp.Compile(extra); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", extra, err)
		}
		pattern += `|(?:` + extra + `)`
	}
	return regexp.Compile(pattern)
}
