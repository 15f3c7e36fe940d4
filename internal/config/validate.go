package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"laptel/internal/chassis"
)

// Severity grades a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path uses config key names, e.g.
// "output.formats[1]".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message) }

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("koanf"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// ValidatePipeline checks struct constraints and the cross-field rules a tag
// cannot express. It never stops at the first problem.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	errorf := func(path, format string, a ...any) {
		issues = append(issues, Issue{SeverityError, path, fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		issues = append(issues, Issue{SeverityWarning, path, fmt.Sprintf(format, a...)})
	}

	if err := structValidator().Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			errorf("", "%v", err)
		}
		for _, fe := range verrs {
			errorf(fieldPath(fe), "%s", describe(fe))
		}
	}

	for i, t := range p.Tracks {
		for _, car := range t.CarIDs() {
			for j, vid := range t.Cars[car] {
				if _, err := chassis.Key(vid); err != nil {
					errorf(fmt.Sprintf("tracks[%d].cars.%s[%d]", i, car, j), "%v", err)
				}
			}
		}
	}
	seen := map[string]bool{}
	for i, t := range p.Tracks {
		if seen[t.Name] && t.Name != "" {
			errorf(fmt.Sprintf("tracks[%d].name", i), "duplicate track %q", t.Name)
		}
		seen[t.Name] = true
	}

	if p.Output.HasFormat("sql") {
		if p.Storage.Kind == "" {
			errorf("storage.kind", "required when output.formats contains sql")
		}
		if p.Storage.DSN == "" {
			errorf("storage.dsn", "required when output.formats contains sql")
		}
		if p.Storage.Table == "" {
			errorf("storage.table", "required when output.formats contains sql")
		}
	} else if p.Storage.Kind != "" {
		warnf("storage.kind", "set but output.formats has no sql; storage is unused")
	}

	if p.Metrics.Backend == "pushgateway" && p.Metrics.PushgatewayURL == "" {
		warnf("metrics.pushgateway_url", "empty; PUSHGATEWAY_URL or http://localhost:9091 is used")
	}
	if p.Join.Tolerance > time.Minute {
		warnf("join.tolerance", "%s is longer than a typical lap boundary jitter", p.Join.Tolerance)
	}
	if len(p.Tracks) == 0 {
		warnf("tracks", "empty; tracks are discovered from %s", p.Input.Dir)
	}
	return issues
}

// fieldPath turns "Pipeline.output.formats[1]" into "output.formats[1]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s element(s)", fe.Param())
	case "oneof":
		return fmt.Sprintf("%v is not one of [%s]", fe.Value(), fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte", "lte", "max":
		return fmt.Sprintf("failed %s=%s (got %v)", fe.Tag(), fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("%v is not a URL", fe.Value())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
