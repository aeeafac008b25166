// Package logging provides a small structured-fields builder shared
// by every component that logs through logrus: instead of formatting
// ad-hoc strings, call sites build a Fields value with named setters
// and hand it to logrus.WithFields.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a logrus.Fields-compatible map built up through chained
// setters. Error, UserID, JobID and Resource's name skip a zero value
// (nil error, empty string); the other setters always set their key.
type Fields map[string]interface{}

func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, resourceName string) Fields {
	f["resource_type"] = resourceType
	if resourceName != "" {
		f["resource_name"] = resourceName
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	f["request_id"] = id
	return f
}

func (f Fields) TraceID(id string) Fields {
	f["trace_id"] = id
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// TenantID tags the owning Tenant of the log line (spec §3).
func (f Fields) TenantID(id int64) Fields {
	f["tenant_id"] = id
	return f
}

// CaseFileID tags the CaseFile under scrape.
func (f Fields) CaseFileID(id int64) Fields {
	f["case_file_id"] = id
	return f
}

// JobID tags the JobStore job a log line belongs to.
func (f Fields) JobID(id string) Fields {
	if id != "" {
		f["job_id"] = id
	}
	return f
}

// Lane tags the JobStore lane (INITIAL/MONITOR/PRIORITY).
func (f Fields) Lane(lane string) Fields {
	f["lane"] = lane
	return f
}

// ToLogrus returns f as a logrus.Fields, ready for logger.WithFields.
func (f Fields) ToLogrus() logrus.Fields {
	return logrus.Fields(f)
}

// DatabaseFields builds the standard field set for a Repository call.
func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

// HTTPFields builds the standard field set for an inbound or outbound
// HTTP call (control API handlers, Solver API client).
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

// PerformanceFields builds a field set for a timed operation's outcome.
func PerformanceFields(operation string, duration time.Duration, success bool) Fields {
	return NewFields().Component("performance").Operation(operation).Duration(duration).Custom("success", success)
}

// SecurityFields builds a field set for an auth-relevant event (bearer
// token check on the control API boundary, §6).
func SecurityFields(operation, subject string) Fields {
	return NewFields().Component("security").Operation(operation).Custom("subject", subject)
}

// MetricsFields builds a field set for a recorded metric value.
func MetricsFields(operation, metricName string, value float64) Fields {
	return NewFields().Component("metrics").Operation(operation).Custom("metric_name", metricName).Custom("value", value)
}

// ScrapeFields builds the standard field set for a Worker job
// processing one CaseFile (spec §4.6).
func ScrapeFields(jobKind string, caseFileID, tenantID int64) Fields {
	return NewFields().Component("worker").Operation(jobKind).CaseFileID(caseFileID).TenantID(tenantID)
}

// BrowserPoolFields builds the standard field set for a BrowserPool
// acquire/release/recycle event.
func BrowserPoolFields(operation string, sessionID string, pagesOpened int) Fields {
	return NewFields().Component("browserpool").Operation(operation).Custom("session_id", sessionID).Count(pagesOpened)
}

// CaptchaFields builds the standard field set for a CaptchaChain
// strategy attempt.
func CaptchaFields(strategy string, solved bool) Fields {
	return NewFields().Component("captcha").Operation(strategy).Custom("solved", solved)
}
