package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogRequest logs an API request with standard fields
func LogRequest(log Logger, endpoint string, status int, duration time.Duration) {
	log.DebugWithFields("API request", map[string]interface{}{
		"endpoint":    endpoint,
		"status_code": status,
		"duration_ms": duration.Milliseconds(),
	})
}

// LogRateLimited logs a rate-limit pause before retrying an endpoint
func LogRateLimited(log Logger, endpoint string, wait time.Duration) {
	log.WarnWithFields("rate limited, waiting before retry", map[string]interface{}{
		"endpoint": endpoint,
		"wait":     wait.String(),
	})
}

// LogAuthenticated logs a successful session establishment
func LogAuthenticated(log Logger, username string, refreshed bool) {
	log.InfoWithFields("session established", map[string]interface{}{
		"username":  username,
		"refreshed": refreshed,
	})
}

// LogDownloadStart logs the start of a media download
func LogDownloadStart(log Logger, postID, filename string, num int) {
	log.DebugWithFields("starting download", map[string]interface{}{
		"post_id":  postID,
		"filename": filename,
		"num":      num,
	})
}

// LogDownloadComplete logs a completed media download
func LogDownloadComplete(log Logger, postID, filename string, size int64, duration time.Duration) {
	log.InfoWithFields("download complete", map[string]interface{}{
		"post_id":     postID,
		"filename":    filename,
		"size_bytes":  size,
		"duration_ms": duration.Milliseconds(),
	})
}

// LogDownloadError logs a failed media download
func LogDownloadError(log Logger, postID, url string, err error) {
	log.ErrorWithFields("download failed", map[string]interface{}{
		"post_id": postID,
		"url":     url,
		"error":   err.Error(),
	})
}

// LogScrapeProgress logs periodic progress through a scrape
func LogScrapeProgress(log Logger, actor string, posts, files int) {
	log.InfoWithFields("scrape progress", map[string]interface{}{
		"actor": actor,
		"posts": posts,
		"files": files,
	})
}

// nopLogger discards everything. Used as the default when a component
// is constructed without a logger.
type nopLogger struct{}

// NewNopLogger returns a logger that discards all output
func NewNopLogger() Logger {
	return nopLogger{}
}

var nopZerolog = zerolog.Nop()

func (nopLogger) Debug(string) {}
func (nopLogger) Info(string)  {}
func (nopLogger) Warn(string)  {}
func (nopLogger) Error(string) {}
func (nopLogger) Fatal(string) {}

func (n nopLogger) WithField(string, interface{}) Logger       { return n }
func (n nopLogger) WithFields(map[string]interface{}) Logger   { return n }
func (n nopLogger) WithError(error) Logger                     { return n }
func (n nopLogger) WithContext(context.Context) Logger         { return n }
func (nopLogger) DebugWithFields(string, map[string]interface{}) {}
func (nopLogger) InfoWithFields(string, map[string]interface{})  {}
func (nopLogger) WarnWithFields(string, map[string]interface{})  {}
func (nopLogger) ErrorWithFields(string, map[string]interface{}) {}
func (nopLogger) FatalWithFields(string, map[string]interface{}) {}
func (nopLogger) GetZerolog() *zerolog.Logger                    { return &nopZerolog }
