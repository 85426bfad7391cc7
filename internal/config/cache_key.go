package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key holding the JTI of a student's active login
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// SessionSnapshotKey returns the cache key for the latest snapshot of a student's exam session
func (r *CacheKeyStruct) SessionSnapshotKey(testID string, studentID int) string {
	return fmt.Sprintf("student:%d:test:%s:snapshot", studentID, testID)
}

// SessionAnswersKey returns the cache key for a student's answers, keyed by original question index
func (r *CacheKeyStruct) SessionAnswersKey(testID string, studentID int) string {
	return fmt.Sprintf("student:%d:test:%s:answers", studentID, testID)
}

// SessionReviewKey returns the cache key for the set of questions flagged for review
func (r *CacheKeyStruct) SessionReviewKey(testID string, studentID int) string {
	return fmt.Sprintf("student:%d:test:%s:review", studentID, testID)
}

// SessionOrderKey returns the cache key for a student's shuffled question order
func (r *CacheKeyStruct) SessionOrderKey(testID string, studentID int) string {
	return fmt.Sprintf("student:%d:test:%s:order", studentID, testID)
}

// SessionSubmitLatchKey returns the key that guards a session against a second submission
func (r *CacheKeyStruct) SessionSubmitLatchKey(testID string, studentID int) string {
	return fmt.Sprintf("student:%d:test:%s:submitted", studentID, testID)
}

// StudentActiveTestKey returns the cache key for a student's currently active test
func (r *CacheKeyStruct) StudentActiveTestKey(studentID int) string {
	return fmt.Sprintf("student:%d:active_test", studentID)
}

// TestMonitorChannel returns the Redis PubSub channel name for a test monitor
func (r *CacheKeyStruct) TestMonitorChannel(testID string) string {
	return fmt.Sprintf("test:%s:monitor", testID)
}

var CacheKey = NewCacheKeyStruct()
