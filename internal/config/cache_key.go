package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// UserSessionKey returns the cache key for a user's login session (single device).
func (r *CacheKeyStruct) UserSessionKey(userID int) string {
	return fmt.Sprintf("login:%d", userID)
}

// AttemptAnswersKey returns the hash key holding a session's autosaved answers.
func (r *CacheKeyStruct) AttemptAnswersKey(sessionID string) string {
	return fmt.Sprintf("attempt:%s:answers", sessionID)
}

// AttemptDeadlineKey returns the key holding a session's Unix deadline.
// The deadline is written once at start and never updated.
func (r *CacheKeyStruct) AttemptDeadlineKey(sessionID string) string {
	return fmt.Sprintf("attempt:%s:deadline", sessionID)
}

// AssignmentPayloadKey returns the cache key for a published assignment's student payload.
func (r *CacheKeyStruct) AssignmentPayloadKey(assignmentID string) string {
	return fmt.Sprintf("assignment:%s:payload", assignmentID)
}

// AssignmentAnswerKey returns the cache key for an assignment's objective answer key.
func (r *CacheKeyStruct) AssignmentAnswerKey(assignmentID string) string {
	return fmt.Sprintf("assignment:%s:key", assignmentID)
}

// AssignmentMonitorChannel returns the Redis PubSub channel for live proctoring.
func (r *CacheKeyStruct) AssignmentMonitorChannel(assignmentID string) string {
	return fmt.Sprintf("assignment:%s:monitor", assignmentID)
}

// UserActiveSessionKey returns the key for a user's currently active attempt.
func (r *CacheKeyStruct) UserActiveSessionKey(userID int) string {
	return fmt.Sprintf("user:%d:active_attempt", userID)
}

var CacheKey = NewCacheKeyStruct()
