package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionKey returns the key of a user's in-progress attempt for an exam.
func (r *CacheKeyStruct) SessionKey(userID int, examID string) string {
	return fmt.Sprintf("user:%d:session:%s", userID, examID)
}

// ResultKey returns the key of a user's finalized result for an exam.
func (r *CacheKeyStruct) ResultKey(userID int, examID string) string {
	return fmt.Sprintf("user:%d:result:%s", userID, examID)
}

// ExamPayloadKey returns the cache key for an exam's definition without the answer key
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamAnswerKey returns the cache key for an exam's answer key (question index -> correct option)
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

var CacheKey = NewCacheKeyStruct()
