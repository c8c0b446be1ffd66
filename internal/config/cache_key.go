package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// DraftAnswersKey returns the hash key holding unsent answer edits for an exam
func (r *CacheKeyStruct) DraftAnswersKey(examID string) string {
	return fmt.Sprintf("runner:exam:%s:drafts", examID)
}

// DraftAttemptKey returns the key remembering which attempt the drafts belong to
func (r *CacheKeyStruct) DraftAttemptKey(examID string) string {
	return fmt.Sprintf("runner:exam:%s:attempt", examID)
}

var CacheKey = NewCacheKeyStruct()
