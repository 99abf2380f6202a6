package validation

import (
	"errors"
	"strings"
	"sync"
	"unicode/utf8"
)

// Rules bounds user-supplied fields. Set once at startup from config.
type Rules struct {
	// MaxContentLen caps message content in runes.
	MaxContentLen int
	// MaxTopicLen caps room topics in runes.
	MaxTopicLen int
}

var (
	mu    sync.RWMutex
	rules = Rules{MaxContentLen: 4096, MaxTopicLen: 256}
)

// Set installs the validation rules globally.
func Set(r Rules) {
	mu.Lock()
	defer mu.Unlock()
	if r.MaxContentLen > 0 {
		rules.MaxContentLen = r.MaxContentLen
	}
	if r.MaxTopicLen > 0 {
		rules.MaxTopicLen = r.MaxTopicLen
	}
}

var (
	ErrEmptyContent = errors.New("content must not be empty")
	ErrLongContent  = errors.New("content exceeds maximum length")
	ErrEmptyAuthor  = errors.New("author is required")
	ErrEmptyTopic   = errors.New("topic must not be empty")
	ErrLongTopic    = errors.New("topic exceeds maximum length")
)

// Message checks a submission's user-supplied fields.
func Message(authorID, content string) error {
	if strings.TrimSpace(authorID) == "" {
		return ErrEmptyAuthor
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	mu.RLock()
	max := rules.MaxContentLen
	mu.RUnlock()
	if utf8.RuneCountInString(content) > max {
		return ErrLongContent
	}
	return nil
}

// Topic checks a room topic.
func Topic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return ErrEmptyTopic
	}
	mu.RLock()
	max := rules.MaxTopicLen
	mu.RUnlock()
	if utf8.RuneCountInString(topic) > max {
		return ErrLongTopic
	}
	return nil
}
