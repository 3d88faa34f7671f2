// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package topics validates MQTT topic names and topic filters.
package topics

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// maxLength is the largest topic a UTF-8 encoded MQTT string can carry.
const maxLength = 65535

// Common validation errors.
var (
	ErrInvalidTopicName   = errors.New("invalid topic name: contains wildcards or illegal characters")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
)

// ValidateTopicName checks if the topic name is valid for PUBLISH (no wildcards).
func ValidateTopicName(topic string) error {
	if !validString(topic) {
		return ErrInvalidTopicName
	}
	// "The Topic Name ... MUST NOT contain wildcard characters"
	if strings.ContainsAny(topic, "+#") {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidateFilter checks a SUBSCRIBE topic filter. '+' must occupy a whole
// level and '#' must be the whole last level.
func ValidateFilter(filter string) error {
	if !validString(filter) {
		return ErrInvalidTopicFilter
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return ErrInvalidTopicFilter
		}
	}
	return nil
}

func validString(s string) bool {
	if s == "" || len(s) > maxLength {
		return false
	}
	// Must be valid UTF-8 without the null character
	return utf8.ValidString(s) && !strings.ContainsRune(s, 0)
}
