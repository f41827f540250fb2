/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package natsutil

import (
	"strings"

	"github.com/carverauto/observatory/pkg/models"
)

const (
	eventSubjectPrefix  = "events.agent"
	streamSubjectPrefix = "streams"
	rpcSubjectPrefix    = "agents"
)

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// token makes s safe to use as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}

	return tokenReplacer.Replace(s)
}

// EventSubject is the subject an event of type t from origin is published on.
func EventSubject(t models.EventType, origin string) string {
	return eventSubjectPrefix + "." + token(string(t)) + "." + token(origin)
}

// eventFilterSubject is the subscription subject for filter. Empty fields become wildcards.
func eventFilterSubject(filter models.EventFilter) string {
	t, origin := "*", "*"

	if filter.Type != "" {
		t = token(string(filter.Type))
	}

	if filter.Origin != "" {
		origin = token(filter.Origin)
	}

	return eventSubjectPrefix + "." + t + "." + origin
}

// StreamSubject is the subject data samples of a stream are published on.
func StreamSubject(streamID string) string {
	return streamSubjectPrefix + "." + token(streamID)
}

// QueueGroup is the queue group shared by subscribers of one named stream.
func QueueGroup(streamName string) string {
	return streamName + "_queue"
}

// RPCSubject is the request subject an agent serves.
func RPCSubject(origin string) string {
	return rpcSubjectPrefix + "." + token(origin) + ".rpc"
}

// ensureSubjectList appends subject unless a pattern in subjects already covers it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, pattern := range subjects {
		if matchesSubject(pattern, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether the NATS subject pattern covers subject.
func matchesSubject(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")

	for i, tok := range p {
		if tok == ">" {
			return len(s) > i
		}

		if i >= len(s) {
			return false
		}

		if tok != "*" && tok != s[i] {
			return false
		}
	}

	return len(p) == len(s)
}
