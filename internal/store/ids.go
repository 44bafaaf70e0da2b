package store

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// idTimeFormat keeps a fixed width so lexical order equals creation order.
const idTimeFormat = "20060102T150405.000000000"

// NewTaskID derives an orderable task identifier from creation time, agent
// role and operation.
func NewTaskID(now time.Time, agent AgentType, tt TaskType) string {
	return fmt.Sprintf("%s_%s_%s_%s", now.UTC().Format(idTimeFormat), agent, tt, shortUUID())
}

// NewEventID derives an orderable event identifier from its timestamp.
func NewEventID(ts time.Time) string {
	return fmt.Sprintf("%s_evt_%s", ts.UTC().Format(idTimeFormat), shortUUID())
}

var unsafeArtifactChars = regexp.MustCompile(`[^A-Za-z0-9._:-]+`)

// artifactNamespace seeds the suffix that keeps rewritten keys distinct.
var artifactNamespace = uuid.MustParse("0b7d5e1a-8c34-4f2b-b6e9-52a1c8d3f407")

// NewArtifactID names a published artifact for a chain key. Keys come from
// signal ids, so anything outside a file-name-safe set is replaced and a
// digest of the original key is appended to keep distinct keys distinct.
func NewArtifactID(key string) string {
	safe := unsafeArtifactChars.ReplaceAllString(key, "_")
	safe = strings.ReplaceAll(safe, "..", "_")
	if safe != key || safe == "" {
		sum := uuid.NewSHA1(artifactNamespace, []byte(key))
		safe += "-" + strings.ReplaceAll(sum.String(), "-", "")[:12]
	}
	return "published-" + safe
}

func shortUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
