package classvault

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CurrentSchemaVersion is the artifact schema this build reads and writes.
// Restores reject any other version.
const CurrentSchemaVersion = 1

// Trigger records what started a backup run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerAPI       Trigger = "api"
	TriggerScheduled Trigger = "scheduled"
)

// BackupArtifact is a full point-in-time image of every record set.
type BackupArtifact struct {
	SchemaVersion int
	GeneratedAt   time.Time
	RecordSets    map[string][]Document
}

// SetNames returns the artifact's record set names in lexicographic order.
func (a *BackupArtifact) SetNames() []string {
	names := make([]string, 0, len(a.RecordSets))
	for name := range a.RecordSets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TotalDocuments counts the documents across every record set.
func (a *BackupArtifact) TotalDocuments() int {
	total := 0
	for _, docs := range a.RecordSets {
		total += len(docs)
	}
	return total
}

// DeliveryMode says how a finished artifact reached the operator.
type DeliveryMode string

const (
	DeliveryInline DeliveryMode = "inline"
	DeliveryLink   DeliveryMode = "link"
)

// DeliveryPlan is an encoded artifact with everything needed to hand it
// off: the final bytes, their size and checksum, and whether the codec
// compressed them.
type DeliveryPlan struct {
	Filename    string
	ContentType string
	Encoded     []byte
	SizeBytes   int64
	Compressed  bool
	Checksum    string
}

// DeliveryReceipt describes how a finished artifact was handed off.
type DeliveryReceipt struct {
	Mode       DeliveryMode `json:"mode"`
	Filename   string       `json:"filename"`
	SizeBytes  int64        `json:"sizeBytes"`
	Compressed bool         `json:"compressed"`
	Checksum   string       `json:"checksum"`
	Location   string       `json:"location,omitempty"`
	NotifiedAt time.Time    `json:"notifiedAt"`
}

// BackupResult summarizes one backup run.
type BackupResult struct {
	RunID          string           `json:"runId"`
	Trigger        Trigger          `json:"trigger"`
	StartedAt      time.Time        `json:"startedAt"`
	FinishedAt     time.Time        `json:"finishedAt"`
	SetCounts      map[string]int   `json:"setCounts"`
	TotalDocuments int              `json:"totalDocuments"`
	Delivery       *DeliveryReceipt `json:"delivery,omitempty"`
}

// RestoreStatus is the terminal state of a restore run.
type RestoreStatus string

const (
	RestoreCommitted        RestoreStatus = "committed"
	RestoreRolledBack       RestoreStatus = "rolled_back"
	RestorePartiallyApplied RestoreStatus = "partially_applied"
)

// SetStatus is the per record set outcome inside a restore run.
type SetStatus string

const (
	SetReplaced   SetStatus = "replaced"
	SetSkipped    SetStatus = "skipped"
	SetFailed     SetStatus = "failed"
	SetNotReached SetStatus = "not_reached"
)

// SetResult is the outcome of one record set during a restore.
type SetResult struct {
	Name      string    `json:"name"`
	Status    SetStatus `json:"status"`
	Documents int       `json:"documents,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// RestoreResult summarizes one restore run.
type RestoreResult struct {
	RunID      string        `json:"runId"`
	Status     RestoreStatus `json:"status"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Atomic     bool          `json:"atomic"`
	Sets       []*SetResult  `json:"sets"`
}

func artifactBaseName(now time.Time, trigger Trigger) string {
	dt := now.UTC().Format(time.RFC3339)
	dt = strings.Replace(dt, ":", "-", -1)
	dt = strings.Replace(dt, "T", "-", -1)
	dt = strings.Replace(dt, "Z", "", -1)
	return fmt.Sprintf("classvault-%s--%s", dt, trigger)
}

func artifactFilename(base string, compressed bool) string {
	if compressed {
		return base + ".json.gz"
	}
	return base + ".json"
}
