package store

import (
	"encoding/json"
	"sort"

	"github.com/sentilens/sentilens/internal/core"
	"github.com/sentilens/sentilens/internal/core/engine"
)

// Row is one line of a batch report, in input order.
type Row struct {
	ID         int             `json:"id" yaml:"id"`
	Text       string          `json:"text" yaml:"text"`
	State      core.SlotState  `json:"state" yaml:"state"`
	Label      core.Label      `json:"label,omitempty" yaml:"label,omitempty"`
	Confidence float64         `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Error      *core.ItemError `json:"error,omitempty" yaml:"error,omitempty"`
	Truncated  bool            `json:"truncated,omitempty" yaml:"truncated,omitempty"`
}

// encodedRow carries confidence for every succeeded row, including 0.
type encodedRow struct {
	ID         int             `json:"id" yaml:"id"`
	Text       string          `json:"text" yaml:"text"`
	State      core.SlotState  `json:"state" yaml:"state"`
	Label      core.Label      `json:"label,omitempty" yaml:"label,omitempty"`
	Confidence *float64        `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Error      *core.ItemError `json:"error,omitempty" yaml:"error,omitempty"`
	Truncated  bool            `json:"truncated,omitempty" yaml:"truncated,omitempty"`
}

func (r Row) encoded() encodedRow {
	out := encodedRow{
		ID:        r.ID,
		Text:      r.Text,
		State:     r.State,
		Label:     r.Label,
		Error:     r.Error,
		Truncated: r.Truncated,
	}
	if r.State == core.SlotSucceeded {
		confidence := r.Confidence
		out.Confidence = &confidence
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.encoded())
}

// MarshalYAML implements yaml.Marshaler.
func (r Row) MarshalYAML() (any, error) {
	return r.encoded(), nil
}

// Reason returns the failure reason, empty for successful or pending rows.
func (r Row) Reason() string {
	return r.Error.Reason()
}

// Summary aggregates a batch.
type Summary struct {
	Total          int                    `json:"total" yaml:"total"`
	Succeeded      int                    `json:"succeeded" yaml:"succeeded"`
	Failed         int                    `json:"failed" yaml:"failed"`
	Pending        int                    `json:"pending" yaml:"pending"`
	LabelCounts    map[core.Label]int     `json:"label_counts" yaml:"label_counts"`
	MeanConfidence float64                `json:"mean_confidence" yaml:"mean_confidence"`
	FailuresByKind map[core.ErrorKind]int `json:"failures_by_kind,omitempty" yaml:"failures_by_kind,omitempty"`
}

// LabelCount is one entry of the label distribution.
type LabelCount struct {
	Label core.Label `json:"label" yaml:"label"`
	Count int        `json:"count" yaml:"count"`
}

// Distribution returns label counts ordered by count, then label.
func (s Summary) Distribution() []LabelCount {
	out := make([]LabelCount, 0, len(s.LabelCounts))
	for label, count := range s.LabelCounts {
		out = append(out, LabelCount{Label: label, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// ResultStore holds the rows of one batch for reporting. It is ephemeral:
// nothing outlives the process.
type ResultStore struct {
	rows []Row
}

// NewResultStore snapshots job. Slots still in flight appear as pending.
func NewResultStore(job *engine.Job) *ResultStore {
	if job == nil {
		return &ResultStore{}
	}
	slots := job.Snapshot()
	rows := make([]Row, len(slots))
	for i, slot := range slots {
		rows[i] = rowFromSlot(slot)
	}
	return &ResultStore{rows: rows}
}

// FromRows builds a store from previously exported rows.
func FromRows(rows []Row) *ResultStore {
	return &ResultStore{rows: append([]Row(nil), rows...)}
}

// Len returns the number of rows.
func (s *ResultStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rows)
}

// AsTable returns a copy of the rows in input order.
func (s *ResultStore) AsTable() []Row {
	if s == nil {
		return nil
	}
	return append([]Row(nil), s.rows...)
}

// Summary aggregates the stored rows.
func (s *ResultStore) Summary() Summary {
	if s == nil {
		return Summarize(nil)
	}
	return Summarize(s.rows)
}

// Summarize computes counts and the mean confidence over succeeded rows.
func Summarize(rows []Row) Summary {
	summary := Summary{
		Total:          len(rows),
		LabelCounts:    make(map[core.Label]int),
		FailuresByKind: make(map[core.ErrorKind]int),
	}

	var confidence float64
	for _, row := range rows {
		switch row.State {
		case core.SlotSucceeded:
			summary.Succeeded++
			summary.LabelCounts[row.Label]++
			confidence += row.Confidence
		case core.SlotFailed:
			summary.Failed++
			kind := core.KindUpstream
			if row.Error != nil {
				kind = row.Error.Kind
			}
			summary.FailuresByKind[kind]++
		default:
			summary.Pending++
		}
	}
	if summary.Succeeded > 0 {
		summary.MeanConfidence = confidence / float64(summary.Succeeded)
	}
	return summary
}

func rowFromSlot(slot engine.Slot) Row {
	row := Row{
		ID:    slot.Request.ID,
		Text:  slot.Request.Text,
		State: slot.State,
	}
	if slot.Result == nil {
		row.State = core.SlotPending
		return row
	}
	row.Truncated = slot.Result.Truncated
	if slot.Result.Error != nil {
		row.Error = slot.Result.Error
		return row
	}
	row.Label = slot.Result.Label
	row.Confidence = slot.Result.Confidence
	return row
}
