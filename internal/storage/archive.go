package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chadiek/voiceloop/internal/turn"
)

// Record is the archived form of a conversation.
type Record struct {
	ID        string    `json:"id"`
	Transport string    `json:"transport"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Ended     bool      `json:"ended"` // closed by the assistant rather than by disconnect
	Entries   []Entry   `json:"entries"`
}

type Entry struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Archive writes conversation transcripts as JSON objects keyed by day.
type Archive struct {
	up Uploader
}

func NewArchive(up Uploader) *Archive { return &Archive{up: up} }

// Key is the object key for a record.
func Key(r Record) string {
	return fmt.Sprintf("conversations/%s/%s.json", r.StartedAt.UTC().Format("2006/01/02"), r.ID)
}

// NewRecord converts a controller transcript.
func NewRecord(id, transport string, started, ended time.Time, closed bool, transcript []turn.Entry) Record {
	r := Record{ID: id, Transport: transport, StartedAt: started, EndedAt: ended, Ended: closed, Entries: make([]Entry, 0, len(transcript))}
	for _, e := range transcript {
		r.Entries = append(r.Entries, Entry{Speaker: string(e.Speaker), Text: e.Text})
	}
	return r
}

// Save uploads r. Empty conversations are skipped.
func (a *Archive) Save(ctx context.Context, r Record) error {
	if len(r.Entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode record: %w", err)
	}
	return a.up.Upload(Key(r), "application/json", data)
}
