package queue

import (
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/bitleak/bert/storage/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const EventInsert = "INSERT"

// Record is one change of a table's change stream.
type Record struct {
	EventName string     `json:"event_name"`
	NewImage  *model.Row `json:"new_image"`
}

// Batch is a delivery of change records, the input of a streaming job run.
type Batch struct {
	Records []Record `json:"records"`
}

// ReadBatch loads a batch written as JSON.
func ReadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", path, err)
	}
	return &batch, nil
}

// Inserts returns the new rows of the batch, updates and removals are ignored.
func (b *Batch) Inserts() []*model.Row {
	rows := make([]*model.Row, 0, len(b.Records))
	for _, record := range b.Records {
		if strings.EqualFold(record.EventName, EventInsert) && record.NewImage != nil {
			rows = append(rows, record.NewImage)
		}
	}
	return rows
}
