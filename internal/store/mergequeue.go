package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// MergeQueueItem is the materialized state of one queued loop, built by
// folding the merge-queue event log.
type MergeQueueItem struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // pending, completed, failed
	Prompt       string `json:"prompt"`
	WorktreePath string `json:"worktree_path,omitempty"`
	QueuedAt     string `json:"queued_at"`
	MergedAt     string `json:"merged_at,omitempty"`
}

// MergeQueue splits items by whether a terminal event arrived.
type MergeQueue struct {
	Pending   []MergeQueueItem `json:"pending"`
	Completed []MergeQueueItem `json:"completed"`
}

type mergeEvent struct {
	Type         string `json:"type"`
	ID           string `json:"id"`
	Prompt       string `json:"prompt"`
	WorktreePath string `json:"worktree_path"`
	Timestamp    string `json:"timestamp"`
}

// ReadMergeQueue folds merge-queue.jsonl into pending and completed lists.
// A missing file is an empty queue. Unknown event types and malformed lines
// are ignored; terminal events for ids never queued are dropped.
func ReadMergeQueue(path string) (MergeQueue, error) {
	queue := MergeQueue{Pending: []MergeQueueItem{}, Completed: []MergeQueueItem{}}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return queue, nil
	}
	if err != nil {
		return queue, fmt.Errorf("open merge queue: %w", err)
	}
	defer f.Close()

	items := make(map[string]*MergeQueueItem)
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev mergeEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.ID == "" {
			continue
		}
		switch ev.Type {
		case "loop.queued":
			if _, seen := items[ev.ID]; !seen {
				order = append(order, ev.ID)
			}
			items[ev.ID] = &MergeQueueItem{
				ID:           ev.ID,
				Status:       "pending",
				Prompt:       ev.Prompt,
				WorktreePath: ev.WorktreePath,
				QueuedAt:     ev.Timestamp,
			}
		case "loop.merged":
			if item, ok := items[ev.ID]; ok {
				item.Status = "completed"
				item.MergedAt = ev.Timestamp
			}
		case "loop.merge_failed":
			if item, ok := items[ev.ID]; ok {
				item.Status = "failed"
				item.MergedAt = ev.Timestamp
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return queue, fmt.Errorf("read merge queue: %w", err)
	}

	for _, id := range order {
		item := items[id]
		if item.Status == "pending" {
			queue.Pending = append(queue.Pending, *item)
		} else {
			queue.Completed = append(queue.Completed, *item)
		}
	}

	// Most recent first. Timestamps are RFC 3339 so string order works.
	sort.SliceStable(queue.Pending, func(i, j int) bool {
		return queue.Pending[i].QueuedAt > queue.Pending[j].QueuedAt
	})
	sort.SliceStable(queue.Completed, func(i, j int) bool {
		a, b := queue.Completed[i], queue.Completed[j]
		ka, kb := a.MergedAt, b.MergedAt
		if ka == "" {
			ka = a.QueuedAt
		}
		if kb == "" {
			kb = b.QueuedAt
		}
		return ka > kb
	})

	return queue, nil
}
