package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"
)

// Compact the journal into the snapshot after this many appends.
const journalCompactAt = 1000

// dedupLog persists dedup marks as a snapshot plus an append-only journal
// of marks written since. Opening replays both and drops expired marks.
type dedupLog struct {
	snapshot string
	journal  *os.File
	marks    map[string]int64 // key -> until, unix ms
	appended int
}

type journalLine struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openDedupLog(stem string, now time.Time) (*dedupLog, error) {
	d := &dedupLog{snapshot: stem + ".dedup.snapshot.json", marks: map[string]int64{}}
	if b, err := os.ReadFile(d.snapshot); err == nil {
		_ = json.Unmarshal(b, &d.marks)
	}

	f, err := os.OpenFile(stem+".dedup.journal.jsonl", os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l journalLine
		if json.Unmarshal(sc.Bytes(), &l) == nil && l.Key != "" {
			d.marks[l.Key] = l.Until
		}
	}
	d.journal = f
	d.expire(now)
	return d, nil
}

func (d *dedupLog) get(key string) (time.Time, bool) {
	ms, ok := d.marks[key]
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// put records the mark. compactErr reports a failed compaction, which
// leaves the journal intact and is not fatal.
func (d *dedupLog) put(key string, until time.Time) (compactErr, err error) {
	ms := until.UnixMilli()
	b, err := json.Marshal(journalLine{Key: key, Until: ms})
	if err != nil {
		return nil, err
	}
	if _, err := d.journal.Write(append(b, '\n')); err != nil {
		return nil, err
	}
	d.marks[key] = ms
	if d.appended++; d.appended >= journalCompactAt {
		return d.compact(), nil
	}
	return nil, nil
}

func (d *dedupLog) prune(now time.Time) (int, error) {
	n := d.expire(now)
	if n == 0 {
		return 0, nil
	}
	return n, d.compact()
}

func (d *dedupLog) expire(now time.Time) int {
	cut := now.UnixMilli()
	n := 0
	for k, ms := range d.marks {
		if ms < cut {
			delete(d.marks, k)
			n++
		}
	}
	return n
}

// compact writes every live mark to the snapshot and empties the journal.
func (d *dedupLog) compact() error {
	b, err := json.Marshal(d.marks)
	if err != nil {
		return err
	}
	if err := writeReplace(d.snapshot, b); err != nil {
		return err
	}
	if err := d.journal.Truncate(0); err != nil {
		return err
	}
	if _, err := d.journal.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	d.appended = 0
	return nil
}

func (d *dedupLog) close() error {
	return errors.Join(d.compact(), d.journal.Close())
}
