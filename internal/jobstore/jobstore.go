// Package jobstore keeps ancillary job state outside the queues: export
// job records polled by the dashboard, and the list of temporary blobs
// awaiting deletion by the cleanup worker.
package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
)

const (
	exportTTL       = 24 * time.Hour
	cleanupQueueKey = "cleanup:blobs"
)

type Store struct{ rdb *r.Client }

func New(rdb *r.Client) *Store { return &Store{rdb} }

type ExportRecord struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	ResultURL string    `json:"resultUrl,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Store) exportKey(id string) string { return "export:" + id }

// UpdateExport patches an export record, creating it if missing.
func (s *Store) UpdateExport(ctx context.Context, id string, patch func(*ExportRecord)) error {
	rec := ExportRecord{ID: id}
	raw, err := s.rdb.Get(ctx, s.exportKey(id)).Result()
	if err != nil && err != r.Nil {
		return errors.Wrapf(err, "get export %s", id)
	}
	if err == nil {
		if uerr := json.Unmarshal([]byte(raw), &rec); uerr != nil {
			return errors.Wrapf(uerr, "decode export %s", id)
		}
	}
	patch(&rec)
	rec.UpdatedAt = time.Now()
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "encode export %s", id)
	}
	return errors.Wrapf(s.rdb.Set(ctx, s.exportKey(id), b, exportTTL).Err(), "set export %s", id)
}

func (s *Store) GetExport(ctx context.Context, id string) (*ExportRecord, error) {
	raw, err := s.rdb.Get(ctx, s.exportKey(id)).Result()
	if err == r.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get export %s", id)
	}
	var rec ExportRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, errors.Wrapf(err, "decode export %s", id)
	}
	return &rec, nil
}

// CleanupBlob is one temporary object pending deletion. The record is the
// zset member itself, scored by its due time.
type CleanupBlob struct {
	BlobURL string `json:"blobUrl"`
	JobID   string `json:"jobId"`
}

func (s *Store) AddBlobForCleanup(ctx context.Context, blob CleanupBlob, due time.Time) error {
	member, err := json.Marshal(blob)
	if err != nil {
		return errors.Wrap(err, "encode cleanup blob")
	}
	return errors.Wrap(
		s.rdb.ZAdd(ctx, cleanupQueueKey, r.Z{Score: float64(due.Unix()), Member: member}).Err(),
		"add cleanup blob")
}

// BlobsForCleanup returns every blob whose due time has passed.
func (s *Store) BlobsForCleanup(ctx context.Context) ([]CleanupBlob, error) {
	members, err := s.rdb.ZRangeByScore(ctx, cleanupQueueKey, &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", time.Now().Unix()),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list cleanup blobs")
	}
	var out []CleanupBlob
	for _, m := range members {
		var b CleanupBlob
		if err := json.Unmarshal([]byte(m), &b); err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// RemoveBlob drops a blob from the pending list, called only after the
// delete succeeded.
func (s *Store) RemoveBlob(ctx context.Context, blob CleanupBlob) error {
	member, err := json.Marshal(blob)
	if err != nil {
		return errors.Wrap(err, "encode cleanup blob")
	}
	return errors.Wrap(s.rdb.ZRem(ctx, cleanupQueueKey, member).Err(), "remove cleanup blob")
}
