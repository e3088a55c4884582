package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names, one per entity collection.
const (
	BucketJobs             = "JOBS"
	BucketTasks            = "TASKS"
	BucketOutputs          = "OUTPUTS"
	BucketArtifacts        = "ARTIFACTS"
	BucketSchedules        = "SCHEDULES"
	BucketAuditLog         = "AUDIT_LOG"
	BucketOrgMembers       = "ORG_MEMBERS"
	BucketWorkflows        = "WORKFLOW_TEMPLATES"
	BucketWorkflowVersions = "WORKFLOW_VERSIONS"
	BucketTaskLogs         = "TASK_LOGS"
)

var allBuckets = []string{
	BucketJobs, BucketTasks, BucketOutputs, BucketArtifacts,
	BucketSchedules, BucketAuditLog, BucketOrgMembers,
	BucketWorkflows, BucketWorkflowVersions, BucketTaskLogs,
}

// ErrNotFound is returned when a key does not exist in its bucket.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a CAS write's expected revision is stale.
var ErrConflict = errors.New("store: revision conflict")

// Store wraps one JetStream KeyValue bucket per entity collection. Every
// multi-row SQL invariant the data model implies (row locks, composite
// uniqueness, multi-statement transactions) is realized here as
// CAS-by-revision writes plus dot-joined composite keys — see the
// entity-specific packages (artifact, orchestrator, scheduler) for how
// each builds on these primitives.
type Store struct {
	prefix  string
	buckets map[string]jetstream.KeyValue
}

// New opens (creating if necessary) one KV bucket per entity collection,
// namespaced by bucketPrefix.
func New(ctx context.Context, js jetstream.JetStream, bucketPrefix string) (*Store, error) {
	s := &Store{prefix: bucketPrefix, buckets: make(map[string]jetstream.KeyValue, len(allBuckets))}

	for _, name := range allBuckets {
		kv, err := getOrCreateBucket(ctx, js, bucketPrefix+"_"+name)
		if err != nil {
			return nil, fmt.Errorf("open bucket %s: %w", name, err)
		}
		s.buckets[name] = kv
	}

	return s, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  name,
		History: 5,
	})
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "not found") || errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrBucketNotFound)
}

func isWrongRevision(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "wrong last sequence") || strings.Contains(err.Error(), "revision")
}

// bucket returns the named KeyValue store, panicking on an unknown name —
// callers only ever pass one of the exported Bucket* constants.
func (s *Store) bucket(name string) jetstream.KeyValue {
	kv, ok := s.buckets[name]
	if !ok {
		panic(fmt.Sprintf("store: unknown bucket %q", name))
	}
	return kv
}

// Create inserts a new key; it fails with ErrConflict if the key already exists.
func (s *Store) Create(ctx context.Context, bucketName, key string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal %s/%s: %w", bucketName, key, err)
	}
	rev, err := s.bucket(bucketName).Create(ctx, key, data)
	if err != nil {
		if isWrongRevision(err) {
			return 0, fmt.Errorf("%w: %s/%s already exists", ErrConflict, bucketName, key)
		}
		return 0, err
	}
	return rev, nil
}

// Get fetches and unmarshals a key, returning its KV revision for later CAS use.
func (s *Store) Get(ctx context.Context, bucketName, key string, out any) (uint64, error) {
	entry, err := s.bucket(bucketName).Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s/%s", ErrNotFound, bucketName, key)
		}
		return 0, err
	}
	if err := json.Unmarshal(entry.Value(), out); err != nil {
		return 0, fmt.Errorf("unmarshal %s/%s: %w", bucketName, key, err)
	}
	return entry.Revision(), nil
}

// Update performs a CAS write: it only succeeds if expectedRevision still
// matches the stored revision, the KV-store substitute for a SQL row lock.
func (s *Store) Update(ctx context.Context, bucketName, key string, v any, expectedRevision uint64) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal %s/%s: %w", bucketName, key, err)
	}
	rev, err := s.bucket(bucketName).Update(ctx, key, data, expectedRevision)
	if err != nil {
		if isWrongRevision(err) {
			return 0, fmt.Errorf("%w: %s/%s", ErrConflict, bucketName, key)
		}
		return 0, err
	}
	return rev, nil
}

// Put writes unconditionally, creating or overwriting the key.
func (s *Store) Put(ctx context.Context, bucketName, key string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal %s/%s: %w", bucketName, key, err)
	}
	return s.bucket(bucketName).Put(ctx, key, data)
}

// Delete removes a key. Deleting an absent key is not an error — callers
// doing cascade deletes rely on this to be idempotent.
func (s *Store) Delete(ctx context.Context, bucketName, key string) error {
	err := s.bucket(bucketName).Delete(ctx, key)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// KeysWithPrefix lists every key in a bucket beginning with prefix — the
// store's substitute for a SQL "WHERE key LIKE 'prefix%'" scan, used for
// listing a job's tasks, a task's outputs, or an artifact's version history.
func (s *Store) KeysWithPrefix(ctx context.Context, bucketName, prefix string) ([]string, error) {
	keys, err := s.bucket(bucketName).Keys(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var matched []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)
	return matched, nil
}
