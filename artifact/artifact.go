// Package artifact implements the versioned, role-keyed artifact registry:
// version allocation under a row-lock substitute, the draft/approved/frozen
// promotion lifecycle, and the cross-version diff engine.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/bluebox123/agentic-orchestrator/store"
	"github.com/google/uuid"
)

// rolePattern validates the artifact role's wire-visible syntax.
var rolePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// maxVersionRetries bounds the CAS retry loop for RegisterArtifact and
// Promote, both of which coordinate two keys (a row and a pointer) that the
// KV store cannot update in one real transaction.
const maxVersionRetries = 10

// Report is what a worker's completion payload carries for one artifact.
type Report struct {
	TaskID     string
	JobID      string
	Type       store.ArtifactType
	Role       string
	Filename   string
	StorageKey string
	MimeType   string
	Metadata   map[string]any
}

// Store versions, promotes, and diffs artifacts on top of the generic KV store.
type Store struct {
	s *store.Store
}

// New wraps a store.Store with artifact-specific versioning logic.
func New(s *store.Store) *Store {
	return &Store{s: s}
}

func currentPointerKey(jobID string, typ store.ArtifactType, role string) string {
	return fmt.Sprintf("current.%s.%s.%s", jobID, typ, role)
}

func frozenPointerKey(jobID string, typ store.ArtifactType, role string) string {
	return fmt.Sprintf("frozen.%s.%s.%s", jobID, typ, role)
}

func rowKey(id string) string {
	return "row." + id
}

// jobIndexKey indexes an artifact row by job so the scheduler's retention GC
// can enumerate every artifact belonging to a job without knowing its
// (type, role) in advance — the current/frozen pointer keys alone can't
// support that scan.
func jobIndexKey(jobID, artifactID string) string {
	return "jobidx." + jobID + "." + artifactID
}

// RegisterArtifact implements the artifact store's registration algorithm:
// look up the current artifact for (job_id, type, role), compute the next
// version, flip the old row's is_current off, and insert the new row as
// current — all under a pointer-key CAS loop standing in for the row lock
// + single transaction the spec describes.
func (a *Store) RegisterArtifact(ctx context.Context, rep Report) (store.Artifact, error) {
	if rep.Role != "" && !rolePattern.MatchString(rep.Role) {
		return store.Artifact{}, fmt.Errorf("invalid artifact role %q: must match %s", rep.Role, rolePattern.String())
	}

	ptrKey := currentPointerKey(rep.JobID, rep.Type, rep.Role)

	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		var ptr struct{ ArtifactID string }
		ptrRev, err := a.s.Get(ctx, store.BucketArtifacts, ptrKey, &ptr)

		newArtifact := store.Artifact{
			ID:         uuid.New().String(),
			TaskID:     rep.TaskID,
			JobID:      rep.JobID,
			Type:       rep.Type,
			Role:       rep.Role,
			Filename:   rep.Filename,
			StorageKey: rep.StorageKey,
			MimeType:   rep.MimeType,
			Metadata:   rep.Metadata,
			IsCurrent:  true,
			Status:     store.ArtifactDraft,
			CreatedAt:  time.Now(),
		}

		switch {
		case err == nil:
			// A current artifact exists: supersede it.
			var current store.Artifact
			curRev, err := a.s.Get(ctx, store.BucketArtifacts, rowKey(ptr.ArtifactID), &current)
			if err != nil {
				return store.Artifact{}, fmt.Errorf("load current artifact %s: %w", ptr.ArtifactID, err)
			}

			newArtifact.Version = current.Version + 1
			newArtifact.ParentArtifactID = current.ID

			current.IsCurrent = false
			if _, err := a.s.Update(ctx, store.BucketArtifacts, rowKey(current.ID), current, curRev); err != nil {
				continue // lost the race; retry from the top
			}

			if _, err := a.s.Create(ctx, store.BucketArtifacts, rowKey(newArtifact.ID), newArtifact); err != nil {
				continue
			}

			if _, err := a.s.Update(ctx, store.BucketArtifacts, ptrKey, struct{ ArtifactID string }{newArtifact.ID}, ptrRev); err != nil {
				continue
			}
			_, _ = a.s.Put(ctx, store.BucketArtifacts, jobIndexKey(rep.JobID, newArtifact.ID), struct{}{})
			return newArtifact, nil

		case isNotFoundErr(err):
			newArtifact.Version = 1
			if _, err := a.s.Create(ctx, store.BucketArtifacts, rowKey(newArtifact.ID), newArtifact); err != nil {
				continue
			}
			if _, err := a.s.Create(ctx, store.BucketArtifacts, ptrKey, struct{ ArtifactID string }{newArtifact.ID}); err != nil {
				continue // another registration beat us to v1; retry and supersede it
			}
			_, _ = a.s.Put(ctx, store.BucketArtifacts, jobIndexKey(rep.JobID, newArtifact.ID), struct{}{})
			return newArtifact, nil

		default:
			return store.Artifact{}, err
		}
	}

	return store.Artifact{}, fmt.Errorf("register artifact for (%s,%s,%s): exhausted retries under contention",
		rep.JobID, rep.Type, rep.Role)
}

// Get fetches one artifact row by id.
func (a *Store) Get(ctx context.Context, id string) (store.Artifact, uint64, error) {
	var art store.Artifact
	rev, err := a.s.Get(ctx, store.BucketArtifacts, rowKey(id), &art)
	return art, rev, err
}

// Current returns the current (highest-version) artifact for (job_id, type, role).
func (a *Store) Current(ctx context.Context, jobID string, typ store.ArtifactType, role string) (store.Artifact, error) {
	var ptr struct{ ArtifactID string }
	if _, err := a.s.Get(ctx, store.BucketArtifacts, currentPointerKey(jobID, typ, role), &ptr); err != nil {
		return store.Artifact{}, err
	}
	art, _, err := a.Get(ctx, ptr.ArtifactID)
	return art, err
}

// Frozen returns the frozen artifact for (job_id, type, role), if any.
func (a *Store) Frozen(ctx context.Context, jobID string, typ store.ArtifactType, role string) (store.Artifact, error) {
	var ptr struct{ ArtifactID string }
	if _, err := a.s.Get(ctx, store.BucketArtifacts, frozenPointerKey(jobID, typ, role), &ptr); err != nil {
		return store.Artifact{}, err
	}
	art, _, err := a.Get(ctx, ptr.ArtifactID)
	return art, err
}

// Versions walks the parent-artifact chain from the current artifact back
// to version 1, returning every version for (job_id, type, role) ordered
// oldest first. This is the "permitted, chained" versioning model: each
// version's ParentArtifactID points at the one it superseded.
func (a *Store) Versions(ctx context.Context, jobID string, typ store.ArtifactType, role string) ([]store.Artifact, error) {
	current, err := a.Current(ctx, jobID, typ, role)
	if err != nil {
		return nil, err
	}

	chain := []store.Artifact{current}
	cursor := current
	for cursor.ParentArtifactID != "" {
		parent, _, err := a.Get(ctx, cursor.ParentArtifactID)
		if err != nil {
			return nil, fmt.Errorf("walk version chain at %s: %w", cursor.ParentArtifactID, err)
		}
		chain = append(chain, parent)
		cursor = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Promote advances an artifact's lifecycle status. Allowed transitions are
// draft -> approved and approved -> frozen; frozen is immutable. At most
// one frozen artifact may exist per (job_id, type, role): promoting a
// second one to frozen fails with a conflict.
func (a *Store) Promote(ctx context.Context, id, actor string, target store.ArtifactStatus) error {
	art, rev, err := a.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := validateTransition(art.Status, target); err != nil {
		return err
	}

	if target == store.ArtifactFrozen {
		fKey := frozenPointerKey(art.JobID, art.Type, art.Role)
		if _, err := a.s.Create(ctx, store.BucketArtifacts, fKey, struct{ ArtifactID string }{art.ID}); err != nil {
			if isConflictErr(err) {
				return fmt.Errorf("conflict: a frozen artifact already exists for (%s,%s,%s)", art.JobID, art.Type, art.Role)
			}
			return err
		}
	}

	prevStatus := art.Status
	art.Status = target
	if target == store.ArtifactFrozen {
		now := time.Now()
		art.FrozenAt = &now
	}

	if _, err := a.s.Update(ctx, store.BucketArtifacts, rowKey(id), art, rev); err != nil {
		return err
	}

	_, err = a.s.AppendAudit(ctx, store.AuditEntry{
		ID:         uuid.New().String(),
		JobID:      art.JobID,
		EntityType: "artifact",
		EntityID:   art.ID,
		Actor:      actor,
		FromStatus: string(prevStatus),
		ToStatus:   string(target),
		Timestamp:  time.Now(),
	})
	return err
}

// DeleteAllForJob removes every artifact row, pointer, and index entry
// belonging to a job. Used by the scheduler's retention GC, which deletes a
// terminal job's artifacts ahead of the job row itself.
func (a *Store) DeleteAllForJob(ctx context.Context, jobID string) error {
	idxKeys, err := a.s.KeysWithPrefix(ctx, store.BucketArtifacts, "jobidx."+jobID+".")
	if err != nil {
		return fmt.Errorf("list artifact index for job %s: %w", jobID, err)
	}

	for _, idxKey := range idxKeys {
		artifactID := idxKey[len("jobidx."+jobID+"."):]

		var art store.Artifact
		if _, err := a.s.Get(ctx, store.BucketArtifacts, rowKey(artifactID), &art); err == nil {
			if err := a.s.Delete(ctx, store.BucketArtifacts, currentPointerKey(art.JobID, art.Type, art.Role)); err != nil {
				return err
			}
			if err := a.s.Delete(ctx, store.BucketArtifacts, frozenPointerKey(art.JobID, art.Type, art.Role)); err != nil {
				return err
			}
		} else if !isNotFoundErr(err) {
			return fmt.Errorf("load artifact %s for deletion: %w", artifactID, err)
		}

		if err := a.s.Delete(ctx, store.BucketArtifacts, rowKey(artifactID)); err != nil {
			return err
		}
		if err := a.s.Delete(ctx, store.BucketArtifacts, idxKey); err != nil {
			return err
		}
	}
	return nil
}

func validateTransition(from, to store.ArtifactStatus) error {
	switch {
	case from == store.ArtifactDraft && to == store.ArtifactApproved:
		return nil
	case from == store.ArtifactApproved && to == store.ArtifactFrozen:
		return nil
	case from == store.ArtifactFrozen:
		return fmt.Errorf("conflict: artifact is frozen and immutable")
	default:
		return fmt.Errorf("validation: no transition from %s to %s", from, to)
	}
}

func isNotFoundErr(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func isConflictErr(err error) bool {
	return errors.Is(err, store.ErrConflict)
}
