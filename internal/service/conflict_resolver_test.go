package service

import (
	"errors"
	"testing"

	"notesync-server/internal/domain"
)

type resolverFixture struct {
	*detectorFixture
	resolver *ConflictResolver
}

func newResolverFixture() *resolverFixture {
	d := newDetectorFixture()
	history := NewHistoryService(d.historyRepo)
	resolver := NewConflictResolver(d.conflictRepo, d.noteRepo, d.versionRepo, d.versions, d.detector, history, d.broadcaster)
	return &resolverFixture{detectorFixture: d, resolver: resolver}
}

// seedConflict builds a note with a promoted edit and a divergent pending
// edit, runs detection, and returns the conflict.
func (f *resolverFixture) seedConflict(t *testing.T) (*domain.Conflict, *domain.NoteVersion, *domain.NoteVersion) {
	t.Helper()
	seedNote(f.noteRepo, "n1", "user1", "base", "base content")

	base, _ := f.versions.CreateVersion("n1", "user1", "base", "base content", "device1")
	f.promote(t, "n1", base.ID)

	remote, _ := f.versions.CreateVersion("n1", "user1", "remote title", "remote content", "deviceA")
	local, _ := f.versions.CreateVersion("n1", "user2", "local title", "local content", "deviceB")
	f.promote(t, "n1", remote.ID)

	conflicts, err := f.detector.DetectConflicts("n1")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected one seeded conflict, got %d", len(conflicts))
	}
	return conflicts[0], local, remote
}

func TestConflictResolver_KeepLocal(t *testing.T) {
	f := newResolverFixture()
	conflict, local, remote := f.seedConflict(t)

	if err := f.resolver.ResolveConflict(conflict.ID, domain.ResolutionKeepLocal, nil, "user2"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	note, _ := f.noteRepo.FindByID("n1")
	if note.CurrentVersionID != local.ID {
		t.Errorf("expected local version current, got %s", note.CurrentVersionID)
	}

	// The losing version stays in history.
	if _, err := f.versionRepo.FindByID(remote.ID); err != nil {
		t.Error("remote version must stay retrievable")
	}

	stored, _ := f.conflictRepo.FindByID(conflict.ID)
	if stored.Status != domain.ConflictResolved || stored.Resolution != domain.ResolutionKeepLocal {
		t.Error("expected conflict marked resolved with keep_local")
	}
}

func TestConflictResolver_KeepRemote(t *testing.T) {
	f := newResolverFixture()
	conflict, local, remote := f.seedConflict(t)

	if err := f.resolver.ResolveConflict(conflict.ID, domain.ResolutionKeepRemote, nil, "user1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	note, _ := f.noteRepo.FindByID("n1")
	if note.CurrentVersionID != remote.ID {
		t.Errorf("expected remote version to stay current, got %s", note.CurrentVersionID)
	}

	// The local version keeps its status and stays retrievable.
	kept, err := f.versionRepo.FindByID(local.ID)
	if err != nil {
		t.Fatal("local version must stay retrievable")
	}
	if kept.Status != domain.VersionConflict {
		t.Errorf("expected local version status unchanged, got %s", kept.Status)
	}

	resolved := f.historyRepo.byAction(domain.ActionConflictResolved)
	if len(resolved) != 1 {
		t.Fatalf("expected exactly one conflict_resolved entry, got %d", len(resolved))
	}
	if resolved[0].Metadata["conflict_id"] != conflict.ID {
		t.Error("expected resolution entry to reference the conflict")
	}
}

func TestConflictResolver_ManualMerge(t *testing.T) {
	f := newResolverFixture()
	conflict, local, remote := f.seedConflict(t)

	err := f.resolver.ResolveConflict(conflict.ID, domain.ResolutionManualMerge, nil, "user1")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError without merge data, got %v", err)
	}

	merge := &domain.MergeData{Title: "merged title", Content: "merged content"}
	if err := f.resolver.ResolveConflict(conflict.ID, domain.ResolutionManualMerge, merge, "user1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	note, _ := f.noteRepo.FindByID("n1")
	if note.Title != "merged title" || note.Content != "merged content" {
		t.Error("expected merged content promoted")
	}

	merged, _ := f.versionRepo.FindByID(note.CurrentVersionID)
	if merged.Status != domain.VersionSynced {
		t.Errorf("expected merged version synced, got %s", merged.Status)
	}

	for _, sourceID := range []string{local.ID, remote.ID} {
		v, _ := f.versionRepo.FindByID(sourceID)
		if v.Status != domain.VersionSuperseded {
			t.Errorf("expected source version superseded, got %s", v.Status)
		}
	}
}

func TestConflictResolver_SeparateVersions(t *testing.T) {
	f := newResolverFixture()
	conflict, local, remote := f.seedConflict(t)

	if err := f.resolver.ResolveConflict(conflict.ID, domain.ResolutionSeparateVersions, nil, "user1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	note, _ := f.noteRepo.FindByID("n1")
	if note.CurrentVersionID != remote.ID {
		t.Error("expected source note unchanged")
	}

	var fork *domain.Note
	for _, n := range f.noteRepo.notes {
		if n.ID != "n1" {
			fork = n
		}
	}
	if fork == nil {
		t.Fatal("expected a forked note")
	}
	if fork.OwnerID != local.AuthorID {
		t.Errorf("expected fork owned by %s, got %s", local.AuthorID, fork.OwnerID)
	}
	if fork.Title != local.Title || fork.Content != local.Content {
		t.Error("expected fork to carry the local edit")
	}

	if got := len(f.historyRepo.byAction(domain.ActionNoteForked)); got != 1 {
		t.Errorf("expected 1 note_forked entry, got %d", got)
	}
}

func TestConflictResolver_ResolveOnlyOnce(t *testing.T) {
	f := newResolverFixture()
	conflict, _, _ := f.seedConflict(t)

	if err := f.resolver.ResolveConflict(conflict.ID, domain.ResolutionKeepRemote, nil, "user1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	err := f.resolver.ResolveConflict(conflict.ID, domain.ResolutionKeepLocal, nil, "user1")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for an already resolved conflict, got %v", err)
	}

	if got := len(f.historyRepo.byAction(domain.ActionConflictResolved)); got != 1 {
		t.Errorf("expected a single conflict_resolved entry, got %d", got)
	}
}

func TestConflictResolver_UnknownResolution(t *testing.T) {
	f := newResolverFixture()
	conflict, _, _ := f.seedConflict(t)

	err := f.resolver.ResolveConflict(conflict.ID, domain.ResolutionType("delete_both"), nil, "user1")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	stored, _ := f.conflictRepo.FindByID(conflict.ID)
	if stored.Status != domain.ConflictPending {
		t.Error("expected conflict untouched by an unrecognized resolution")
	}
}

func TestConflictResolver_MissingConflict(t *testing.T) {
	f := newResolverFixture()

	err := f.resolver.ResolveConflict("missing", domain.ResolutionKeepLocal, nil, "user1")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestConflictResolver_Suggestions(t *testing.T) {
	f := newResolverFixture()
	conflict, _, _ := f.seedConflict(t)

	suggestions, err := f.resolver.GetResolutionSuggestions(conflict.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(suggestions) == 0 {
		t.Fatal("expected at least one suggestion")
	}

	stored, _ := f.conflictRepo.FindByID(conflict.ID)
	if stored.Status != domain.ConflictPending {
		t.Error("suggestions must not mutate the conflict")
	}
}
