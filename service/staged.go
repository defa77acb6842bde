package service

import (
	"sync"
	"time"

	"github.com/phbpx/leadadmin"
)

// stagedImages remembers the objects StageImage uploaded that no lead owns
// yet. Only paths found here may be attached to a lead or deleted on behalf
// of a pending image.
type stagedImages struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]stagedEntry
}

type stagedEntry struct {
	id      string
	expires time.Time
}

func newStagedImages(ttl time.Duration) *stagedImages {
	return &stagedImages{
		ttl:     ttl,
		entries: make(map[string]stagedEntry),
	}
}

func (s *stagedImages) add(img leadadmin.PendingImage, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[img.Path] = stagedEntry{id: img.ID, expires: now.Add(s.ttl)}
}

func (s *stagedImages) validLocked(img leadadmin.PendingImage, now time.Time) bool {
	e, ok := s.entries[img.Path]
	return ok && e.id == img.ID && now.Before(e.expires)
}

// claim takes every image out of the registry at once. It claims nothing
// and returns the first unknown image when any of them was not staged here.
func (s *stagedImages) claim(imgs []leadadmin.PendingImage, now time.Time) (leadadmin.PendingImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(imgs))
	for _, img := range imgs {
		if _, dup := seen[img.Path]; dup || !s.validLocked(img, now) {
			return img, false
		}
		seen[img.Path] = struct{}{}
	}
	for _, img := range imgs {
		delete(s.entries, img.Path)
	}
	return leadadmin.PendingImage{}, true
}

// release puts claimed images back, so a failed submit can be retried.
func (s *stagedImages) release(imgs []leadadmin.PendingImage, now time.Time) {
	for _, img := range imgs {
		s.add(img, now)
	}
}

// expired drops and returns the paths whose time ran out.
func (s *stagedImages) expired(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var paths []string
	for path, e := range s.entries {
		if !now.Before(e.expires) {
			paths = append(paths, path)
			delete(s.entries, path)
		}
	}
	return paths
}
