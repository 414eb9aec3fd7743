package session

import (
	"encoding/base64"
	"fmt"
	"time"
)

// ImageFilter narrows ListImages to a single asset kind; the zero value
// matches every kind.
type ImageFilter struct {
	Kind string
}

// AddImage stores r under sess.Images[r.ID], assigning an id if absent, and
// saves the session.
func (s *Store) AddImage(sess *Session, r ImageRecord) (*ImageRecord, error) {
	sess.mu.Lock()
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	rec := r
	sess.Images[rec.ID] = &rec
	sess.mu.Unlock()
	if err := s.Save(sess); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetImage returns the image record with the given id.
func (s *Store) GetImage(sess *Session, id string) (*ImageRecord, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	r, ok := sess.Images[id]
	return r, ok
}

// ListImages returns every image record matching filter, in map order.
func (s *Store) ListImages(sess *Session, filter ImageFilter) []ImageRecord {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]ImageRecord, 0, len(sess.Images))
	for _, r := range sess.Images {
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		out = append(out, *r)
	}
	return out
}

// GetImageData decodes and returns the raw bytes of an image asset.
func (s *Store) GetImageData(sess *Session, id string) ([]byte, error) {
	sess.mu.Lock()
	r, ok := sess.Images[id]
	sess.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("image not found: %s", id)
	}
	if r.DataB64 == "" {
		return nil, fmt.Errorf("image corrupt (no data): %s", id)
	}
	data, err := base64.StdEncoding.DecodeString(r.DataB64)
	if err != nil {
		return nil, fmt.Errorf("image corrupt (bad base64): %s: %w", id, err)
	}
	return data, nil
}

// AddAudio is the audio analogue of AddImage.
func (s *Store) AddAudio(sess *Session, r AudioRecord) (*AudioRecord, error) {
	sess.mu.Lock()
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	rec := r
	sess.Audio[rec.ID] = &rec
	sess.mu.Unlock()
	if err := s.Save(sess); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetAudio is the audio analogue of GetImage.
func (s *Store) GetAudio(sess *Session, id string) (*AudioRecord, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	r, ok := sess.Audio[id]
	return r, ok
}

// ListAudio is the audio analogue of ListImages.
func (s *Store) ListAudio(sess *Session, filter ImageFilter) []AudioRecord {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]AudioRecord, 0, len(sess.Audio))
	for _, r := range sess.Audio {
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		out = append(out, *r)
	}
	return out
}

// GetAudioData is the audio analogue of GetImageData.
func (s *Store) GetAudioData(sess *Session, id string) ([]byte, error) {
	sess.mu.Lock()
	r, ok := sess.Audio[id]
	sess.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("audio not found: %s", id)
	}
	if r.DataB64 == "" {
		return nil, fmt.Errorf("audio corrupt (no data): %s", id)
	}
	data, err := base64.StdEncoding.DecodeString(r.DataB64)
	if err != nil {
		return nil, fmt.Errorf("audio corrupt (bad base64): %s: %w", id, err)
	}
	return data, nil
}

// CleanupImages scans every message's structured content block for
// images[]/reference_images[]/reference_image_ids[], computes the
// reachable asset set, and deletes unreachable image and audio entries.
// It never runs automatically because some flows stage assets before they are
// referenced from a message.
func (s *Store) CleanupImages(sess *Session) (removed, kept []string) {
	sess.mu.Lock()
	defer func() {
		sess.mu.Unlock()
		_ = s.Save(sess)
	}()

	reachable := map[string]bool{}
	for _, m := range sess.Messages {
		if m.Block == nil {
			continue
		}
		for _, id := range m.Block.Images {
			reachable[id] = true
		}
		for _, id := range m.Block.ReferenceImages {
			reachable[id] = true
		}
		for _, id := range m.Block.ReferenceImageIDs {
			reachable[id] = true
		}
		if m.Block.VideoID != "" {
			reachable[m.Block.VideoID] = true
		}
	}

	for id := range sess.Images {
		if reachable[id] {
			kept = append(kept, id)
		} else {
			removed = append(removed, id)
			delete(sess.Images, id)
		}
	}
	for id := range sess.Audio {
		if reachable[id] {
			kept = append(kept, id)
		} else {
			removed = append(removed, id)
			delete(sess.Audio, id)
		}
	}
	return removed, kept
}
