package session

import "fmt"

// Fork deep-copies sess under a fresh id so an alternative continuation
// can diverge without touching the original journal. The fork is created
// transient; callers opt into persistence.
func (s *Store) Fork(sess *Session) (*Session, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	fork := newSession(NewID(), sess.ModelName)
	fork.Title = sess.Title
	fork.BaseDir = sess.BaseDir

	fork.Messages = append(fork.Messages, sess.Messages...)
	for id, r := range sess.Images {
		copied := *r
		fork.Images[id] = &copied
	}
	for id, r := range sess.Audio {
		copied := *r
		fork.Audio[id] = &copied
	}

	fork.Data.Todos = append([]Todo(nil), sess.Data.Todos...)
	fork.Data.Memories = append([]Memory(nil), sess.Data.Memories...)
	for k, v := range sess.Data.FileOriginals {
		fork.Data.FileOriginals[k] = v
	}
	for k, v := range sess.Data.Diffs {
		fork.Data.Diffs[k] = v
	}
	fork.Data.GeminiImageHistory = append([]GeminiImageTurn(nil), sess.Data.GeminiImageHistory...)
	fork.Data.GeminiVideoHistory = append([]GeminiVideoTurn(nil), sess.Data.GeminiVideoHistory...)

	return fork, nil
}

// RevertLastTurn removes the trailing messages of the most recent user
// turn: the last user message and everything after it. The system prompt
// is never removed.
func (s *Store) RevertLastTurn(sess *Session) error {
	sess.mu.Lock()

	lastUser := -1
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == "user" {
			lastUser = i
			break
		}
	}
	if lastUser == -1 {
		sess.mu.Unlock()
		return fmt.Errorf("session %s has no user turn to revert", sess.ID)
	}
	sess.Messages = sess.Messages[:lastUser]
	sess.mu.Unlock()
	return s.Save(sess)
}
