// Package session implements the Session Store: a persistent, append-mostly
// journal of messages, binary assets, provider continuation tokens, and
// tool-side scratch state.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Message is a single entry in the session's append-mostly history.
// Role is one of system/user/assistant/tool. Content is either a plain
// string or, for image/video generation turns, a structured Block.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	Block      *ContentBlock `json:"block,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	Reasoning  string        `json:"reasoning,omitempty"`
	ResponseID string        `json:"response_id,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
	CreatedAt  time.Time     `json:"created_at,omitempty"`
}

// ContentBlock types.
const (
	BlockImagePrompt = "image_prompt"
	BlockImage       = "image"
	BlockVideoPrompt = "video_prompt"
	BlockVideo       = "video"
)

// ContentBlock is a structured message content block for the image/video
// generation flows. Asset ids reference Session.Images / Session.Audio.
type ContentBlock struct {
	Type              string   `json:"type"`
	Prompt            string   `json:"prompt,omitempty"`
	Images            []string `json:"images,omitempty"`
	ReferenceImages   []string `json:"reference_images,omitempty"`
	ReferenceImageIDs []string `json:"reference_image_ids,omitempty"`
	VideoID           string   `json:"video_id,omitempty"`
}

// ToolCall is {id, type:"function", function:{name,arguments}, thoughtSignature?}.
type ToolCall struct {
	ID               string           `json:"id"`
	Type             string           `json:"type"`
	Function         ToolCallFunction `json:"function"`
	ThoughtSignature string           `json:"thoughtSignature,omitempty"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ImageRecord / AudioRecord are binary assets carried as base64, never as
// an external file.
type ImageRecord struct {
	ID               string    `json:"id"`
	Kind             string    `json:"kind"` // reference|generated|voiceover
	MimeType         string    `json:"mime_type"`
	DataB64          string    `json:"data_b64"`
	CreatedAt        time.Time `json:"created_at"`
	Provider         string    `json:"provider,omitempty"`
	Prompt           string    `json:"prompt,omitempty"`
	ReferenceImages  []string  `json:"reference_images,omitempty"`
	RawModelMessage  string    `json:"raw_model_message,omitempty"`
}

type AudioRecord struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"` // reference|generated|voiceover
	MimeType        string    `json:"mime_type"`
	DataB64         string    `json:"data_b64"`
	CreatedAt       time.Time `json:"created_at"`
	Provider        string    `json:"provider,omitempty"`
	Prompt          string    `json:"prompt,omitempty"`
	RawModelMessage string    `json:"raw_model_message,omitempty"`
}

// Todo statuses.
const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoCompleted  = "completed"
	TodoCancelled  = "cancelled"
)

type Todo struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Content string `json:"content"`
}

type Memory struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	KnowledgeToStore string    `json:"knowledge_to_store"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DiffRecord holds a tool's side-effect diff, routed out of the tool
// result payload by the agent loop.
type DiffRecord struct {
	Diff         string `json:"diff"`
	PatchCommand string `json:"patchCommand,omitempty"`
	ToolName     string `json:"toolName"`
}

// GeminiImageTurn / GeminiVideoTurn record one round of the Gemini image or
// video generation flow so that later turns can reference prior context.
type GeminiImageTurn struct {
	Prompt   string    `json:"prompt"`
	ImageIDs []string  `json:"image_ids"`
	At       time.Time `json:"at"`
}

type GeminiVideoTurn struct {
	Prompt  string    `json:"prompt"`
	VideoID string    `json:"video_id"`
	At      time.Time `json:"at"`
}

// Data is the session's tool-scratch state: todos, memories, file
// originals (for delete_file/edit_file undo), diffs, and the generation
// history lists.
type Data struct {
	Todos              []Todo                 `json:"todos,omitempty"`
	Memories           []Memory               `json:"memories,omitempty"`
	FileOriginals      map[string]string      `json:"fileOriginals,omitempty"`
	Diffs              map[string]DiffRecord  `json:"diffs,omitempty"`
	GeminiImageHistory []GeminiImageTurn      `json:"gemini_image_history,omitempty"`
	GeminiVideoHistory []GeminiVideoTurn      `json:"gemini_video_history,omitempty"`
}

// Session is the top-level persisted unit.
type Session struct {
	ID         string                  `json:"id"`
	Title      string                  `json:"title,omitempty"`
	ModelName  string                  `json:"model_name"`
	Messages   []Message               `json:"messages"`
	Images     map[string]*ImageRecord `json:"images"`
	Audio      map[string]*AudioRecord `json:"audio"`
	Data       Data                    `json:"data"`
	BaseDir    string                  `json:"base_dir,omitempty"`
	Persistent bool                    `json:"persistent"`

	mu sync.Mutex
}

func newSession(id, modelName string) *Session {
	return &Session{
		ID:        id,
		ModelName: modelName,
		Messages:  []Message{},
		Images:    map[string]*ImageRecord{},
		Audio:     map[string]*AudioRecord{},
		Data: Data{
			FileOriginals: map[string]string{},
			Diffs:         map[string]DiffRecord{},
		},
	}
}

var (
	idMu         sync.Mutex
	lastIDMillis int64
)

// NewID returns a 10-byte hex digest (20 chars) of a millisecond timestamp.
// Within one process the timestamp never repeats: a call in the same
// millisecond as the previous one takes the next millisecond instead, so
// ids handed out by one process are distinct. Ids from separate processes
// can still collide.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()
	ms := time.Now().UnixMilli()
	if ms <= lastIDMillis {
		ms = lastIDMillis + 1
	}
	lastIDMillis = ms
	return idFromMillis(ms)
}

func idFromMillis(ms int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d", ms)))
	return hex.EncodeToString(sum[:10])
}

// Store manages session persistence under a configurable chats directory.
// Every public mutator performs a full-file rewrite when the session is
// persistent; there is no incremental journaling.
type Store struct {
	mu       sync.Mutex
	chatsDir string
}

// NewStore creates a Store rooted at chatsDir. The directory is created
// lazily on first write.
func NewStore(chatsDir string) *Store {
	return &Store{chatsDir: chatsDir}
}

// NewChatSession creates a transient (non-persisted) session bound to
// modelName.
func (s *Store) NewChatSession(modelName string) *Session {
	return newSession(NewID(), modelName)
}

// EnablePersistence marks sess persistent and performs the first full save
// under dir (or the store's configured chatsDir if dir is empty).
func (s *Store) EnablePersistence(sess *Session, dir string) error {
	sess.mu.Lock()
	if dir != "" {
		s.mu.Lock()
		s.chatsDir = dir
		s.mu.Unlock()
	}
	sess.Persistent = true
	sess.mu.Unlock()
	return s.Save(sess)
}

func (s *Store) path(id string) string {
	s.mu.Lock()
	dir := s.chatsDir
	s.mu.Unlock()
	return filepath.Join(dir, "chat."+id+".json")
}

// Save performs a full-file rewrite of sess if it is persistent; it is a
// no-op for transient sessions.
func (s *Store) Save(sess *Session) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.saveLocked(sess)
}

func (s *Store) saveLocked(sess *Session) error {
	if !sess.Persistent {
		return nil
	}
	s.mu.Lock()
	dir := s.chatsDir
	s.mu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create chats dir: %w", err)
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return os.WriteFile(s.path(sess.ID), data, 0o644)
}

// Load reads a session by id. It returns (nil, nil) when the file is
// absent; a missing file is not an error.
func (s *Store) Load(id string) (*Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", id, err)
	}
	if sess.Images == nil {
		sess.Images = map[string]*ImageRecord{}
	}
	if sess.Audio == nil {
		sess.Audio = map[string]*AudioRecord{}
	}
	if sess.Data.FileOriginals == nil {
		sess.Data.FileOriginals = map[string]string{}
	}
	if sess.Data.Diffs == nil {
		sess.Data.Diffs = map[string]DiffRecord{}
	}
	return &sess, nil
}

// List returns every persisted session under the store's chats directory,
// most recently saved first. A malformed JSON file is skipped, not fatal.
func (s *Store) List() ([]*Session, error) {
	s.mu.Lock()
	dir := s.chatsDir
	s.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*Session
	modTimes := map[*Session]time.Time{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "chat.") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "chat."), ".json")
		sess, err := s.Load(id)
		if err != nil || sess == nil {
			continue // corrupt entry: skipped without a warning, listing continues
		}
		if info, err := entry.Info(); err == nil {
			modTimes[sess] = info.ModTime()
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return modTimes[out[i]].After(modTimes[out[j]]) // ids are hashes, so order by file mtime
	})
	return out, nil
}

// AddMessage appends m to sess and saves. If m has no CreatedAt it is
// stamped with the current time.
func (s *Store) AddMessage(sess *Session, m Message) error {
	sess.mu.Lock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	sess.Messages = append(sess.Messages, m)
	sess.mu.Unlock()
	return s.Save(sess)
}

// ApplySystemPrompt applies the system-prompt policy:
// if systemPromptFile is set it is re-read fresh and the first message is
// inserted (if absent) or replaced (if its role is system); otherwise, if
// systemPrompt is set, it is inserted only when no system message exists.
func (s *Store) ApplySystemPrompt(sess *Session, systemPrompt, systemPromptFile string) error {
	sess.mu.Lock()
	defer func() {
		sess.mu.Unlock()
		_ = s.Save(sess)
	}()

	if systemPromptFile != "" {
		data, err := os.ReadFile(systemPromptFile)
		if err != nil {
			return fmt.Errorf("read system_prompt_file: %w", err)
		}
		text := string(data)
		if len(sess.Messages) > 0 && sess.Messages[0].Role == "system" {
			sess.Messages[0].Content = text
			return nil
		}
		sess.Messages = append([]Message{{Role: "system", Content: text, CreatedAt: time.Now()}}, sess.Messages...)
		return nil
	}

	if systemPrompt != "" {
		for _, m := range sess.Messages {
			if m.Role == "system" {
				return nil
			}
		}
		sess.Messages = append([]Message{{Role: "system", Content: systemPrompt, CreatedAt: time.Now()}}, sess.Messages...)
	}
	return nil
}

// ClearResponseID clears a stale response_id from the message that owns it
// (used by the Responses dialect's self-healing retry).
func (s *Store) ClearResponseID(sess *Session, responseID string) error {
	sess.mu.Lock()
	found := false
	for i := range sess.Messages {
		if sess.Messages[i].ResponseID == responseID {
			sess.Messages[i].ResponseID = ""
			found = true
		}
	}
	sess.mu.Unlock()
	if !found {
		return nil
	}
	return s.Save(sess)
}
