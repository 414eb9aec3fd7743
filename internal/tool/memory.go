package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dcode-run/agentrt/internal/session"
)

type updateMemoryArgs struct {
	Action           string `json:"action"` // create|update|delete
	ID               string `json:"id,omitempty"`
	Title            string `json:"title,omitempty"`
	KnowledgeToStore string `json:"knowledge_to_store,omitempty"`
}

func updateMemoryDef() *Def {
	return &Def{
		Name:        "update_memory",
		Description: "Create, update, or delete a persistent memory entry stored in this session.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"action":             map[string]interface{}{"type": "string", "enum": []string{"create", "update", "delete"}},
				"id":                 map[string]interface{}{"type": "string"},
				"title":              map[string]interface{}{"type": "string"},
				"knowledge_to_store": map[string]interface{}{"type": "string"},
			},
			"required": []string{"action"},
		},
		Handler: updateMemoryHandler,
	}
}

func updateMemoryHandler(_ context.Context, raw json.RawMessage, tc *Context) (*Result, error) {
	var args updateMemoryArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	switch args.Action {
	case "create":
		if args.Title == "" || args.KnowledgeToStore == "" {
			return nil, fmt.Errorf("title and knowledge_to_store are required to create a memory")
		}
		id := fmt.Sprintf("mem_%d_%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
		now := time.Now()
		tc.Session.Data.Memories = append(tc.Session.Data.Memories, session.Memory{
			ID:               id,
			Title:            args.Title,
			KnowledgeToStore: args.KnowledgeToStore,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		if tc.Store != nil {
			if err := tc.Store.Save(tc.Session); err != nil {
				return nil, err
			}
		}
		return &Result{Payload: map[string]interface{}{"success": true, "id": id}}, nil

	case "update":
		if args.ID == "" {
			return nil, fmt.Errorf("id is required to update a memory")
		}
		found := false
		for i := range tc.Session.Data.Memories {
			if tc.Session.Data.Memories[i].ID == args.ID {
				if args.Title != "" {
					tc.Session.Data.Memories[i].Title = args.Title
				}
				if args.KnowledgeToStore != "" {
					tc.Session.Data.Memories[i].KnowledgeToStore = args.KnowledgeToStore
				}
				tc.Session.Data.Memories[i].UpdatedAt = time.Now()
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("memory %s not found", args.ID)
		}
		if tc.Store != nil {
			if err := tc.Store.Save(tc.Session); err != nil {
				return nil, err
			}
		}
		return &Result{Payload: map[string]interface{}{"success": true}}, nil

	case "delete":
		if args.ID == "" {
			return nil, fmt.Errorf("id is required to delete a memory")
		}
		kept := tc.Session.Data.Memories[:0]
		found := false
		for _, m := range tc.Session.Data.Memories {
			if m.ID == args.ID {
				found = true
				continue
			}
			kept = append(kept, m)
		}
		if !found {
			return nil, fmt.Errorf("memory %s not found", args.ID)
		}
		tc.Session.Data.Memories = kept
		if tc.Store != nil {
			if err := tc.Store.Save(tc.Session); err != nil {
				return nil, err
			}
		}
		return &Result{Payload: map[string]interface{}{"success": true}}, nil

	default:
		return nil, fmt.Errorf("invalid action %q", args.Action)
	}
}
