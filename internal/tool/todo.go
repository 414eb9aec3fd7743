package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dcode-run/agentrt/internal/session"
)

var validTodoStatuses = map[string]bool{
	session.TodoPending:    true,
	session.TodoInProgress: true,
	session.TodoCompleted:  true,
	session.TodoCancelled:  true,
}

type todoWriteArgs struct {
	Merge bool `json:"merge"`
	Todos []struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Content string `json:"content"`
	} `json:"todos"`
}

func todoWriteDef() *Def {
	return &Def{
		Name:        "todo_write",
		Description: "Create or update the session's todo list. In merge mode, items are upserted by id; otherwise the list is replaced.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"merge": map[string]interface{}{"type": "boolean"},
				"todos": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"id":      map[string]interface{}{"type": "string"},
							"status":  map[string]interface{}{"type": "string", "enum": []string{"pending", "in_progress", "completed", "cancelled"}},
							"content": map[string]interface{}{"type": "string"},
						},
						"required": []string{"id", "status", "content"},
					},
				},
			},
			"required": []string{"todos"},
		},
		Handler: todoWriteHandler,
	}
}

func todoWriteHandler(_ context.Context, raw json.RawMessage, tc *Context) (*Result, error) {
	var args todoWriteArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if len(args.Todos) == 0 {
		return nil, fmt.Errorf("todos must contain at least one item")
	}
	for _, t := range args.Todos {
		if !validTodoStatuses[t.Status] {
			return nil, fmt.Errorf("invalid status %q", t.Status)
		}
	}

	if args.Merge {
		order := make([]string, 0, len(tc.Session.Data.Todos))
		byID := map[string]session.Todo{}
		for _, t := range tc.Session.Data.Todos {
			order = append(order, t.ID)
			byID[t.ID] = t
		}
		for _, t := range args.Todos {
			if _, exists := byID[t.ID]; !exists {
				order = append(order, t.ID)
			}
			byID[t.ID] = session.Todo{ID: t.ID, Status: t.Status, Content: t.Content}
		}
		merged := make([]session.Todo, 0, len(order))
		for _, id := range order {
			merged = append(merged, byID[id])
		}
		tc.Session.Data.Todos = merged
	} else {
		replaced := make([]session.Todo, 0, len(args.Todos))
		for _, t := range args.Todos {
			replaced = append(replaced, session.Todo{ID: t.ID, Status: t.Status, Content: t.Content})
		}
		tc.Session.Data.Todos = replaced
	}

	if tc.Store != nil {
		if err := tc.Store.Save(tc.Session); err != nil {
			return nil, err
		}
	}

	return &Result{Payload: map[string]interface{}{
		"success":    true,
		"todo_count": len(tc.Session.Data.Todos),
	}}, nil
}
