package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kingrea/nuscr-editor/internal/eventbridge"
	"github.com/kingrea/nuscr-editor/internal/output"
)

// HandleHook dispatches one editor hook. Saves run a check when check-on-save
// is on; opens and focus changes refresh the roles tree. Documents that are
// not nuScr are ignored. Failures become notifications and are never
// returned to the caller.
func (w *Workspace) HandleHook(ctx context.Context, evt eventbridge.Event) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Printf("workspace: hook %s panicked: %v", evt.Type, r)
			w.raise(output.LevelError, fmt.Sprintf("nuScr: %s handler failed: %v", evt.Type, r))
		}
	}()
	if !isNuscrDocument(evt) {
		return
	}
	var err error
	switch evt.Type {
	case eventbridge.TypeDocumentSaved:
		w.Select(evt.Path)
		if !w.checkOnSave() {
			return
		}
		err = w.CheckFile(ctx, evt.Path)
	case eventbridge.TypeDocumentOpened, eventbridge.TypeEditorFocused:
		err = w.UpdateRoles(ctx, evt.Path)
	default:
		return
	}
	if err != nil {
		// already surfaced as a notification by the action itself
		w.logger.Printf("workspace: hook %s %s: %v", evt.Type, evt.Path, err)
	}
}

// Listen feeds hooks from events into HandleHook until ctx ends or the
// channel closes. Hooks run one at a time in arrival order.
func (w *Workspace) Listen(ctx context.Context, events <-chan eventbridge.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			w.HandleHook(ctx, evt)
		}
	}
}

func isNuscrDocument(evt eventbridge.Event) bool {
	if evt.Path == "" {
		return false
	}
	if evt.LanguageID != "" {
		return evt.LanguageID == eventbridge.LanguageNuscr
	}
	return strings.EqualFold(filepath.Ext(evt.Path), ".nuscr")
}
