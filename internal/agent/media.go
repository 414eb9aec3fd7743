package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/dcode-run/agentrt/internal/provider"
	"github.com/dcode-run/agentrt/internal/session"
)

// MediaProvider is the generation surface the media flows drive;
// *provider.Adapter satisfies it via ImageGenerator.
type MediaProvider interface {
	ImageGenerator(modelID string) provider.MediaGenerator
}

// GenerateImage runs one image-generation round: the prompt (plus any
// reference image assets already in the session) goes to the provider, the
// returned artifacts are persisted as image records, and the round is
// journaled as an image_prompt/image message pair plus a generation-history
// entry.
func (l *Loop) GenerateImage(ctx context.Context, prompt string, referenceImageIDs []string) ([]*session.ImageRecord, error) {
	gen := l.mediaGenerator()
	if gen == nil {
		return nil, fmt.Errorf("model %s cannot generate images", l.Model.ModelID)
	}
	if l.isCancelled() {
		return nil, ErrCancelled
	}

	var refs []provider.MediaBlob
	for _, id := range referenceImageIDs {
		data, err := l.Store.GetImageData(l.Session, id)
		if err != nil {
			return nil, err
		}
		rec, _ := l.Store.GetImage(l.Session, id)
		refs = append(refs, provider.MediaBlob{MimeType: rec.MimeType, Data: data})
	}

	if err := l.Store.AddMessage(l.Session, session.Message{
		Role: "user",
		Block: &session.ContentBlock{
			Type:              session.BlockImagePrompt,
			Prompt:            prompt,
			ReferenceImageIDs: referenceImageIDs,
		},
	}); err != nil {
		return nil, err
	}

	media, err := gen.GenerateImage(ctx, l.Model.ModelID, prompt, refs)
	if err != nil {
		return nil, err
	}

	records := make([]*session.ImageRecord, 0, len(media.Blobs))
	ids := make([]string, 0, len(media.Blobs))
	for _, blob := range media.Blobs {
		rec, err := l.Store.AddImage(l.Session, session.ImageRecord{
			Kind:            "generated",
			MimeType:        blob.MimeType,
			DataB64:         base64.StdEncoding.EncodeToString(blob.Data),
			Provider:        "gemini",
			Prompt:          prompt,
			ReferenceImages: referenceImageIDs,
			RawModelMessage: media.RawModelMessage,
		})
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		ids = append(ids, rec.ID)
	}

	if err := l.Store.AddMessage(l.Session, session.Message{
		Role:    "assistant",
		Content: media.RawModelMessage,
		Block: &session.ContentBlock{
			Type:   session.BlockImage,
			Images: ids,
		},
	}); err != nil {
		return nil, err
	}

	l.Session.Data.GeminiImageHistory = append(l.Session.Data.GeminiImageHistory, session.GeminiImageTurn{
		Prompt:   prompt,
		ImageIDs: ids,
		At:       time.Now(),
	})
	if err := l.Store.Save(l.Session); err != nil {
		return nil, err
	}
	return records, nil
}

// GenerateVideo runs one video-generation round. The finished video is
// persisted in the image asset map (binary payloads never live outside the
// session JSON) and referenced from a video block by id.
func (l *Loop) GenerateVideo(ctx context.Context, prompt string) (*session.ImageRecord, error) {
	gen := l.mediaGenerator()
	if gen == nil {
		return nil, fmt.Errorf("model %s cannot generate video", l.Model.ModelID)
	}
	if l.isCancelled() {
		return nil, ErrCancelled
	}

	if err := l.Store.AddMessage(l.Session, session.Message{
		Role:  "user",
		Block: &session.ContentBlock{Type: session.BlockVideoPrompt, Prompt: prompt},
	}); err != nil {
		return nil, err
	}

	media, err := gen.GenerateVideo(ctx, l.Model.ModelID, prompt)
	if err != nil {
		return nil, err
	}
	blob := media.Blobs[0]

	rec, err := l.Store.AddImage(l.Session, session.ImageRecord{
		Kind:     "generated",
		MimeType: blob.MimeType,
		DataB64:  base64.StdEncoding.EncodeToString(blob.Data),
		Provider: "gemini",
		Prompt:   prompt,
	})
	if err != nil {
		return nil, err
	}

	if err := l.Store.AddMessage(l.Session, session.Message{
		Role:  "assistant",
		Block: &session.ContentBlock{Type: session.BlockVideo, VideoID: rec.ID},
	}); err != nil {
		return nil, err
	}

	l.Session.Data.GeminiVideoHistory = append(l.Session.Data.GeminiVideoHistory, session.GeminiVideoTurn{
		Prompt:  prompt,
		VideoID: rec.ID,
		At:      time.Now(),
	})
	if err := l.Store.Save(l.Session); err != nil {
		return nil, err
	}
	return rec, nil
}

func (l *Loop) mediaGenerator() provider.MediaGenerator {
	mp, ok := l.Provider.(MediaProvider)
	if !ok {
		return nil
	}
	return mp.ImageGenerator(l.Model.ModelID)
}
