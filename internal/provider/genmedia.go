package provider

import (
	"context"
	"strings"
	"time"

	"google.golang.org/genai"
)

// MediaBlob is a generated or reference binary artifact passed between the
// runtime and a generation-capable dialect.
type MediaBlob struct {
	MimeType string
	Data     []byte
}

// GeneratedMedia is one generation round's output: the artifacts plus the
// model's accompanying text, kept verbatim for the session journal.
type GeneratedMedia struct {
	Blobs           []MediaBlob
	RawModelMessage string
}

// MediaGenerator is implemented by dialects that can produce images or
// videos across one or more provider calls. Only the Gemini dialect does.
type MediaGenerator interface {
	GenerateImage(ctx context.Context, model, prompt string, refs []MediaBlob) (*GeneratedMedia, error)
	GenerateVideo(ctx context.Context, model, prompt string) (*GeneratedMedia, error)
}

// ImageGenerator returns the adapter's media-capable dialect for modelID,
// or nil when that model cannot generate media.
func (a *Adapter) ImageGenerator(modelID string) MediaGenerator {
	if ResolveDialect(modelID) == DialectGemini {
		return a.gemini
	}
	return nil
}

// GenerateImage runs one image-generation round: the prompt plus any
// reference images go up, inline image parts come back.
func (d *GeminiDialect) GenerateImage(ctx context.Context, model, prompt string, refs []MediaBlob) (*GeneratedMedia, error) {
	if err := d.ensureClient(ctx); err != nil {
		return nil, err
	}

	parts := []*genai.Part{{Text: prompt}}
	for _, ref := range refs {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{
			MIMEType: ref.MimeType,
			Data:     ref.Data,
		}})
	}
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	resp, err := d.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, ClassifyError(err, 0, "")
	}

	out := &GeneratedMedia{}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				out.Blobs = append(out.Blobs, MediaBlob{
					MimeType: part.InlineData.MIMEType,
					Data:     part.InlineData.Data,
				})
			}
		}
	}
	out.RawModelMessage = text.String()

	if len(out.Blobs) == 0 {
		return nil, &ClassifiedError{
			Type:    ErrorTypeAPIError,
			Message: "model returned no image data",
		}
	}
	return out, nil
}

// videoPollInterval paces the long-running-operation poll loop.
const videoPollInterval = 5 * time.Second

// GenerateVideo starts a Veo long-running operation and polls it to
// completion, downloading the finished video bytes.
func (d *GeminiDialect) GenerateVideo(ctx context.Context, model, prompt string) (*GeneratedMedia, error) {
	if err := d.ensureClient(ctx); err != nil {
		return nil, err
	}

	op, err := d.client.Models.GenerateVideos(ctx, model, prompt, nil, nil)
	if err != nil {
		return nil, ClassifyError(err, 0, "")
	}

	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(videoPollInterval):
		}
		op, err = d.client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return nil, ClassifyError(err, 0, "")
		}
	}

	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		return nil, &ClassifiedError{
			Type:    ErrorTypeAPIError,
			Message: "video operation finished with no output",
		}
	}

	video := op.Response.GeneratedVideos[0].Video
	if video == nil {
		return nil, &ClassifiedError{Type: ErrorTypeAPIError, Message: "video operation returned an empty video"}
	}
	if len(video.VideoBytes) == 0 {
		if _, err := d.client.Files.Download(ctx, video, nil); err != nil {
			return nil, ClassifyError(err, 0, "")
		}
	}
	if len(video.VideoBytes) == 0 {
		return nil, &ClassifiedError{Type: ErrorTypeAPIError, Message: "video download produced no bytes"}
	}

	mime := video.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}
	return &GeneratedMedia{
		Blobs: []MediaBlob{{MimeType: mime, Data: video.VideoBytes}},
	}, nil
}
