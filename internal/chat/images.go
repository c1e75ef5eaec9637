package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/af-corp/chorus/internal/provider"
	"github.com/af-corp/chorus/internal/retrieval"
	"github.com/af-corp/chorus/internal/store"
)

// imageFilePattern finds a filename with any extension the ingestor indexes as an image.
var imageFilePattern = regexp.MustCompile(`(?i)[\w\-. ]+\.(` + strings.Join(retrieval.ImageExtensions(), "|") + `)\b`)

const descriptionPreview = 240

type ImageMatch struct {
	Filename    string  `json:"filename"`
	FileID      string  `json:"file_id,omitempty"`
	URL         string  `json:"url,omitempty"`
	Similarity  float64 `json:"similarity"`
	Description string  `json:"description"`
}

type GeneratedImage struct {
	URL           string `json:"url"`
	Mode          string `json:"mode"`
	SourceFile    string `json:"source_file,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// imageRequest applies per-request settings over the configured defaults.
func imageRequest(prompt, quality, size string, override *ImageSettings) provider.ImageRequest {
	if override != nil {
		if override.Quality != "" {
			quality = override.Quality
		}
		if override.Size != "" {
			size = override.Size
		}
	}
	return provider.ImageRequest{Prompt: prompt, Quality: quality, Size: size}
}

func fileURL(datasetID int64, fileID string) string {
	return fmt.Sprintf("/api/datasets/%d/files/%s/image", datasetID, fileID)
}

func preview(text string) string {
	text = strings.TrimSpace(text)
	if r := []rune(text); len(r) > descriptionPreview {
		return string(r[:descriptionPreview]) + "..."
	}
	return text
}

// selectImages keeps image-derived passages at or above minSimilarity, one per filename, in rank order.
func selectImages(passages []retrieval.Passage, minSimilarity float64, limit int) []retrieval.Passage {
	seen := make(map[string]bool)
	var out []retrieval.Passage
	for _, p := range passages {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !p.ImageDerived() || p.Similarity < minSimilarity {
			continue
		}
		name := p.Filename()
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, p)
	}
	return out
}

func (s *Service) findImage(ctx context.Context, bot Bot, req Request, resp *Response) {
	if !bot.HasDataset() {
		resp.Response = "This bot has no dataset attached, so there are no images to search."
		resp.Debug.Status = StatusNoDataset
		return
	}

	cfg := s.settings().ImageSearch
	passages := s.retrieve(ctx, bot, req.Message, max(resp.RAGCountUsed, cfg.FetchCount))
	resp.Debug.ContextChunks = len(passages)

	hits := selectImages(passages, cfg.MinSimilarity, cfg.MaxResults)
	if len(hits) == 0 {
		resp.Response = "I couldn't find any images in this dataset that match your request."
		resp.Images = []ImageMatch{}
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I found %d image(s) that match your request:", len(hits))
	resp.Images = make([]ImageMatch, 0, len(hits))
	for _, p := range hits {
		m := ImageMatch{
			Filename:    p.Filename(),
			FileID:      p.Metadata[retrieval.MetaFileID],
			Similarity:  p.Similarity,
			Description: preview(p.Text),
		}
		if m.FileID != "" {
			m.URL = fileURL(bot.DatasetID, m.FileID)
		}
		resp.Images = append(resp.Images, m)
		fmt.Fprintf(&b, "\n- %s (%.0f%% match)", m.Filename, p.Similarity*100)
	}
	resp.Response = b.String()
}

// referencedImage finds the stored image file named in message. When several stored names are a
// suffix of the mentioned name the longest wins, so "edit my cat photo.png" resolves "cat photo.png".
func (s *Service) referencedImage(ctx context.Context, bot Bot, message string) *store.DatasetFile {
	if !bot.HasDataset() || s.files == nil {
		return nil
	}
	mention := strings.ToLower(strings.TrimSpace(imageFilePattern.FindString(message)))
	if mention == "" {
		return nil
	}
	files, err := s.files.ListFiles(ctx, bot.DatasetID)
	if err != nil {
		s.logger.Warn("list dataset files failed", "bot_id", bot.ID, "error", err)
		return nil
	}

	var best *store.DatasetFile
	for i := range files {
		f := &files[i]
		if !retrieval.IsImageFile(f.Filename) {
			continue
		}
		name := strings.ToLower(f.Filename)
		if mention != name && !strings.HasSuffix(mention, " "+name) {
			continue
		}
		if best == nil || len(f.Filename) > len(best.Filename) {
			best = f
		}
	}
	return best
}

func (s *Service) generateImage(ctx context.Context, bot Bot, req Request, resp *Response) {
	cfg := s.settings()
	imgReq := imageRequest(req.Message, cfg.ImageQuality, cfg.ImageSize, req.ImageSettings)

	mode := "generate"
	var source string
	if f := s.referencedImage(ctx, bot, req.Message); f != nil {
		data, err := s.blobs.ReadUpload(f.StoredName)
		if err != nil {
			s.logger.Warn("reference image unreadable, generating from scratch",
				"bot_id", bot.ID, "filename", f.Filename, "error", err)
		} else {
			imgReq.Reference = data
			imgReq.ReferenceFilename = f.Filename
			imgReq.ReferenceMIME = retrieval.ImageMIME(f.Filename, data)
			mode, source = "edit", f.Filename
		}
	}

	img, err := s.images.GenerateImage(ctx, imgReq)
	if err != nil {
		s.logger.Warn("image generation failed", "bot_id", bot.ID, "mode", mode, "error", err)
		s.fail(resp, "Sorry, I couldn't generate that image. Please try again later.", err)
		return
	}
	name, err := s.blobs.SaveGenerated(img.Data, img.MIMEType)
	if err != nil {
		s.logger.Error("saving generated image failed", "bot_id", bot.ID, "error", err)
		s.fail(resp, "Sorry, the image was generated but could not be saved. Please try again.", err)
		return
	}

	resp.GeneratedImage = &GeneratedImage{
		URL:           "/api/generated/" + name,
		Mode:          mode,
		SourceFile:    source,
		RevisedPrompt: img.RevisedPrompt,
	}
	if mode == "edit" {
		resp.Response = fmt.Sprintf("Here is the edited version of %s.", source)
	} else {
		resp.Response = "Here is the image you asked for."
	}
	if img.RevisedPrompt != "" {
		resp.Response += "\n\nPrompt used: " + img.RevisedPrompt
	}
}
