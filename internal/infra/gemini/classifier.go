package gemini

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/CohenShirel/SkyLens/internal/domain/entity"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

// analysisInstruction is appended once after the evidence sequence. The
// model must answer in the strict three-field form the verdict parser
// expects.
const analysisInstruction = `You are a security analyst reviewing an ordered sequence of drone ` +
	`surveillance frames. Each frame is followed by its capture timestamp and GPS ` +
	`coordinates. Examine the full sequence for public-safety concerns:

1. Visible weapons (firearms, knives) not carried by clearly uniformed police or military personnel.
2. Unattended objects (bags, boxes, packages) left alone in a public area.
3. Clear, immediate threatening behavior.

Strict output format, no deviations and no extra text:
- Threat found:  True, <object>, <short explanation>
- No threat:     False, '', ''

If uncertain, answer: False, '', ''`

type Config struct {
	APIKey string
	Model  string
}

// Classifier sends a group's evidence sequence to Gemini and parses the
// verdict. Credentials are checked at construction so a missing key
// fails before any sampling work is spent.
type Classifier struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewClassifier(ctx context.Context, cfg Config, logger *zap.Logger) (*Classifier, error) {
	if cfg.APIKey == "" {
		return nil, entity.ErrMissingAPIKey
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &Classifier{client: client, model: model, logger: logger}, nil
}

func (c *Classifier) Classify(ctx context.Context, group entity.Group) (entity.Verdict, error) {
	parts := make([]*genai.Part, 0, len(group)*2+1)
	for i, ev := range group {
		data, err := os.ReadFile(ev.FramePath)
		if err != nil {
			return entity.Verdict{}, fmt.Errorf("read frame %s: %w", ev.FramePath, err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, "image/jpeg"))
		parts = append(parts, genai.NewPartFromText(fmt.Sprintf(
			"Frame %d - Timestamp: %s, Lat: %g, Lon: %g, Alt: %g",
			i+1, ev.Timestamp, ev.Latitude, ev.Longitude, ev.Altitude,
		)))
	}
	parts = append(parts, genai.NewPartFromText(analysisInstruction))

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0)),
	}

	resp, err := c.client.Models.GenerateContent(
		ctx,
		c.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		config,
	)
	if err != nil {
		if isRateLimited(err) {
			return entity.Verdict{}, fmt.Errorf("%w: %v", entity.ErrRateLimited, err)
		}
		return entity.Verdict{}, fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	c.logger.Debug("classifier response", zap.String("raw", raw))

	verdict, err := ParseVerdict(raw)
	if err != nil {
		return entity.Verdict{}, err
	}
	if verdict.IsSuspicious {
		verdict.Images = group.FramePaths()
	}
	return verdict, nil
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "429")
}
